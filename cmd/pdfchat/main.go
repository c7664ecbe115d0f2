package main

import "github.com/markdave123-py/pdfchat/internal/cli"

func main() {
	cli.Execute()
}
