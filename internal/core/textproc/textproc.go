// Package textproc derives the normalized text and keyword list stored next
// to each indexed chunk.
package textproc

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

// Normalize lowercases text, replaces anything that is not an ASCII letter
// with a space, drops English stop words and stems what is left.
func Normalize(text string) string {
	return strings.Join(tokens(text), " ")
}

// Keywords returns the distinct normalized tokens in order of first use.
func Keywords(text string) []string {
	toks := tokens(text)
	seen := make(map[string]struct{}, len(toks))
	out := make([]string, 0, len(toks))
	for _, t := range toks {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func tokens(text string) []string {
	lowered := strings.Map(func(r rune) rune {
		r = unicode.ToLower(r)
		if r >= 'a' && r <= 'z' {
			return r
		}
		return ' '
	}, text)

	fields := strings.Fields(lowered)
	out := fields[:0]
	for _, w := range fields {
		if len(w) < 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if s := english.Stem(w, false); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var stopWords = func() map[string]struct{} {
	words := strings.Fields(`
		i me my myself we our ours ourselves you your yours yourself yourselves
		he him his himself she her hers herself it its itself they them their
		theirs themselves what which who whom this that these those am is are
		was were be been being have has had having do does did doing a an the
		and but if or because as until while of at by for with about against
		between into through during before after above below to from up down
		in out on off over under again further then once here there when where
		why how all any both each few more most other some such no nor not only
		own same so than too very s t can will just don should now d ll m o re
		ve y ain aren couldn didn doesn hadn hasn haven isn ma mightn mustn
		needn shan shouldn wasn weren won wouldn`)
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
