package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/markdave123-py/pdfchat/internal/config"
)

const shutdownTimeout = 15 * time.Second

var ErrMissingSecret = errors.New("JWT_SECRET must be set")

// Run serves the HTTP API and the ingestion workers until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	if cfg.JWTSecret == "" {
		return ErrMissingSecret
	}

	application, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	application.StartWorkers(workerCtx)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- application.Server.Start()
	}()

	select {
	case err = <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Println("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return application.Server.Shutdown(shutdownCtx)
}
