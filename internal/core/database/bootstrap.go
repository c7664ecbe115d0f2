package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log"
	"time"
)

//go:embed scripts/*.sql
var bootstrapFS embed.FS

const schemaVersion = 1

// EnsureBootstrapped creates the schema unless the meta table already records
// the current version. The scripts are idempotent, so a partial earlier run
// is simply repeated.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, d dialect) error {
	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var n int
	err := db.QueryRowContext(ctxBoot, d.rebind(`SELECT COUNT(*) FROM pdfchat_meta WHERE version = $1`), schemaVersion).Scan(&n)
	if err == nil && n > 0 {
		log.Printf("database: schema version %d already present", schemaVersion)
		return nil
	}

	return runBootstrap(ctxBoot, db, d)
}

func runBootstrap(ctx context.Context, db *sql.DB, d dialect) error {
	script := "scripts/" + d.name + ".sql"
	sqlBytes, err := bootstrapFS.ReadFile(script)
	if err != nil {
		return fmt.Errorf("read %s: %w", script, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	log.Printf("database: bootstrapped %s schema version %d", d.name, schemaVersion)
	return nil
}
