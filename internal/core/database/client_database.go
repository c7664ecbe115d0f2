package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/markdave123-py/pdfchat/internal/config"
	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type dialect struct {
	name string
}

// rebind turns $N placeholders into ?N for SQLite.
func (d dialect) rebind(q string) string {
	if d.name == DriverSQLite {
		return strings.ReplaceAll(q, "$", "?")
	}
	return q
}

type DatabaseClient struct {
	db      *sql.DB
	dialect dialect
}

func NewDatabaseClient(ctx context.Context, cfg *config.Config) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	var (
		conn *sql.DB
		d    dialect
		err  error
	)
	switch cfg.DBDriver {
	case DriverPostgres, "":
		d = dialect{name: DriverPostgres}
		conn, err = openPostgres(cfg)
	case DriverSQLite:
		d = dialect{name: DriverSQLite}
		conn, err = openSQLite(cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, conn, d); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	log.Printf("database: connected (%s)", d.name)
	return &DatabaseClient{db: conn, dialect: d}, nil
}

func openPostgres(cfg *config.Config) (*sql.DB, error) {
	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(30 * time.Minute)
	conn.SetConnMaxIdleTime(10 * time.Minute)
	return conn, nil
}

func openSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	return conn, nil
}

// DB exposes the pool so the pgvector index can share it.
func (c *DatabaseClient) DB() *sql.DB { return c.db }

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Users

func (c *DatabaseClient) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO users (id, email, password_hash, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := c.db.ExecContext(ctx, c.dialect.rebind(q), user.ID, user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil && c.isUniqueViolation(err) {
		return core.ErrUserExists
	}
	return err
}

// GetUserByEmail returns nil, nil when no user has that email.
func (c *DatabaseClient) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `
		SELECT id, email, password_hash, created_at
		FROM users WHERE email = $1
	`
	var u models.User
	err := c.db.QueryRowContext(ctx, c.dialect.rebind(q), email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Documents

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	const q = `
		INSERT INTO documents
			(id, user_id, file_name, storage_path, content_type, is_processed, chunk_count, created_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := c.db.ExecContext(ctx, c.dialect.rebind(q),
		doc.ID, doc.UserID, doc.FileName, doc.StoragePath, doc.ContentType, doc.Processed, doc.ChunkCount, doc.CreatedAt)
	return err
}

const documentColumns = `id, user_id, file_name, storage_path, content_type, is_processed, chunk_count, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner) (*models.Document, error) {
	var d models.Document
	if err := s.Scan(&d.ID, &d.UserID, &d.FileName, &d.StoragePath, &d.ContentType, &d.Processed, &d.ChunkCount, &d.CreatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(c.db.QueryRowContext(ctx, c.dialect.rebind(q), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrDocumentNotFound
	}
	return d, err
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := c.db.QueryContext(ctx, c.dialect.rebind(q), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// Chat messages

const messageColumns = `id, document_id, user_id, role, content, sources, upvotes, downvotes, created_at`

func scanMessage(s rowScanner) (*models.ChatMessage, error) {
	var (
		m       models.ChatMessage
		sources string
	)
	if err := s.Scan(&m.ID, &m.DocumentID, &m.UserID, &m.Role, &m.Content, &sources, &m.Upvotes, &m.Downvotes, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Sources = []models.Source{}
	if sources != "" {
		if err := json.Unmarshal([]byte(sources), &m.Sources); err != nil {
			return nil, fmt.Errorf("decode sources of message %s: %w", m.ID, err)
		}
	}
	return &m, nil
}

func (c *DatabaseClient) CreateChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	if msg == nil {
		return errors.New("nil chat message")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Sources == nil {
		msg.Sources = []models.Source{}
	}
	sources, err := json.Marshal(msg.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	q := `INSERT INTO chat_messages (` + messageColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = c.db.ExecContext(ctx, c.dialect.rebind(q),
		msg.ID, msg.DocumentID, msg.UserID, msg.Role, msg.Content, string(sources), msg.Upvotes, msg.Downvotes, msg.CreatedAt)
	return err
}

func (c *DatabaseClient) GetChatMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	return c.getChatMessage(ctx, c.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *DatabaseClient) getChatMessage(ctx context.Context, q querier, id string) (*models.ChatMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages WHERE id = $1`
	m, err := scanMessage(q.QueryRowContext(ctx, c.dialect.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrMessageNotFound
	}
	return m, err
}

// ListChatMessages returns the conversation oldest first. With limit > 0 only
// the most recent limit messages are returned.
func (c *DatabaseClient) ListChatMessages(ctx context.Context, documentID, userID string, limit int) ([]models.ChatMessage, error) {
	q := `SELECT ` + messageColumns + ` FROM chat_messages WHERE document_id = $1 AND user_id = $2`
	args := []any{documentID, userID}
	if limit > 0 {
		q += ` ORDER BY created_at DESC, id DESC LIMIT $3`
		args = append(args, limit)
	} else {
		q += ` ORDER BY created_at ASC, id ASC`
	}

	rows, err := c.db.QueryContext(ctx, c.dialect.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ChatMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if limit > 0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func (c *DatabaseClient) DeleteChatMessages(ctx context.Context, documentID, userID string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const votesQ = `
		DELETE FROM votes WHERE message_id IN (
			SELECT id FROM chat_messages WHERE document_id = $1 AND user_id = $2
		)`
	if _, err := tx.ExecContext(ctx, c.dialect.rebind(votesQ), documentID, userID); err != nil {
		return fmt.Errorf("delete votes: %w", err)
	}
	const msgsQ = `DELETE FROM chat_messages WHERE document_id = $1 AND user_id = $2`
	if _, err := tx.ExecContext(ctx, c.dialect.rebind(msgsQ), documentID, userID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return tx.Commit()
}

// CastVote records the user's vote on a message and returns the message with
// updated counters. Repeating a vote is a no-op; switching it moves the count.
func (c *DatabaseClient) CastVote(ctx context.Context, vote *models.Vote) (*models.ChatMessage, error) {
	if vote == nil {
		return nil, errors.New("nil vote")
	}
	if vote.VoteType != models.VoteUp && vote.VoteType != models.VoteDown {
		return nil, fmt.Errorf("invalid vote type %q", vote.VoteType)
	}
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = time.Now().UTC()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := c.getChatMessage(ctx, tx, vote.MessageID); err != nil {
		return nil, err
	}

	var previous string
	err = tx.QueryRowContext(ctx,
		c.dialect.rebind(`SELECT vote_type FROM votes WHERE user_id = $1 AND message_id = $2`),
		vote.UserID, vote.MessageID,
	).Scan(&previous)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		previous = ""
	case err != nil:
		return nil, fmt.Errorf("load vote: %w", err)
	}

	if previous != vote.VoteType {
		if previous == "" {
			const q = `INSERT INTO votes (user_id, message_id, vote_type, created_at) VALUES ($1, $2, $3, $4)`
			if _, err := tx.ExecContext(ctx, c.dialect.rebind(q), vote.UserID, vote.MessageID, vote.VoteType, vote.CreatedAt); err != nil {
				return nil, fmt.Errorf("insert vote: %w", err)
			}
		} else {
			const q = `UPDATE votes SET vote_type = $3, created_at = $4 WHERE user_id = $1 AND message_id = $2`
			if _, err := tx.ExecContext(ctx, c.dialect.rebind(q), vote.UserID, vote.MessageID, vote.VoteType, vote.CreatedAt); err != nil {
				return nil, fmt.Errorf("update vote: %w", err)
			}
		}

		up, down := counterDelta(previous, vote.VoteType)
		const q = `UPDATE chat_messages SET upvotes = upvotes + $2, downvotes = downvotes + $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, c.dialect.rebind(q), vote.MessageID, up, down); err != nil {
			return nil, fmt.Errorf("update counters: %w", err)
		}
	}

	msg, err := c.getChatMessage(ctx, tx, vote.MessageID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit vote: %w", err)
	}
	return msg, nil
}

func counterDelta(previous, next string) (up, down int) {
	switch previous {
	case models.VoteUp:
		up--
	case models.VoteDown:
		down--
	}
	switch next {
	case models.VoteUp:
		up++
	case models.VoteDown:
		down++
	}
	return up, down
}

var _ core.DbClient = (*DatabaseClient)(nil)
