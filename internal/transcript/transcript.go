// Package transcript implements append-only storage for completed chat
// exchanges, used for later session recovery. Only COMPLETED pipeline runs
// ever reach Append; CANCELLED and BLOCKED requests never do.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/pearlgate/gateway/pkg/models"
)

// Store appends completed exchanges. Implementations must be safe for
// concurrent use; pearlgate.internal/pipeline.TranscriptStore is satisfied
// by any Store here.
type Store interface {
	Append(ctx context.Context, entry models.TranscriptEntry) error
}

// Open builds a Store for driver ("sqlite" or "postgres") against dsn. An
// empty driver disables transcript storage entirely (nil, nil).
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "":
		return nil, nil
	case "sqlite":
		return newSQLStore("sqlite", dsn, sqliteSchema)
	case "postgres":
		return newSQLStore("postgres", dsn, postgresSchema)
	default:
		return nil, fmt.Errorf("transcript: unsupported driver %q", driver)
	}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id TEXT PRIMARY KEY,
	session_id TEXT,
	agent_id TEXT,
	messages TEXT NOT NULL,
	response TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_agent ON transcripts(agent_id);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS transcripts (
	id TEXT PRIMARY KEY,
	session_id TEXT,
	agent_id TEXT,
	messages JSONB NOT NULL,
	response TEXT NOT NULL,
	prompt_tokens INTEGER NOT NULL,
	completion_tokens INTEGER NOT NULL,
	total_tokens INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id);
CREATE INDEX IF NOT EXISTS idx_transcripts_agent ON transcripts(agent_id);
`

// sqlStore is shared by the sqlite and postgres drivers: the wire format and
// queries only differ in placeholder syntax ($1 vs ?) and schema dialect.
type sqlStore struct {
	db        *sql.DB
	driver    string
	stmtAppend *sql.Stmt
}

func newSQLStore(driver, dsn, schema string) (*sqlStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript: open %s: %w", driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: ping %s: %w", driver, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: create schema: %w", err)
	}

	query := "INSERT INTO transcripts (id, session_id, agent_id, messages, response, prompt_tokens, completion_tokens, total_tokens, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	if driver == "postgres" {
		query = "INSERT INTO transcripts (id, session_id, agent_id, messages, response, prompt_tokens, completion_tokens, total_tokens, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)"
	}
	stmt, err := db.Prepare(query)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("transcript: prepare insert: %w", err)
	}

	return &sqlStore{db: db, driver: driver, stmtAppend: stmt}, nil
}

// Append implements Store.
func (s *sqlStore) Append(ctx context.Context, entry models.TranscriptEntry) error {
	messages, err := json.Marshal(entry.Messages)
	if err != nil {
		return fmt.Errorf("transcript: marshal messages: %w", err)
	}

	_, err = s.stmtAppend.ExecContext(ctx,
		uuid.NewString(),
		entry.SessionID,
		entry.AgentID,
		messages,
		entry.Response,
		entry.Usage.PromptTokens,
		entry.Usage.CompletionTokens,
		entry.Usage.TotalTokens,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("transcript: append: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *sqlStore) Close() error {
	if s.stmtAppend != nil {
		_ = s.stmtAppend.Close()
	}
	return s.db.Close()
}
