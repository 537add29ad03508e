package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/pearlgate/gateway/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	tags TEXT,
	embedding BLOB,
	confidence REAL,
	created_at DATETIME NOT NULL,
	accessed_at DATETIME,
	access_count INTEGER NOT NULL DEFAULT 0,
	expires_at DATETIME,
	source_session TEXT
);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(type);
`

// SQLiteStore implements Store against a local SQLite database, comparing
// embeddings in Go rather than through a vector extension (spec §4.5 notes
// this backend is expected to scale to a single agent's memory set, not a
// cross-tenant corpus).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) a SQLiteStore at dsn, e.g.
// "pearlgate-memory.db" or ":memory:" for tests.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("memory: open sqlite: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Insert persists a new memory, assigning it an ID if unset.
func (s *SQLiteStore) Insert(ctx context.Context, m *models.Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("memory: marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, agent_id, type, content, tags, embedding, confidence, created_at, accessed_at, access_count, expires_at, source_session)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AgentID, string(m.Type), m.Content, string(tags), encodeEmbedding(m.Embedding),
		m.Confidence, m.CreatedAt, m.AccessedAt, m.AccessCount, m.ExpiresAt, m.SourceSession,
	)
	if err != nil {
		return fmt.Errorf("memory: insert: %w", err)
	}
	return nil
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, filter models.MemoryFilter) ([]*models.Memory, error) {
	query := "SELECT id, agent_id, type, content, tags, embedding, confidence, created_at, accessed_at, access_count, expires_at, source_session FROM memories WHERE agent_id = ?"
	args := []any{filter.AgentID}

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += " AND type IN (" + strings.Join(placeholders, ",") + ")"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("memory: query: %w", err)
	}
	defer rows.Close()

	var out []*models.Memory
	for rows.Next() {
		m, embeddingBlob, tagsJSON, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		m.Embedding = decodeEmbedding(embeddingBlob)
		if tagsJSON != "" {
			_ = json.Unmarshal([]byte(tagsJSON), &m.Tags)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecordAccess implements Store.
func (s *SQLiteStore) RecordAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	args = append(args, time.Now().UTC())
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := "UPDATE memories SET accessed_at = ?, access_count = access_count + 1 WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("memory: record access: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMemory(rows *sql.Rows) (*models.Memory, []byte, string, error) {
	var m models.Memory
	var typ string
	var tagsJSON sql.NullString
	var embeddingBlob []byte
	var confidence sql.NullFloat64
	var accessedAt sql.NullTime
	var expiresAt sql.NullTime
	var sourceSession sql.NullString

	err := rows.Scan(&m.ID, &m.AgentID, &typ, &m.Content, &tagsJSON, &embeddingBlob,
		&confidence, &m.CreatedAt, &accessedAt, &m.AccessCount, &expiresAt, &sourceSession)
	if err != nil {
		return nil, nil, "", fmt.Errorf("memory: scan: %w", err)
	}
	m.Type = models.MemoryType(typ)
	if confidence.Valid {
		m.Confidence = &confidence.Float64
	}
	if accessedAt.Valid {
		m.AccessedAt = &accessedAt.Time
	}
	if expiresAt.Valid {
		m.ExpiresAt = &expiresAt.Time
	}
	m.SourceSession = sourceSession.String
	return &m, embeddingBlob, tagsJSON.String, nil
}

// encodeEmbedding packs a float32 vector as little-endian IEEE-754 bytes.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

// decodeEmbedding is encodeEmbedding's inverse.
func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}
