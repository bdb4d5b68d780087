package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/honey991127/char-knowledge/internal/memory"
)

// SQLiteRepository implements Repository on a single SQLite database:
// one row per conversation plus its facts, store order preserved by an
// explicit position column.
type SQLiteRepository struct {
	db     *sql.DB
	dbPath string
}

// SQLiteConfig holds configuration for NewSQLite.
type SQLiteConfig struct {
	// DBPath locates the database file; ":memory:" for tests.
	DBPath string
}

// NewSQLite opens (creating if needed) the database and runs migrations.
func NewSQLite(cfg SQLiteConfig) (*SQLiteRepository, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	r := &SQLiteRepository{db: db, dbPath: cfg.DBPath}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return r, nil
}

// migrate creates the schema if it does not exist.
func (r *SQLiteRepository) migrate() error {
	ddl := `
CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	version       INTEGER NOT NULL,
	owner_char_id TEXT,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS facts (
	id              TEXT NOT NULL,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	position        INTEGER NOT NULL,
	type            TEXT NOT NULL,
	value           TEXT NOT NULL,
	status          TEXT NOT NULL,
	confidence      REAL NOT NULL,
	tags            TEXT NOT NULL,
	source          TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	last_seen_at    TEXT NOT NULL,
	PRIMARY KEY (conversation_id, id)
);

CREATE INDEX IF NOT EXISTS idx_facts_order ON facts(conversation_id, position);
`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Load returns the record for the conversation, or a fresh default
// record when none has been saved yet.
func (r *SQLiteRepository) Load(ctx context.Context, conversationID string) (*memory.Record, error) {
	rec := memory.NewRecord()

	var owner sql.NullString
	var updatedAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT version, owner_char_id, updated_at FROM conversations WHERE id = ?`,
		conversationID,
	).Scan(&rec.Version, &owner, &updatedAt)
	if err == sql.ErrNoRows {
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading conversation %s: %w", conversationID, err)
	}
	if owner.Valid {
		rec.OwnerCharID = &owner.String
	}
	if updatedAt > 0 {
		rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, type, value, status, confidence, tags, source, created_at, last_seen_at
		 FROM facts WHERE conversation_id = ? ORDER BY position`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("loading facts for %s: %w", conversationID, err)
	}
	defer rows.Close()

	for rows.Next() {
		f := &memory.Fact{}
		var factType, status, tagsJSON, createdAt, lastSeenAt string
		if err := rows.Scan(&f.ID, &factType, &f.Value, &status, &f.Confidence,
			&tagsJSON, &f.Source, &createdAt, &lastSeenAt); err != nil {
			return nil, fmt.Errorf("scanning fact row: %w", err)
		}
		f.Type = memory.FactType(factType)
		f.Status = memory.Status(status)
		if tagsJSON != "" {
			if err := json.Unmarshal([]byte(tagsJSON), &f.Tags); err != nil {
				return nil, fmt.Errorf("decoding tags for fact %s: %w", f.ID, err)
			}
		}
		f.CreatedAt = parseISO(createdAt)
		f.LastSeenAt = parseISO(lastSeenAt)
		rec.Facts = append(rec.Facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating facts for %s: %w", conversationID, err)
	}
	return rec, nil
}

// Save writes the whole record transactionally, replacing the stored
// fact list. Records are small (tens of facts); rewriting keeps store
// order authoritative without diffing.
func (r *SQLiteRepository) Save(ctx context.Context, conversationID string, rec *memory.Record) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning save tx: %w", err)
	}
	defer tx.Rollback()

	version := rec.Version
	if version == 0 {
		version = memory.SchemaVersion
	}
	var owner any
	if rec.OwnerCharID != nil {
		owner = *rec.OwnerCharID
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, version, owner_char_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET version = excluded.version,
		   owner_char_id = excluded.owner_char_id,
		   updated_at = excluded.updated_at`,
		conversationID, version, owner, rec.UpdatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("upserting conversation %s: %w", conversationID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM facts WHERE conversation_id = ?`, conversationID,
	); err != nil {
		return fmt.Errorf("clearing facts for %s: %w", conversationID, err)
	}

	for i, f := range rec.Facts {
		tagsJSON, err := json.Marshal(f.Tags)
		if err != nil {
			return fmt.Errorf("encoding tags for fact %s: %w", f.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO facts (id, conversation_id, position, type, value, status,
			   confidence, tags, source, created_at, last_seen_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, conversationID, i, string(f.Type), f.Value, string(f.Status),
			f.Confidence, string(tagsJSON), f.Source,
			formatISO(f.CreatedAt), formatISO(f.LastSeenAt),
		); err != nil {
			return fmt.Errorf("inserting fact %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing save for %s: %w", conversationID, err)
	}
	return nil
}

// Delete removes the conversation and its facts.
func (r *SQLiteRepository) Delete(ctx context.Context, conversationID string) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE id = ?`, conversationID,
	); err != nil {
		return fmt.Errorf("deleting conversation %s: %w", conversationID, err)
	}
	return nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

const isoFormat = "2006-01-02T15:04:05.000Z"

func formatISO(t time.Time) string {
	return t.UTC().Format(isoFormat)
}

func parseISO(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, isoFormat} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}
