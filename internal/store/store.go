// Package store persists per-conversation memory records. The Repository
// interface is the only way the engine reaches storage; implementations
// cover SQLite for durable hosts and an in-memory map for tests and
// embedding hosts that persist records themselves.
package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/honey991127/char-knowledge/internal/memory"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.charknowledge/memory.db"

// Repository loads and saves one opaque record per conversation.
//
// Load never fails on an unknown conversation: the record is created
// lazily with defaults and materializes on the first Save. The in-memory
// record stays the source of truth between saves; a failed Save must not
// roll it back.
type Repository interface {
	Load(ctx context.Context, conversationID string) (*memory.Record, error)
	Save(ctx context.Context, conversationID string, rec *memory.Record) error
	Delete(ctx context.Context, conversationID string) error
	Close() error
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
