// Package store persists per-profile provider settings. The in-memory
// implementation serves local development and tests; SQLite is used when a
// durable file is configured.
package store

import (
	"context"

	"github.com/agentoven/aria/pkg/models"
)

// Store is the settings storage used by the API and the CLI.
type Store interface {
	SettingsStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error
}

// ── Settings Store ──────────────────────────────────────────

// SettingsStore keeps one StoredConfiguration per profile. A missing
// configuration is valid and reported as *ErrNotFound.
type SettingsStore interface {
	GetProviderConfig(ctx context.Context, profile string) (*models.StoredConfiguration, error)
	PutProviderConfig(ctx context.Context, profile string, cfg *models.StoredConfiguration) error
	DeleteProviderConfig(ctx context.Context, profile string) error
	ListProviderConfigs(ctx context.Context) (map[string]*models.StoredConfiguration, error)
}

// DefaultProfile is used when a request names no profile.
const DefaultProfile = "default"

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is an *ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(*ErrNotFound)
	return ok
}
