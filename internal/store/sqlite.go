package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agentoven/aria/pkg/models"
)

const settingsSchema = `CREATE TABLE IF NOT EXISTS provider_settings (
	profile     TEXT PRIMARY KEY,
	provider    TEXT NOT NULL,
	api_key     TEXT NOT NULL DEFAULT '',
	model       TEXT NOT NULL DEFAULT '',
	base_url    TEXT NOT NULL DEFAULT '',
	deployment  TEXT NOT NULL DEFAULT '',
	api_version TEXT NOT NULL DEFAULT '',
	updated_at  INTEGER NOT NULL
)`

// SQLiteStore persists settings in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) a SQLite store at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(v int64) time.Time { return time.UnixMilli(v).UTC() }

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, settingsSchema)
	return err
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) GetProviderConfig(ctx context.Context, profile string) (*models.StoredConfiguration, error) {
	row := s.db.QueryRowContext(ctx, `SELECT provider, api_key, model, base_url, deployment, api_version, updated_at
		FROM provider_settings WHERE profile = ?`, profile)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "provider config", Key: profile}
	}
	if err != nil {
		return nil, fmt.Errorf("get provider config: %w", err)
	}
	return cfg, nil
}

func (s *SQLiteStore) PutProviderConfig(ctx context.Context, profile string, cfg *models.StoredConfiguration) error {
	updated := cfg.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO provider_settings
		(profile, provider, api_key, model, base_url, deployment, api_version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET
			provider = excluded.provider,
			api_key = excluded.api_key,
			model = excluded.model,
			base_url = excluded.base_url,
			deployment = excluded.deployment,
			api_version = excluded.api_version,
			updated_at = excluded.updated_at`,
		profile, string(cfg.Provider), cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Deployment, cfg.APIVersion, toMillis(updated))
	if err != nil {
		return fmt.Errorf("put provider config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteProviderConfig(ctx context.Context, profile string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM provider_settings WHERE profile = ?`, profile)
	if err != nil {
		return fmt.Errorf("delete provider config: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "provider config", Key: profile}
	}
	return nil
}

func (s *SQLiteStore) ListProviderConfigs(ctx context.Context) (map[string]*models.StoredConfiguration, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT profile, provider, api_key, model, base_url, deployment, api_version, updated_at
		FROM provider_settings`)
	if err != nil {
		return nil, fmt.Errorf("list provider configs: %w", err)
	}
	defer rows.Close()

	out := map[string]*models.StoredConfiguration{}
	for rows.Next() {
		var (
			profile, provider string
			updated           int64
			cfg               models.StoredConfiguration
		)
		if err := rows.Scan(&profile, &provider, &cfg.APIKey, &cfg.Model, &cfg.BaseURL, &cfg.Deployment, &cfg.APIVersion, &updated); err != nil {
			return nil, fmt.Errorf("scan provider config: %w", err)
		}
		cfg.Provider = models.ProviderKind(provider)
		cfg.UpdatedAt = fromMillis(updated)
		out[profile] = &cfg
	}
	return out, rows.Err()
}

func scanConfig(row *sql.Row) (*models.StoredConfiguration, error) {
	var (
		cfg      models.StoredConfiguration
		provider string
		updated  int64
	)
	if err := row.Scan(&provider, &cfg.APIKey, &cfg.Model, &cfg.BaseURL, &cfg.Deployment, &cfg.APIVersion, &updated); err != nil {
		return nil, err
	}
	cfg.Provider = models.ProviderKind(provider)
	cfg.UpdatedAt = fromMillis(updated)
	return &cfg, nil
}
