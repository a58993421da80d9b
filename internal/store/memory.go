package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/pkg/models"
)

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Providers map[string]*models.StoredConfiguration `json:"providers"` // key: profile
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu        sync.RWMutex
	providers map[string]*models.StoredConfiguration // key: profile

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save loop to stop
	closeOnce    sync.Once
}

// NewMemoryStore creates an in-memory store. When dataDir is set, settings
// are persisted to settings.json in that directory.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		providers: make(map[string]*models.StoredConfiguration),
		saveCh:    make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "settings.json")
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}
	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop debounces save requests (max 1 write per 200ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			select {
			case <-m.doneCh:
				return
			case <-time.After(200 * time.Millisecond):
			}
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON. The file holds API keys
// and is written owner-only.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{Providers: m.providers}, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Providers != nil {
		m.providers = snap.Providers
	}
	log.Info().Int("profiles", len(m.providers)).Str("path", m.snapshotPath).Msg("Snapshot loaded")
}

// ── SettingsStore ───────────────────────────────────────────

func (m *MemoryStore) GetProviderConfig(_ context.Context, profile string) (*models.StoredConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.providers[profile]
	if !ok {
		return nil, &ErrNotFound{Entity: "provider config", Key: profile}
	}
	c := *cfg
	return &c, nil
}

func (m *MemoryStore) PutProviderConfig(_ context.Context, profile string, cfg *models.StoredConfiguration) error {
	c := *cfg
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.providers[profile] = &c
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteProviderConfig(_ context.Context, profile string) error {
	m.mu.Lock()
	if _, ok := m.providers[profile]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "provider config", Key: profile}
	}
	delete(m.providers, profile)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListProviderConfigs(_ context.Context) (map[string]*models.StoredConfiguration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*models.StoredConfiguration, len(m.providers))
	for k, v := range m.providers {
		c := *v
		out[k] = &c
	}
	return out, nil
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// Close stops the save loop and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.closeOnce.Do(func() {
		close(m.doneCh)
		if m.snapshotPath != "" {
			m.saveSnapshot()
		}
		log.Info().Msg("Memory store closed")
	})
	return nil
}
