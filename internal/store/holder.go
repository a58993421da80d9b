package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/agentoven/aria/pkg/models"
)

// ConfigHolder caches provider settings for the hot path. Reads are a
// single atomic load; writes go to the backing store first and then swap in
// a new map.
type ConfigHolder struct {
	backing SettingsStore
	writeMu sync.Mutex
	current atomic.Pointer[map[string]*models.StoredConfiguration]
}

// NewConfigHolder creates a holder over backing. Call Load to warm it.
func NewConfigHolder(backing SettingsStore) *ConfigHolder {
	h := &ConfigHolder{backing: backing}
	empty := map[string]*models.StoredConfiguration{}
	h.current.Store(&empty)
	return h
}

// Load replaces the cache with the store's contents.
func (h *ConfigHolder) Load(ctx context.Context) error {
	all, err := h.backing.ListProviderConfigs(ctx)
	if err != nil {
		return fmt.Errorf("load provider configs: %w", err)
	}
	h.writeMu.Lock()
	h.current.Store(&all)
	h.writeMu.Unlock()
	return nil
}

// Get returns a copy of profile's configuration, or nil when none is set.
func (h *ConfigHolder) Get(profile string) *models.StoredConfiguration {
	cfg, ok := (*h.current.Load())[profile]
	if !ok {
		return nil
	}
	c := *cfg
	return &c
}

// Set persists cfg for profile.
func (h *ConfigHolder) Set(ctx context.Context, profile string, cfg *models.StoredConfiguration) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.backing.PutProviderConfig(ctx, profile, cfg); err != nil {
		return err
	}
	stored, err := h.backing.GetProviderConfig(ctx, profile)
	if err != nil {
		return err
	}
	h.swap(func(m map[string]*models.StoredConfiguration) { m[profile] = stored })
	return nil
}

// Delete removes profile's configuration. Deleting an absent profile is not
// an error.
func (h *ConfigHolder) Delete(ctx context.Context, profile string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := h.backing.DeleteProviderConfig(ctx, profile); err != nil && !IsNotFound(err) {
		return err
	}
	h.swap(func(m map[string]*models.StoredConfiguration) { delete(m, profile) })
	return nil
}

// swap must be called with writeMu held.
func (h *ConfigHolder) swap(mutate func(map[string]*models.StoredConfiguration)) {
	old := *h.current.Load()
	next := make(map[string]*models.StoredConfiguration, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	mutate(next)
	h.current.Store(&next)
}
