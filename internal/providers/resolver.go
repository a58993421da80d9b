package providers

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/pkg/models"
)

// DefaultCacheSize bounds the number of memoized adapters.
const DefaultCacheSize = 64

// AdapterCache memoizes resolved adapters by configuration fingerprint. It is
// owned by the caller so several resolvers can share it.
type AdapterCache struct {
	lru *lru.Cache[string, *Adapter]
}

// NewAdapterCache creates a cache holding at most size adapters.
func NewAdapterCache(size int) *AdapterCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, *Adapter](size)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &AdapterCache{lru: c}
}

// Len returns the number of cached adapters.
func (c *AdapterCache) Len() int { return c.lru.Len() }

// Purge drops every cached adapter.
func (c *AdapterCache) Purge() { c.lru.Purge() }

// LocalSettings configures the zero-credential default provider.
type LocalSettings struct {
	BaseURL     string
	Model       string
	RouterModel string
}

// Resolver maps configuration to adapters. It holds no configuration of its
// own; callers pass the current configuration on every call.
type Resolver struct {
	cache *AdapterCache
	local LocalSettings
}

// NewResolver creates a resolver. A nil cache disables memoization.
func NewResolver(cache *AdapterCache, local LocalSettings) *Resolver {
	return &Resolver{cache: cache, local: local}
}

// Fingerprint identifies a configuration. Any field change yields a new
// fingerprint. The credential contributes its prefix and a digest, never
// its full value.
func Fingerprint(cfg *models.StoredConfiguration) string {
	if cfg == nil {
		return "local"
	}
	key := strings.TrimSpace(cfg.APIKey)
	prefix := key
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	sum := sha256.Sum256([]byte(key))
	return strings.Join([]string{
		string(cfg.Provider),
		prefix,
		hex.EncodeToString(sum[:6]),
		cfg.Model,
		cfg.BaseURL,
		cfg.Deployment,
		cfg.APIVersion,
	}, "|")
}

// Resolve returns the adapter for cfg. It never fails: a nil configuration,
// or one without a credential for a remote provider, resolves to the local
// provider, and unknown kinds degrade to the generic OpenAI-compatible shape.
func (r *Resolver) Resolve(cfg *models.StoredConfiguration) *Adapter {
	if cfg == nil || (!cfg.HasCredential() && cfg.Provider != models.ProviderOllama) {
		return r.Local()
	}

	fp := Fingerprint(cfg)
	if r.cache != nil {
		if a, ok := r.cache.lru.Get(fp); ok {
			return a
		}
	}

	kind := cfg.Provider
	if kind == "" {
		kind = InferKind(strings.TrimSpace(cfg.APIKey))
	}
	if !Known(kind) {
		log.Warn().Str("provider", string(kind)).Msg("Unknown provider kind, using OpenAI-compatible adapter")
		kind = models.ProviderCustom
	}

	o := Options{
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Deployment: cfg.Deployment,
		APIVersion: cfg.APIVersion,
	}
	if kind == models.ProviderOllama {
		o.BaseURL = firstNonEmpty(cfg.BaseURL, r.local.BaseURL)
		o.Model = firstNonEmpty(cfg.Model, r.local.Model)
		o.RouterModel = r.local.RouterModel
	}
	a := New(kind, o)

	if r.cache != nil {
		r.cache.lru.Add(fp, a)
	}
	log.Debug().Str("provider", a.Name).Str("model", a.DefaultModel).Msg("Resolved provider adapter")
	return a
}

// ResolveCredential infers the provider from a bare credential string.
func (r *Resolver) ResolveCredential(credential string) *Adapter {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return r.Local()
	}
	return r.Resolve(&models.StoredConfiguration{APIKey: credential})
}

// Local returns the default local provider.
func (r *Resolver) Local() *Adapter {
	if r.cache != nil {
		if a, ok := r.cache.lru.Get("local"); ok {
			return a
		}
	}
	a := New(models.ProviderOllama, Options{
		BaseURL:     r.local.BaseURL,
		Model:       r.local.Model,
		RouterModel: r.local.RouterModel,
	})
	if r.cache != nil {
		r.cache.lru.Add("local", a)
	}
	return a
}
