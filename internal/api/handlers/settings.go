package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/api/middleware"
	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/pkg/models"
)

// ── Provider settings ────────────────────────────────────────

// GetProviderSettings handles GET /api/v1/settings/provider. The API key
// is never returned in full.
func (h *Handlers) GetProviderSettings(w http.ResponseWriter, r *http.Request) {
	profile := middleware.GetProfile(r.Context())
	cfg := h.Settings.Get(profile)
	if cfg == nil {
		respondError(w, http.StatusNotFound, "provider configuration not found: "+profile)
		return
	}
	respondJSON(w, http.StatusOK, maskKey(cfg))
}

// PutProviderSettings handles PUT /api/v1/settings/provider. A missing
// provider kind is inferred from the key prefix.
func (h *Handlers) PutProviderSettings(w http.ResponseWriter, r *http.Request) {
	var cfg models.StoredConfiguration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.Provider == "" {
		if cfg.APIKey == "" {
			respondError(w, http.StatusBadRequest, "provider or apiKey is required")
			return
		}
		cfg.Provider = providers.InferKind(cfg.APIKey)
	}
	if !providers.Known(cfg.Provider) {
		respondError(w, http.StatusBadRequest, "unknown provider: "+string(cfg.Provider))
		return
	}
	cfg.UpdatedAt = time.Now().UTC()

	profile := middleware.GetProfile(r.Context())
	if err := h.Settings.Set(r.Context(), profile, &cfg); err != nil {
		log.Error().Err(err).Str("profile", profile).Msg("Failed to save provider configuration")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Str("profile", profile).Str("provider", string(cfg.Provider)).Msg("🔑 Provider configuration saved")
	respondJSON(w, http.StatusOK, maskKey(&cfg))
}

// DeleteProviderSettings handles DELETE /api/v1/settings/provider.
func (h *Handlers) DeleteProviderSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.Settings.Delete(r.Context(), middleware.GetProfile(r.Context())); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TestProvider handles POST /api/v1/settings/provider/test. An empty body
// tests the saved configuration, or the local provider when none is saved.
func (h *Handlers) TestProvider(w http.ResponseWriter, r *http.Request) {
	var cfg *models.StoredConfiguration
	if r.ContentLength != 0 {
		var body models.StoredConfiguration
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Provider != "" || body.APIKey != "" {
			cfg = &body
		}
	}
	if cfg == nil {
		cfg = h.Settings.Get(middleware.GetProfile(r.Context()))
	}

	adapter := h.Resolver.Resolve(cfg)
	credential := ""
	if cfg != nil {
		credential = cfg.APIKey
	}
	respondJSON(w, http.StatusOK, h.Validator.Validate(r.Context(), adapter, credential))
}

// ListProviders handles GET /api/v1/providers.
func (h *Handlers) ListProviders(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, providers.Catalog())
}

// maskKey keeps the first 4 and last 4 characters of the key.
func maskKey(cfg *models.StoredConfiguration) *models.StoredConfiguration {
	cp := *cfg
	switch k := cp.APIKey; {
	case k == "":
	case len(k) <= 8:
		cp.APIKey = "****"
	default:
		cp.APIKey = k[:4] + "****" + k[len(k)-4:]
	}
	return &cp
}
