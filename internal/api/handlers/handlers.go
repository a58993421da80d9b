// Package handlers implements the HTTP handlers of the ARIA service.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/api/middleware"
	"github.com/agentoven/aria/internal/ondevice"
	"github.com/agentoven/aria/internal/pipeline"
	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/internal/rag"
	"github.com/agentoven/aria/internal/sessions"
	"github.com/agentoven/aria/internal/store"
	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

// MaxQuestionLength bounds a single question.
const MaxQuestionLength = 4000

// Binder returns the LLM entry point for one call-context.
type Binder func(cfg *models.StoredConfiguration) contracts.StreamCompleter

// Validator runs the provider connection test.
type Validator interface {
	Validate(ctx context.Context, a *providers.Adapter, credential string) *models.ProviderTestResult
}

// OnDevice is the subset of the on-device engine the API exposes.
type OnDevice interface {
	Status(ctx context.Context) ondevice.Status
	Unload() error
}

// Handlers holds all handler dependencies. Knowledge, Ingester and Device
// may be nil; their routes then answer 503.
type Handlers struct {
	Settings  *store.ConfigHolder
	Sessions  *sessions.Store
	Engine    *pipeline.Engine
	Bind      Binder
	Resolver  *providers.Resolver
	Validator Validator
	Device    OnDevice
	Knowledge contracts.KnowledgeRetriever
	Ingester  *rag.Ingester
}

// ── Conversations ────────────────────────────────────────────

type askRequest struct {
	Question string        `json:"question"`
	Data     pipeline.Data `json:"data"`
}

func (h *Handlers) decodeAsk(w http.ResponseWriter, r *http.Request) (*askRequest, bool) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return nil, false
	}
	if len([]rune(req.Question)) > MaxQuestionLength {
		respondError(w, http.StatusBadRequest, "question is too long")
		return nil, false
	}
	return &req, true
}

// Ask handles POST /api/v1/conversations/{id}/ask.
func (h *Handlers) Ask(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAsk(w, r)
	if !ok {
		return
	}
	profile := middleware.GetProfile(r.Context())
	conv := h.Sessions.GetOrCreate(profile, chi.URLParam(r, "id"))

	res := conv.Ask(r.Context(), h.Engine, h.Bind(h.Settings.Get(profile)), req.Question, req.Data)
	respondJSON(w, http.StatusOK, res)
}

// AskStream handles POST /api/v1/conversations/{id}/ask/stream. Text
// arrives as StreamChunk events; the final "result" event carries the
// complete PipelineResult.
func (h *Handlers) AskStream(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAsk(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	profile := middleware.GetProfile(r.Context())
	conv := h.Sessions.GetOrCreate(profile, chi.URLParam(r, "id"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	res := conv.AskStream(r.Context(), h.Engine, h.Bind(h.Settings.Get(profile)), req.Question, req.Data, func(chunk string) {
		writeEvent(w, "", models.StreamChunk{Content: chunk})
		flusher.Flush()
	})

	writeEvent(w, "result", res)
	writeEvent(w, "", models.StreamChunk{Provider: res.Provider, Done: true})
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("SSE encode failed")
		return
	}
	if event != "" {
		w.Write([]byte("event: " + event + "\n"))
	}
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}

type conversationView struct {
	ID        string                       `json:"id"`
	CreatedAt time.Time                    `json:"createdAt"`
	UpdatedAt time.Time                    `json:"updatedAt"`
	Messages  []models.ConversationMessage `json:"messages"`
	Charts    []models.ChartHistoryEntry   `json:"charts"`
}

// GetConversation handles GET /api/v1/conversations/{id}.
func (h *Handlers) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.Sessions.Get(middleware.GetProfile(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	view := conversationView{
		ID:        conv.ID,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt(),
		Messages:  conv.Messages(),
		Charts:    conv.Charts(),
	}
	if view.Messages == nil {
		view.Messages = []models.ConversationMessage{}
	}
	if view.Charts == nil {
		view.Charts = []models.ChartHistoryEntry{}
	}
	respondJSON(w, http.StatusOK, view)
}

// DeleteConversation handles DELETE /api/v1/conversations/{id}.
func (h *Handlers) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := h.Sessions.Delete(middleware.GetProfile(r.Context()), chi.URLParam(r, "id")); err != nil {
		respondStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondStoreError(w http.ResponseWriter, err error) {
	if store.IsNotFound(err) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}
