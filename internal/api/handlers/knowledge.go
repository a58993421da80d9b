package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/contextbuilder"
	"github.com/agentoven/aria/pkg/models"
)

// ── Knowledge ────────────────────────────────────────────────

type knowledgeQuery struct {
	Query    string `json:"query"`
	TopK     int    `json:"topK,omitempty"`
	MaxChars int    `json:"maxChars,omitempty"`
}

// KnowledgeQuery handles POST /api/v1/knowledge/query.
func (h *Handlers) KnowledgeQuery(w http.ResponseWriter, r *http.Request) {
	if h.Knowledge == nil {
		respondError(w, http.StatusServiceUnavailable, "knowledge base not configured")
		return
	}
	var req knowledgeQuery
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = contextbuilder.KnowledgeTopK
	}
	if req.MaxChars <= 0 {
		req.MaxChars = contextbuilder.KnowledgeMaxChars
	}

	res, err := h.Knowledge.RetrieveKnowledge(r.Context(), req.Query, req.TopK, req.MaxChars)
	if err != nil {
		log.Error().Err(err).Msg("Knowledge query failed")
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	if res.Chunks == nil {
		res.Chunks = []models.KnowledgeChunk{}
	}
	respondJSON(w, http.StatusOK, res)
}

// KnowledgeIngest handles POST /api/v1/knowledge/ingest.
func (h *Handlers) KnowledgeIngest(w http.ResponseWriter, r *http.Request) {
	if h.Ingester == nil {
		respondError(w, http.StatusServiceUnavailable, "knowledge base not configured")
		return
	}
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		respondError(w, http.StatusBadRequest, "documents are required")
		return
	}

	res, err := h.Ingester.Ingest(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Int("documents", len(req.Documents)).Msg("Knowledge ingestion failed")
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// ── On-device engine ─────────────────────────────────────────

// OnDeviceStatus handles GET /api/v1/ondevice.
func (h *Handlers) OnDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if h.Device == nil {
		respondError(w, http.StatusServiceUnavailable, "on-device engine disabled")
		return
	}
	respondJSON(w, http.StatusOK, h.Device.Status(r.Context()))
}

// OnDeviceUnload handles POST /api/v1/ondevice/unload.
func (h *Handlers) OnDeviceUnload(w http.ResponseWriter, r *http.Request) {
	if h.Device == nil {
		respondError(w, http.StatusServiceUnavailable, "on-device engine disabled")
		return
	}
	if err := h.Device.Unload(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.Device.Status(r.Context()))
}
