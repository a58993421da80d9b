// Package intent classifies a question and extracts routing parameters with
// a single constrained LLM call.
package intent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/structured"
	"github.com/agentoven/aria/internal/textnorm"
	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

// ErrInvalidRouting is returned when the model output is not a valid routing
// object. Callers fall back to the unrouted path.
var ErrInvalidRouting = errors.New("invalid routing result")

var routerSchema = structured.MustCompile(map[string]any{
	"type":     "object",
	"required": []any{"intent", "dataScope"},
	"properties": map[string]any{
		"intent":            map[string]any{"type": "string", "enum": structured.Enum(models.Intents)},
		"dataScope":         map[string]any{"type": "string", "enum": structured.Enum(models.DataScopes)},
		"needsChart":        map[string]any{"type": []any{"boolean", "null"}},
		"chartModification": map[string]any{"type": []any{"boolean", "null"}},
		"responseGuidance":  map[string]any{"type": []any{"string", "null"}},
		"searchTerms": map[string]any{
			"type": []any{"object", "null"},
			"properties": map[string]any{
				"names":       stringArray,
				"cities":      stringArray,
				"specialties": stringArray,
				"isKOL":       map[string]any{"type": []any{"boolean", "null"}},
			},
		},
		"chartParams": map[string]any{
			"type": []any{"object", "null"},
			"properties": map[string]any{
				"chartType": map[string]any{"type": []any{"string", "null"}},
				"groupBy":   map[string]any{"type": []any{"string", "null"}},
				"metrics":   stringArray,
				"limit":     map[string]any{"type": []any{"number", "null"}, "minimum": 0},
				"sortOrder": map[string]any{"type": []any{"string", "null"}},
				"filters": map[string]any{
					"type": []any{"array", "null"},
					"items": map[string]any{
						"type":     "object",
						"required": []any{"field"},
					},
				},
			},
		},
	},
})

var stringArray = map[string]any{"type": []any{"array", "null"}, "items": map[string]any{"type": "string"}}

// Input is everything the router looks at.
type Input struct {
	Question             string
	ChartHistory         []models.ChartHistoryEntry
	LastAssistantMessage string
}

// rawResult mirrors RouterResult with lenient numeric types.
type rawResult struct {
	Intent            models.Intent      `json:"intent"`
	NeedsChart        bool               `json:"needsChart"`
	ChartModification bool               `json:"chartModification"`
	DataScope         models.DataScope   `json:"dataScope"`
	SearchTerms       models.SearchTerms `json:"searchTerms"`
	ChartParams       struct {
		ChartType string               `json:"chartType"`
		GroupBy   string               `json:"groupBy"`
		Metrics   []string             `json:"metrics"`
		Limit     float64              `json:"limit"`
		SortOrder string               `json:"sortOrder"`
		Filters   []models.ChartFilter `json:"filters"`
	} `json:"chartParams"`
	ResponseGuidance string `json:"responseGuidance"`
}

// Router classifies questions.
type Router struct{}

// NewRouter creates a router.
func NewRouter() *Router { return &Router{} }

// Route makes one call at temperature 0 in JSON mode on the router-tier
// model. Invalid output yields ErrInvalidRouting; the router does not retry
// beyond the completer's own policy.
func (r *Router) Route(ctx context.Context, llm contracts.Completer, in Input) (*models.RouterResult, error) {
	msgs := []models.ChatMessage{
		{Role: models.RoleSystem, Content: buildSystemPrompt()},
		{Role: models.RoleUser, Content: buildUserPrompt(in)},
	}
	text, err := llm.Complete(ctx, msgs, models.CompletionOptions{
		Temperature: models.Temp(0),
		MaxTokens:   600,
		JSONMode:    true,
		RouterTier:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}

	res, err := Parse(text)
	if err != nil {
		log.Warn().Err(err).Str("output", textnorm.Truncate(text, 200)).Msg("Discarding router output")
		return nil, err
	}
	Normalize(res, in)
	return res, nil
}

// Parse extracts and validates a routing object from model output.
func Parse(text string) (*models.RouterResult, error) {
	raw, err := structured.Extract(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRouting, err)
	}
	if err := routerSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRouting, err)
	}

	var rr rawResult
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRouting, err)
	}

	res := &models.RouterResult{
		Intent:            rr.Intent,
		NeedsChart:        rr.NeedsChart,
		ChartModification: rr.ChartModification,
		DataScope:         rr.DataScope,
		SearchTerms:       rr.SearchTerms,
		ResponseGuidance:  strings.TrimSpace(rr.ResponseGuidance),
		ChartParams: models.ChartParams{
			GroupBy:   validOr(rr.ChartParams.GroupBy, models.GroupKeys, ""),
			Metrics:   validMetrics(rr.ChartParams.Metrics),
			Limit:     int(rr.ChartParams.Limit),
			SortOrder: validOr(strings.ToLower(rr.ChartParams.SortOrder), []string{"asc", "desc"}, ""),
			Filters:   rr.ChartParams.Filters,
		},
	}
	if t := models.ChartType(strings.ToLower(rr.ChartParams.ChartType)); isChartType(t) {
		res.ChartParams.ChartType = t
	}
	return res, nil
}

// Normalize applies deterministic corrections that outrank the model:
// modification needs a prior chart, and numbers or chart types the user
// typed always win.
func Normalize(res *models.RouterResult, in Input) {
	hasHistory := len(in.ChartHistory) > 0

	if res.Intent == models.IntentChartModify && !hasHistory {
		res.Intent = models.IntentChartCreate
	}
	if res.ChartModification && !hasHistory {
		res.ChartModification = false
	}
	if res.Intent == models.IntentChartCreate || res.Intent == models.IntentChartModify {
		res.NeedsChart = true
	}
	if res.Intent == models.IntentChartModify {
		res.ChartModification = true
	}

	if n, ok := ExplicitLimit(in.Question); ok {
		res.ChartParams.Limit = n
	}
	if t, ok := ExplicitChartType(in.Question); ok {
		res.ChartParams.ChartType = t
	}
	if res.ChartParams.Limit < 0 {
		res.ChartParams.Limit = 0
	}
}

func isChartType(t models.ChartType) bool {
	for _, c := range models.ChartTypes {
		if c == t {
			return true
		}
	}
	return false
}

func validOr(v string, allowed []string, fallback string) string {
	for _, a := range allowed {
		if a == v {
			return v
		}
	}
	return fallback
}

func validMetrics(in []string) []string {
	var out []string
	for _, m := range in {
		if validOr(m, models.MetricKeys, "") != "" {
			out = append(out, m)
		}
	}
	return out
}
