// Package charts turns questions into executable chart specifications,
// revises existing specs and runs them against the territory dataset.
package charts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/structured"
	"github.com/agentoven/aria/internal/textnorm"
	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

// ErrInvalidSpec is returned when no valid chart spec can be produced.
var ErrInvalidSpec = errors.New("invalid chart specification")

var specSchema = structured.MustCompile(map[string]any{
	"type":     "object",
	"required": []any{"chartType", "title", "query"},
	"properties": map[string]any{
		"chartType": map[string]any{"type": "string", "enum": structured.Enum(models.ChartTypes)},
		"title":     map[string]any{"type": "string", "minLength": 1},
		"query": map[string]any{
			"type":     "object",
			"required": []any{"groupBy", "metrics"},
			"properties": map[string]any{
				"groupBy": map[string]any{"type": "string", "enum": structured.Enum(models.GroupKeys)},
				"metrics": map[string]any{
					"type":     "array",
					"minItems": 1,
					"items":    map[string]any{"type": "string", "enum": structured.Enum(models.MetricKeys)},
				},
				"limit":     map[string]any{"type": "integer", "minimum": 0},
				"sortOrder": map[string]any{"type": "string", "enum": []any{"asc", "desc"}},
				"filters": map[string]any{
					"type": []any{"array", "null"},
					"items": map[string]any{
						"type":     "object",
						"required": []any{"field", "operator"},
					},
				},
			},
		},
	},
})

// rawSpec is the lenient shape of model output. Absent fields stay nil so
// they never overwrite the base spec.
type rawSpec struct {
	ChartType   *string `json:"chartType"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Query       *struct {
		Filters   *[]models.ChartFilter `json:"filters"`
		GroupBy   *string               `json:"groupBy"`
		Metrics   *[]string             `json:"metrics"`
		SortBy    *string               `json:"sortBy"`
		SortOrder *string               `json:"sortOrder"`
		Limit     *float64              `json:"limit"`
	} `json:"query"`
	Formatting *models.ChartFormatting `json:"formatting"`
}

// Request is one chart generation.
type Request struct {
	Question string
	Routing  *models.RouterResult
	Entities []models.Practitioner
	// Previous is the most recent chart, used when the routing asks for a
	// modification.
	Previous *models.ChartSpecification
}

// Generator creates and modifies chart specs.
type Generator struct {
	now func() time.Time
}

// NewGenerator creates a generator.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

// Generate dispatches to Modify when the routing asks for a change to an
// existing chart, otherwise to Create.
func (g *Generator) Generate(ctx context.Context, llm contracts.Completer, req Request) (*models.ChartResult, error) {
	if req.Routing != nil && req.Routing.ChartModification && req.Previous != nil {
		return g.Modify(ctx, llm, req.Previous, req.Question, req)
	}
	return g.Create(ctx, llm, req)
}

// Create asks the model for a new spec seeded with the router's hints.
func (g *Generator) Create(ctx context.Context, llm contracts.Completer, req Request) (*models.ChartResult, error) {
	base := seed(req.Routing)
	msgs := []models.ChatMessage{
		{Role: models.RoleSystem, Content: buildSystemPrompt()},
		{Role: models.RoleUser, Content: buildCreatePrompt(req)},
	}
	spec, err := g.ask(ctx, llm, msgs, base)
	if err != nil {
		return nil, err
	}
	return g.finish(spec, req)
}

// Modify revises prior according to delta. The model returns a complete
// spec; fields it omits keep their prior values. An empty delta skips the
// model entirely.
func (g *Generator) Modify(ctx context.Context, llm contracts.Completer, prior *models.ChartSpecification, delta string, req Request) (*models.ChartResult, error) {
	if prior == nil {
		return nil, fmt.Errorf("%w: nothing to modify", ErrInvalidSpec)
	}
	if strings.TrimSpace(delta) == "" {
		return g.finish(prior.Clone(), req)
	}

	msgs := []models.ChatMessage{
		{Role: models.RoleSystem, Content: buildSystemPrompt()},
		{Role: models.RoleUser, Content: buildModifyPrompt(prior, delta, req.Routing)},
	}
	spec, err := g.ask(ctx, llm, msgs, prior.Clone())
	if err != nil {
		return nil, err
	}
	return g.finish(spec, req)
}

func (g *Generator) ask(ctx context.Context, llm contracts.Completer, msgs []models.ChatMessage, base *models.ChartSpecification) (*models.ChartSpecification, error) {
	text, err := llm.Complete(ctx, msgs, models.CompletionOptions{
		Temperature: models.Temp(0),
		MaxTokens:   800,
		JSONMode:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("chart spec: %w", err)
	}

	raw, err := structured.Extract(text)
	if err != nil {
		log.Warn().Err(err).Str("output", textnorm.Truncate(text, 200)).Msg("Discarding chart output")
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	var rs rawSpec
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	merge(base, &rs)
	return base, nil
}

// finish applies deterministic overrides, validates and executes the spec.
func (g *Generator) finish(spec *models.ChartSpecification, req Request) (*models.ChartResult, error) {
	ApplyExplicit(spec, req.Routing)
	sanitize(spec)

	doc, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}
	if err := specSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	data, err := g.Execute(spec, req.Entities)
	if err != nil {
		return nil, err
	}
	return &models.ChartResult{
		Spec:        spec,
		Data:        data,
		Insights:    Insights(spec, data),
		Suggestions: Suggestions(spec),
	}, nil
}

// ApplyExplicit forces the router's limit and chart type onto spec and adds
// a KOL filter when the question is about KOLs only.
func ApplyExplicit(spec *models.ChartSpecification, routing *models.RouterResult) {
	if routing == nil {
		return
	}
	if l := routing.ChartParams.Limit; l > 0 {
		spec.Query.Limit = l
	}
	if t := routing.ChartParams.ChartType; t != "" {
		spec.ChartType = t
	}
	if routing.SearchTerms.IsKOL && !hasFilter(spec.Query.Filters, "kol") {
		spec.Query.Filters = append(spec.Query.Filters, models.ChartFilter{Field: "kol", Operator: "eq", Value: true})
	}
}

func hasFilter(filters []models.ChartFilter, key string) bool {
	for _, f := range filters {
		if fd, ok := filterFields[strings.ToLower(f.Field)]; ok && fd.key == key {
			return true
		}
	}
	return false
}

// seed builds the starting spec for a new chart from router hints.
func seed(routing *models.RouterResult) *models.ChartSpecification {
	spec := &models.ChartSpecification{
		ChartType: models.ChartBar,
		Query: models.ChartQuery{
			Source:    "practitioners",
			GroupBy:   models.GroupCity,
			Metrics:   []string{models.MetricCount},
			SortOrder: "desc",
		},
		Formatting: models.ChartFormatting{ShowLegend: true},
	}
	if routing == nil {
		return spec
	}
	cp := routing.ChartParams
	if cp.GroupBy != "" {
		spec.Query.GroupBy = cp.GroupBy
	}
	if len(cp.Metrics) > 0 {
		spec.Query.Metrics = append([]string(nil), cp.Metrics...)
	}
	if cp.SortOrder != "" {
		spec.Query.SortOrder = cp.SortOrder
	}
	spec.Query.Filters = append(spec.Query.Filters, cp.Filters...)
	return spec
}

func merge(spec *models.ChartSpecification, rs *rawSpec) {
	if rs.ChartType != nil {
		if t := models.ChartType(strings.ToLower(*rs.ChartType)); valid(t, models.ChartTypes) {
			spec.ChartType = t
		}
	}
	if rs.Title != nil && strings.TrimSpace(*rs.Title) != "" {
		spec.Title = strings.TrimSpace(*rs.Title)
	}
	if rs.Description != nil {
		spec.Description = strings.TrimSpace(*rs.Description)
	}
	if rs.Formatting != nil {
		spec.Formatting = *rs.Formatting
	}
	q := rs.Query
	if q == nil {
		return
	}
	if q.Filters != nil {
		spec.Query.Filters = *q.Filters
	}
	if q.GroupBy != nil && valid(*q.GroupBy, models.GroupKeys) {
		spec.Query.GroupBy = *q.GroupBy
	}
	if q.Metrics != nil {
		var ms []string
		for _, m := range *q.Metrics {
			if valid(m, models.MetricKeys) {
				ms = append(ms, m)
			}
		}
		if len(ms) > 0 {
			spec.Query.Metrics = ms
		}
	}
	if q.SortBy != nil {
		spec.Query.SortBy = *q.SortBy
	}
	if q.SortOrder != nil {
		if o := strings.ToLower(*q.SortOrder); o == "asc" || o == "desc" {
			spec.Query.SortOrder = o
		}
	}
	if q.Limit != nil && *q.Limit >= 0 {
		spec.Query.Limit = int(*q.Limit)
	}
}

// sanitize fills defaults and drops filters the executor cannot run.
func sanitize(spec *models.ChartSpecification) {
	if spec.Query.Source == "" {
		spec.Query.Source = "practitioners"
	}
	if spec.Query.SortOrder == "" {
		spec.Query.SortOrder = "desc"
	}
	if spec.Query.SortBy != "" && spec.Query.SortBy != "label" && !valid(spec.Query.SortBy, spec.Query.Metrics) {
		spec.Query.SortBy = ""
	}
	kept := spec.Query.Filters[:0:0]
	for _, f := range spec.Query.Filters {
		if _, err := filterExpr(f); err != nil {
			log.Warn().Err(err).Str("field", f.Field).Msg("Dropping chart filter")
			continue
		}
		if f.Operator == "" {
			f.Operator = "eq"
		}
		kept = append(kept, f)
	}
	spec.Query.Filters = kept
	if strings.TrimSpace(spec.Title) == "" {
		spec.Title = DefaultTitle(spec)
	}
}

func valid[T comparable](v T, allowed []T) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}
