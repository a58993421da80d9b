// Package pipeline answers one question end to end: routing, context,
// optional chart, response, with graceful degradation to an unrouted answer
// and finally an explicit diagnostic.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentoven/aria/internal/charts"
	"github.com/agentoven/aria/internal/contextbuilder"
	"github.com/agentoven/aria/internal/intent"
	"github.com/agentoven/aria/internal/metrics"
	"github.com/agentoven/aria/internal/responder"
	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

var tracer = otel.Tracer("aria/pipeline")

// Input is one question plus the host's territory data.
type Input struct {
	Question     string
	History      []models.ConversationMessage
	ChartHistory []models.ChartHistoryEntry
	PeriodLabel  string
	Entities     []models.Practitioner
	Events       []models.Event
	Objectives   []models.Objective
	CRM          *models.CRMData
}

// Engine runs questions. It holds no per-conversation state.
type Engine struct {
	router    *intent.Router
	contexts  *contextbuilder.Builder
	charts    *charts.Generator
	responder *responder.Responder
}

// New creates an engine around a context builder.
func New(contexts *contextbuilder.Builder) *Engine {
	return &Engine{
		router:    intent.NewRouter(),
		contexts:  contexts,
		charts:    charts.NewGenerator(),
		responder: responder.New(),
	}
}

// providerReporter is implemented by fallback.Binding.
type providerReporter interface {
	LastProvider() string
}

// ProcessQuestion never returns nil and never returns an empty answer.
func (e *Engine) ProcessQuestion(ctx context.Context, llm contracts.Completer, in Input) *models.PipelineResult {
	return e.process(ctx, llm, in, nil)
}

// ProcessQuestionStream streams the answer text through onChunk. Routing and
// chart generation happen before the first chunk. A response that fails
// after emitting text is not restarted on the direct path.
func (e *Engine) ProcessQuestionStream(ctx context.Context, llm contracts.StreamCompleter, in Input, onChunk func(string)) *models.PipelineResult {
	return e.process(ctx, llm, in, onChunk)
}

type run struct {
	*Engine
	ctx     context.Context
	llm     contracts.Completer
	in      Input
	onChunk func(string)
	emitted strings.Builder
}

func (e *Engine) process(ctx context.Context, llm contracts.Completer, in Input, onChunk func(string)) *models.PipelineResult {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.process", trace.WithAttributes(
		attribute.Int("pipeline.entities", len(in.Entities)),
		attribute.Bool("pipeline.stream", onChunk != nil),
	))
	defer span.End()

	r := &run{Engine: e, ctx: ctx, llm: llm, in: in, onChunk: onChunk}
	res := r.answer()
	res.LatencyMs = time.Since(start).Milliseconds()
	if p, ok := llm.(providerReporter); ok && res.Source != models.SourceDiagnostic {
		res.Provider = p.LastProvider()
	}

	span.SetAttributes(
		attribute.String("pipeline.source", string(res.Source)),
		attribute.String("pipeline.intent", string(res.Intent)),
	)
	metrics.PipelineQuestions.WithLabelValues(string(res.Source), string(res.Intent)).Inc()
	metrics.PipelineDuration.WithLabelValues(string(res.Source)).Observe(time.Since(start).Seconds())
	log.Info().
		Str("source", string(res.Source)).
		Str("intent", string(res.Intent)).
		Str("provider", res.Provider).
		Int64("latency_ms", res.LatencyMs).
		Msg("Question processed")
	return res
}

func (r *run) answer() *models.PipelineResult {
	routing, err := r.router.Route(r.ctx, r.llm, intent.Input{
		Question:             r.in.Question,
		ChartHistory:         r.in.ChartHistory,
		LastAssistantMessage: lastAssistant(r.in.History),
	})
	var chart *models.ChartResult
	if err != nil {
		log.Warn().Err(err).Msg("Routing failed, answering directly")
	} else {
		var res *models.PipelineResult
		res, chart, err = r.routed(routing)
		if err == nil {
			return res
		}
		log.Warn().Err(err).Str("intent", string(routing.Intent)).Msg("Routed response failed, answering directly")
	}

	if r.ctx.Err() != nil {
		return r.diagnostic(r.ctx.Err(), chart)
	}
	if r.emitted.Len() > 0 {
		return r.diagnostic(err, chart)
	}

	res, derr := r.direct(chart)
	if derr != nil {
		log.Warn().Err(derr).Msg("Direct response failed")
		return r.diagnostic(derr, chart)
	}
	return res
}

func (r *run) routed(routing *models.RouterResult) (*models.PipelineResult, *models.ChartResult, error) {
	out := r.contexts.Build(r.ctx, r.contextInput(routing))

	var chart *models.ChartResult
	if routing.NeedsChart {
		var prev *models.ChartSpecification
		if len(r.in.ChartHistory) > 0 {
			prev = r.in.ChartHistory[0].Spec
		}
		c, err := r.charts.Generate(r.ctx, r.llm, charts.Request{
			Question: r.in.Question,
			Routing:  routing,
			Entities: r.in.Entities,
			Previous: prev,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Chart generation failed, continuing without chart")
		} else {
			chart = c
		}
	}

	text, err := r.respond(responder.Input{
		Question:    r.in.Question,
		PeriodLabel: r.in.PeriodLabel,
		Routing:     routing,
		Context:     out.Text,
		Chart:       chart,
		History:     r.in.History,
	})
	if err != nil {
		return nil, chart, err
	}

	return &models.PipelineResult{
		TextContent: text,
		Chart:       chart,
		Entities:    out.Matched,
		Suggestions: suggestions(routing, chart),
		Source:      models.SourceRouted,
		Intent:      routing.Intent,
		RAGSources:  out.RAGSources,
		UsedRAG:     out.UsedRAG,
	}, chart, nil
}

func (r *run) direct(chart *models.ChartResult) (*models.PipelineResult, error) {
	out := r.contexts.BuildGeneric(r.ctx, r.contextInput(nil))
	in := responder.Input{
		Question:    r.in.Question,
		PeriodLabel: r.in.PeriodLabel,
		Context:     out.Text,
		Chart:       chart,
		History:     r.in.History,
	}

	var text string
	var err error
	if sc, ok := r.llm.(contracts.StreamCompleter); ok && r.onChunk != nil {
		text, err = r.responder.DirectStream(r.ctx, sc, in, r.emit)
	} else {
		text, err = r.responder.Direct(r.ctx, r.llm, in)
	}
	if err != nil {
		return nil, err
	}
	return &models.PipelineResult{
		TextContent: text,
		Chart:       chart,
		Entities:    out.Matched,
		Suggestions: suggestions(nil, chart),
		Source:      models.SourceDirect,
		RAGSources:  out.RAGSources,
		UsedRAG:     out.UsedRAG,
	}, nil
}

func (r *run) respond(in responder.Input) (string, error) {
	if sc, ok := r.llm.(contracts.StreamCompleter); ok && r.onChunk != nil {
		return r.responder.RespondStream(r.ctx, sc, in, r.emit)
	}
	return r.responder.Respond(r.ctx, r.llm, in)
}

func (r *run) emit(chunk string) {
	if chunk == "" {
		return
	}
	r.emitted.WriteString(chunk)
	r.onChunk(chunk)
}

func (r *run) diagnostic(err error, chart *models.ChartResult) *models.PipelineResult {
	text := Diagnostic(err)
	if r.onChunk != nil {
		if r.emitted.Len() > 0 {
			text = "\n\n" + text
		}
		r.onChunk(text)
		text = r.emitted.String() + text
	}
	return &models.PipelineResult{
		TextContent: text,
		Chart:       chart,
		Source:      models.SourceDiagnostic,
	}
}

func (r *run) contextInput(routing *models.RouterResult) contextbuilder.Input {
	return contextbuilder.Input{
		Routing:     routing,
		Question:    r.in.Question,
		PeriodLabel: r.in.PeriodLabel,
		Entities:    r.in.Entities,
		Events:      r.in.Events,
		Objectives:  r.in.Objectives,
		CRM:         r.in.CRM,
	}
}

func lastAssistant(history []models.ConversationMessage) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

// suggestions proposes follow-up questions.
func suggestions(routing *models.RouterResult, chart *models.ChartResult) []string {
	if chart != nil && len(chart.Suggestions) > 0 {
		return chart.Suggestions
	}
	intentOf := models.IntentGeneral
	if routing != nil {
		intentOf = routing.Intent
	}
	switch intentOf {
	case models.IntentPractitionerInfo:
		return []string{"Quand l'ai-je vu pour la dernière fois ?", "Quelles sont ses dernières publications ?"}
	case models.IntentDataQuery:
		return []string{"Montre-moi ça en graphique", "Quels praticiens sont à risque ?"}
	case models.IntentStrategicAdvice, models.IntentPlanning:
		return []string{"Quelles sont mes priorités cette semaine ?", "Qui n'ai-je pas visité depuis 90 jours ?"}
	case models.IntentKnowledgeQuery:
		return []string{"Quelles sont les contre-indications ?", "Résume les recommandations"}
	}
	return []string{"Quels sont mes meilleurs prescripteurs ?", "Où en sont mes objectifs ?"}
}
