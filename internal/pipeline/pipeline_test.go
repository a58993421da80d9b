package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/aria/internal/contextbuilder"
	"github.com/agentoven/aria/internal/fallback"
	"github.com/agentoven/aria/internal/llm"
	"github.com/agentoven/aria/internal/ondevice"
	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/pkg/models"
)

type reply struct {
	out    string
	err    error
	chunks []string
}

// scripted answers each call kind with a canned reply.
type scripted struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   []string
	msgs    map[string][]models.ChatMessage
}

func newScripted() *scripted {
	return &scripted{replies: map[string]reply{}, msgs: map[string][]models.ChatMessage{}}
}

func (s *scripted) kind(msgs []models.ChatMessage, opts models.CompletionOptions) string {
	switch {
	case opts.RouterTier:
		return "route"
	case opts.JSONMode:
		return "chart"
	case strings.Contains(msgs[0].Content, "n'a pas pu être analysée"):
		return "direct"
	}
	return "answer"
}

func (s *scripted) Complete(_ context.Context, msgs []models.ChatMessage, opts models.CompletionOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := s.kind(msgs, opts)
	s.calls = append(s.calls, k)
	s.msgs[k] = msgs
	r, ok := s.replies[k]
	if !ok {
		return "", fmt.Errorf("no reply for %s", k)
	}
	return r.out, r.err
}

func (s *scripted) CompleteStream(ctx context.Context, msgs []models.ChatMessage, opts models.CompletionOptions, onChunk func(string)) (string, error) {
	s.mu.Lock()
	r := s.replies[s.kind(msgs, opts)]
	s.mu.Unlock()
	if len(r.chunks) == 0 {
		text, err := s.Complete(ctx, msgs, opts)
		if err == nil {
			onChunk(text)
		}
		return text, err
	}
	s.mu.Lock()
	s.calls = append(s.calls, s.kind(msgs, opts))
	s.mu.Unlock()
	for _, c := range r.chunks {
		onChunk(c)
	}
	if r.err != nil {
		return "", r.err
	}
	return strings.Join(r.chunks, ""), nil
}

func (s *scripted) called(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == kind {
			n++
		}
	}
	return n
}

func territory() Data {
	var ps []models.Practitioner
	cities := []string{"Lyon", "Paris", "Lyon", "Marseille"}
	specs := []string{"Cardiologie", "Généraliste"}
	for i := 0; i < 20; i++ {
		ps = append(ps, models.Practitioner{
			ID:        fmt.Sprint(i),
			LastName:  fmt.Sprintf("P%02d", i),
			City:      cities[i%len(cities)],
			Specialty: specs[i%len(specs)],
			Volume:    float64(i * 10),
		})
	}
	return Data{PeriodLabel: "T1 2026", Entities: ps}
}

func newEngine() *Engine {
	return New(contextbuilder.New(nil, nil, nil))
}

func TestTopFifteenScenario(t *testing.T) {
	s := newScripted()
	s.replies["route"] = reply{out: `{"intent":"chart_create","dataScope":"aggregated","needsChart":true,"chartParams":{"groupBy":"practitioner","metrics":["volume"],"limit":10}}`}
	s.replies["chart"] = reply{out: `{"chartType":"bar","title":"Top praticiens","query":{"groupBy":"practitioner","metrics":["volume"],"limit":10}}`}
	s.replies["answer"] = reply{out: "Voici vos 15 meilleurs prescripteurs."}

	conv := NewConversation("c1", 0, 0)
	res := conv.Ask(context.Background(), newEngine(), s, "Top 15 praticiens par volume", territory())

	require.NotNil(t, res)
	assert.Equal(t, models.SourceRouted, res.Source)
	assert.Equal(t, models.IntentChartCreate, res.Intent)
	require.NotNil(t, res.Chart)
	assert.Equal(t, 15, res.Chart.Spec.Query.Limit)
	assert.Len(t, res.Chart.Data, 15)
	assert.Equal(t, "Voici vos 15 meilleurs prescripteurs.", res.TextContent)
	assert.NotEmpty(t, res.Suggestions)

	assert.Contains(t, s.msgs["answer"][0].Content, "# Graphique affiché")
	assert.Len(t, conv.Charts(), 1)
	msgs := conv.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].HasChart)
}

func TestCamembertModifiesPreviousChart(t *testing.T) {
	s := newScripted()
	e := newEngine()
	conv := NewConversation("c1", 0, 0)

	s.replies["route"] = reply{out: `{"intent":"chart_create","dataScope":"aggregated","chartParams":{"groupBy":"specialty","metrics":["volume"]}}`}
	s.replies["chart"] = reply{out: `{"chartType":"bar","title":"Volume par spécialité","query":{"groupBy":"specialty","metrics":["volume"],"filters":[{"field":"city","operator":"eq","value":"Lyon"}]}}`}
	s.replies["answer"] = reply{out: "Les cardiologues dominent."}
	first := conv.Ask(context.Background(), e, s, "Volume par spécialité à Lyon en barres", territory())
	require.NotNil(t, first.Chart)
	assert.Equal(t, models.ChartBar, first.Chart.Spec.ChartType)

	s.replies["route"] = reply{out: `{"intent":"chart_modify","dataScope":"aggregated","chartModification":true}`}
	s.replies["chart"] = reply{out: `{"chartType":"pie"}`}
	second := conv.Ask(context.Background(), e, s, "Mets ça en camembert", territory())

	assert.Equal(t, models.IntentChartModify, second.Intent)
	require.NotNil(t, second.Chart)
	spec := second.Chart.Spec
	assert.Equal(t, models.ChartPie, spec.ChartType)
	assert.Equal(t, models.GroupSpecialty, spec.Query.GroupBy)
	require.Len(t, spec.Query.Filters, 1)
	assert.Equal(t, "city", spec.Query.Filters[0].Field)
	assert.Contains(t, s.msgs["chart"][1].Content, "Graphique actuel")

	charts := conv.Charts()
	require.Len(t, charts, 2)
	assert.Equal(t, models.ChartPie, charts[0].Spec.ChartType)
	assert.Equal(t, models.ChartBar, charts[1].Spec.ChartType)
}

func TestRouterFailureAnswersDirectly(t *testing.T) {
	s := newScripted()
	s.replies["route"] = reply{out: "pas du JSON"}
	s.replies["direct"] = reply{out: "Réponse générale."}

	res := newEngine().ProcessQuestion(context.Background(), s, Input{Question: "Bonjour", Entities: territory().Entities})
	assert.Equal(t, models.SourceDirect, res.Source)
	assert.Equal(t, "Réponse générale.", res.TextContent)
	assert.Equal(t, 0, s.called("answer"))
	assert.Contains(t, s.msgs["direct"][0].Content, "Praticiens suivis: 20")
}

func TestResponseFailureKeepsChart(t *testing.T) {
	s := newScripted()
	s.replies["route"] = reply{out: `{"intent":"chart_create","dataScope":"aggregated","chartParams":{"groupBy":"city","metrics":["count"]}}`}
	s.replies["chart"] = reply{out: `{"chartType":"bar","title":"Praticiens par ville","query":{"groupBy":"city","metrics":["count"]}}`}
	s.replies["answer"] = reply{err: errors.New("timeout")}
	s.replies["direct"] = reply{out: "Lyon concentre la moitié de vos praticiens."}

	res := newEngine().ProcessQuestion(context.Background(), s, Input{Question: "Praticiens par ville", Entities: territory().Entities})
	assert.Equal(t, models.SourceDirect, res.Source)
	require.NotNil(t, res.Chart)
	assert.Equal(t, "Lyon", res.Chart.Data[0].Label)
	assert.Contains(t, s.msgs["direct"][0].Content, "# Graphique affiché")
}

func TestChartFailureStillAnswers(t *testing.T) {
	s := newScripted()
	s.replies["route"] = reply{out: `{"intent":"chart_create","dataScope":"aggregated"}`}
	s.replies["chart"] = reply{out: "désolé"}
	s.replies["answer"] = reply{out: "Sans graphique."}

	res := newEngine().ProcessQuestion(context.Background(), s, Input{Question: "Un graphique ?"})
	assert.Equal(t, models.SourceRouted, res.Source)
	assert.Nil(t, res.Chart)
	assert.Equal(t, "Sans graphique.", res.TextContent)
}

// failingInvoker fails every remote tier like an unreachable provider.
type failingInvoker struct{}

func (failingInvoker) Invoke(_ context.Context, a *providers.Adapter, _ string, _ []models.ChatMessage, _ models.CompletionOptions) (string, error) {
	if a.Local {
		return "", &llm.Error{Provider: a.Name, Kind: llm.KindTransport, Message: "connection refused"}
	}
	return "", &llm.Error{Provider: a.Name, Kind: llm.KindAuth, Status: 401, Message: "invalid api key"}
}

func (f failingInvoker) Stream(ctx context.Context, a *providers.Adapter, cred string, msgs []models.ChatMessage, opts models.CompletionOptions, _ func(string)) (string, error) {
	return f.Invoke(ctx, a, cred, msgs, opts)
}

type noGPU struct{}

func (noGPU) Supported(context.Context) error    { return ondevice.ErrNoGPU }
func (noGPU) EnsureLoaded(context.Context) error { return ondevice.ErrNoGPU }
func (noGPU) Generate(context.Context, []models.ChatMessage, models.CompletionOptions, func(string)) (string, error) {
	return "", ondevice.ErrNoGPU
}

func TestAllTiersFailYieldsDiagnostic(t *testing.T) {
	o := fallback.New(providers.NewResolver(providers.NewAdapterCache(8), providers.LocalSettings{}), failingInvoker{}, noGPU{})
	binding := o.Bind(&models.StoredConfiguration{Provider: models.ProviderOpenAI, APIKey: "sk-test"})

	conv := NewConversation("c1", 0, 0)
	res := conv.Ask(context.Background(), newEngine(), binding, "Top 15 praticiens par volume", territory())

	require.NotNil(t, res)
	assert.Equal(t, models.SourceDiagnostic, res.Source)
	assert.NotEmpty(t, strings.TrimSpace(res.TextContent))
	assert.Contains(t, res.TextContent, "aucun moteur d'IA n'a répondu")
	assert.Contains(t, res.TextContent, "Fournisseur configuré (openai): Clé API invalide")
	assert.Contains(t, res.TextContent, "Fournisseur local (ollama): Impossible de joindre")
	assert.Contains(t, res.TextContent, "aucun GPU compatible")
	assert.Empty(t, conv.Messages())
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newScripted()
	s.replies["route"] = reply{err: context.Canceled}

	res := newEngine().ProcessQuestion(ctx, s, Input{Question: "Bonjour"})
	assert.Equal(t, models.SourceDiagnostic, res.Source)
	assert.Equal(t, "La demande a été annulée avant la fin du traitement.", res.TextContent)
	assert.Equal(t, 0, s.called("direct"))
}

func TestHistoryWindowBounded(t *testing.T) {
	s := newScripted()
	s.replies["route"] = reply{out: `{"intent":"general","dataScope":"full"}`}
	s.replies["answer"] = reply{out: "ok"}
	e := newEngine()
	conv := NewConversation("c1", DefaultWindow, 0)

	for i := 0; i < 15; i++ {
		conv.Ask(context.Background(), e, s, fmt.Sprintf("q%d", i), Data{})
	}
	msgs := conv.Messages()
	require.Len(t, msgs, DefaultWindow)
	assert.Equal(t, "q5", msgs[0].Content)
	assert.Equal(t, "q14", msgs[len(msgs)-2].Content)

	conv.Reset()
	assert.Empty(t, conv.Messages())
}

func TestStreamForwardsChunks(t *testing.T) {
	s := newScripted()
	s.replies["route"] = reply{out: `{"intent":"general","dataScope":"full"}`}
	s.replies["answer"] = reply{chunks: []string{"Bon", "jour"}}

	var got []string
	res := newEngine().ProcessQuestionStream(context.Background(), s, Input{Question: "Salut"}, func(c string) { got = append(got, c) })
	assert.Equal(t, models.SourceRouted, res.Source)
	assert.Equal(t, "Bonjour", res.TextContent)
	assert.Equal(t, []string{"Bon", "jour"}, got)
}

func TestStreamPartialFailureDoesNotRestart(t *testing.T) {
	s := newScripted()
	s.replies["route"] = reply{out: `{"intent":"general","dataScope":"full"}`}
	s.replies["answer"] = reply{chunks: []string{"Début"}, err: &llm.Error{Kind: llm.KindTransport, Message: "reset"}}
	s.replies["direct"] = reply{out: "ne doit pas être appelé"}

	var got strings.Builder
	res := newEngine().ProcessQuestionStream(context.Background(), s, Input{Question: "Salut"}, func(c string) { got.WriteString(c) })
	assert.Equal(t, models.SourceDiagnostic, res.Source)
	assert.Equal(t, 0, s.called("direct"))
	assert.True(t, strings.HasPrefix(res.TextContent, "Début\n\nJe n'ai pas pu"))
	assert.Equal(t, res.TextContent, got.String())
}

func TestDiagnosticWithoutTrail(t *testing.T) {
	text := Diagnostic(&llm.Error{Kind: llm.KindRateLimit})
	assert.Contains(t, text, "Quota")
	assert.Contains(t, Diagnostic(context.DeadlineExceeded), "Délai de réponse dépassé")
}
