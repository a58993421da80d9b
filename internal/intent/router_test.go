package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/aria/pkg/models"
)

type stubCompleter struct {
	out  string
	err  error
	opts models.CompletionOptions
	msgs []models.ChatMessage
}

func (s *stubCompleter) Complete(_ context.Context, msgs []models.ChatMessage, opts models.CompletionOptions) (string, error) {
	s.msgs = msgs
	s.opts = opts
	return s.out, s.err
}

var barHistory = []models.ChartHistoryEntry{{
	Question: "Volume par ville",
	Spec: &models.ChartSpecification{
		ChartType: models.ChartBar,
		Title:     "Volume par ville",
		Query:     models.ChartQuery{GroupBy: models.GroupCity, Metrics: []string{"volume"}, Limit: 10},
	},
}}

func TestRouteUsesConstrainedCall(t *testing.T) {
	llm := &stubCompleter{out: `{"intent":"general","dataScope":"full"}`}
	res, err := NewRouter().Route(context.Background(), llm, Input{Question: "Bonjour"})
	require.NoError(t, err)
	assert.Equal(t, models.IntentGeneral, res.Intent)

	require.NotNil(t, llm.opts.Temperature)
	assert.Equal(t, 0.0, *llm.opts.Temperature)
	assert.True(t, llm.opts.JSONMode)
	assert.True(t, llm.opts.RouterTier)
	assert.Contains(t, llm.msgs[0].Content, "knowledge_query")
	assert.Contains(t, llm.msgs[1].Content, "Aucun graphique précédent")
}

func TestRouteTopNOverridesModelLimit(t *testing.T) {
	llm := &stubCompleter{out: `{"intent":"chart_create","needsChart":true,"dataScope":"aggregated",
		"chartParams":{"chartType":"bar","groupBy":"practitioner","metrics":["volume"],"limit":10,"sortOrder":"desc"}}`}
	res, err := NewRouter().Route(context.Background(), llm, Input{Question: "Top 15 praticiens par volume"})
	require.NoError(t, err)
	assert.Equal(t, models.IntentChartCreate, res.Intent)
	assert.Equal(t, 15, res.ChartParams.Limit)
	assert.True(t, res.NeedsChart)
}

func TestRouteCamembertAfterBarHistory(t *testing.T) {
	llm := &stubCompleter{out: "```json\n" + `{"intent":"chart_modify","chartModification":true,"dataScope":"aggregated","chartParams":{"chartType":"bar"}}` + "\n```"}
	res, err := NewRouter().Route(context.Background(), llm, Input{Question: "Mets ça en camembert", ChartHistory: barHistory})
	require.NoError(t, err)
	assert.Equal(t, models.IntentChartModify, res.Intent)
	assert.True(t, res.ChartModification)
	assert.Equal(t, models.ChartPie, res.ChartParams.ChartType)
	assert.Contains(t, llm.msgs[1].Content, "Graphique précédent")
}

func TestRouteModifyWithoutHistoryBecomesCreate(t *testing.T) {
	llm := &stubCompleter{out: `{"intent":"chart_modify","chartModification":true,"dataScope":"aggregated"}`}
	res, err := NewRouter().Route(context.Background(), llm, Input{Question: "En radar"})
	require.NoError(t, err)
	assert.Equal(t, models.IntentChartCreate, res.Intent)
	assert.False(t, res.ChartModification)
	assert.Equal(t, models.ChartRadar, res.ChartParams.ChartType)
}

func TestRouteRejectsInvalidOutput(t *testing.T) {
	for _, out := range []string{
		`{"intent":"gossip","dataScope":"full"}`,
		`{"intent":"general","dataScope":"everything"}`,
		`{"dataScope":"full"}`,
		`je ne sais pas`,
		`{"intent":"general","dataScope":"full","chartParams":{"limit":"dix"}}`,
	} {
		_, err := NewRouter().Route(context.Background(), &stubCompleter{out: out}, Input{Question: "q"})
		assert.ErrorIs(t, err, ErrInvalidRouting, out)
	}
}

func TestRoutePropagatesCompleterError(t *testing.T) {
	boom := errors.New("all tiers down")
	_, err := NewRouter().Route(context.Background(), &stubCompleter{err: boom}, Input{Question: "q"})
	assert.ErrorIs(t, err, boom)
}

func TestParseDropsUnknownChartValues(t *testing.T) {
	res, err := Parse(`{"intent":"data_query","dataScope":"filtered","chartParams":{"chartType":"scatter","groupBy":"galaxy","metrics":["count","mood"],"sortOrder":"ASC"},
		"searchTerms":{"cities":["Lyon"],"isKOL":true}}`)
	require.NoError(t, err)
	assert.Empty(t, res.ChartParams.ChartType)
	assert.Empty(t, res.ChartParams.GroupBy)
	assert.Equal(t, []string{"count"}, res.ChartParams.Metrics)
	assert.Equal(t, "asc", res.ChartParams.SortOrder)
	assert.Equal(t, []string{"Lyon"}, res.SearchTerms.Cities)
	assert.True(t, res.SearchTerms.IsKOL)
}

func TestExplicitLimit(t *testing.T) {
	tests := []struct {
		q    string
		want int
		ok   bool
	}{
		{"Top 15 praticiens par volume", 15, true},
		{"montre le top5", 5, true},
		{"les 8 meilleurs KOL", 8, true},
		{"Limite à 3", 3, true},
		{"praticiens de Lyon", 0, false},
		{"seulement les 4 meilleurs", 4, true},
		{"uniquement 6 barres", 6, true},
		{"Répartition par ville des praticiens vus seulement 2 fois", 0, false},
		{"Répartition par spécialité des praticiens avec uniquement 1 visite", 0, false},
	}
	for _, tt := range tests {
		got, ok := ExplicitLimit(tt.q)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExplicitLimit(%q) = %d, %v, want %d, %v", tt.q, got, ok, tt.want, tt.ok)
		}
	}
}

func TestExplicitChartType(t *testing.T) {
	tests := []struct {
		q    string
		want models.ChartType
	}{
		{"Mets ça en camembert", models.ChartPie},
		{"plutôt en barres", models.ChartBar},
		{"une courbe svp", models.ChartLine},
		{"en anneau", models.ChartDoughnut},
		{"vue radar", models.ChartRadar},
		{"volume par ville", ""},
	}
	for _, tt := range tests {
		got, _ := ExplicitChartType(tt.q)
		if got != tt.want {
			t.Errorf("ExplicitChartType(%q) = %q, want %q", tt.q, got, tt.want)
		}
	}
}
