package charts

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/aria/pkg/models"
)

type stubCompleter struct {
	out   string
	err   error
	calls int
	msgs  []models.ChatMessage
	opts  models.CompletionOptions
}

func (s *stubCompleter) Complete(_ context.Context, msgs []models.ChatMessage, opts models.CompletionOptions) (string, error) {
	s.calls++
	s.msgs = msgs
	s.opts = opts
	return s.out, s.err
}

func territory() []models.Practitioner {
	return []models.Practitioner{
		{ID: "a", LastName: "Arnaud", City: "Lyon", Specialty: "Cardiologie", Volume: 100, LoyaltyScore: 8, IsKOL: true, VisitCount: 4},
		{ID: "b", LastName: "Blanc", City: "Lyon", Specialty: "Généraliste", Volume: 50, LoyaltyScore: 3, VisitCount: 1},
		{ID: "c", LastName: "Colin", City: "Paris", Specialty: "Cardiologie", Volume: 200, LoyaltyScore: 6, VisitCount: 2},
		{ID: "d", LastName: "Durand", City: "Villeurbanne", Specialty: "Pédiatrie", Volume: 30, LoyaltyScore: 5},
	}
}

func manyPractitioners(n int) []models.Practitioner {
	out := make([]models.Practitioner, n)
	for i := range out {
		out[i] = models.Practitioner{ID: fmt.Sprint(i), LastName: fmt.Sprintf("P%02d", i), City: "Lyon", Volume: float64(i * 10)}
	}
	return out
}

func TestExecuteGroupsAndSorts(t *testing.T) {
	spec := &models.ChartSpecification{Query: models.ChartQuery{GroupBy: models.GroupCity, Metrics: []string{"volume", "count"}}}
	data, err := NewGenerator().Execute(spec, territory())
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, "Paris", data[0].Label)
	assert.Equal(t, 200.0, data[0].Value)
	assert.Equal(t, "Lyon", data[1].Label)
	assert.Equal(t, 150.0, data[1].Value)
	assert.Equal(t, 2.0, data[1].Values["count"])
}

func TestExecuteFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter models.ChartFilter
		want   []string
	}{
		{"accent and case insensitive", models.ChartFilter{Field: "specialty", Operator: "eq", Value: "cardiologie"}, []string{"Colin", "Arnaud"}},
		{"in list", models.ChartFilter{Field: "city", Operator: "in", Value: []any{"LYON"}}, []string{"Arnaud", "Blanc"}},
		{"numeric", models.ChartFilter{Field: "volume", Operator: "gt", Value: 40.0}, []string{"Colin", "Arnaud", "Blanc"}},
		{"numeric string", models.ChartFilter{Field: "loyaltyScore", Operator: "lte", Value: "5"}, []string{"Blanc", "Durand"}},
		{"boolean", models.ChartFilter{Field: "isKOL", Operator: "eq", Value: "oui"}, []string{"Arnaud"}},
		{"contains", models.ChartFilter{Field: "specialty", Operator: "contains", Value: "pedia"}, []string{"Durand"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &models.ChartSpecification{Query: models.ChartQuery{
				GroupBy: models.GroupPractitioner,
				Metrics: []string{"volume"},
				Filters: []models.ChartFilter{tt.filter},
			}}
			data, err := NewGenerator().Execute(spec, territory())
			require.NoError(t, err)
			var got []string
			for _, d := range data {
				got = append(got, d.Label)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecuteRejectsBadFilter(t *testing.T) {
	spec := &models.ChartSpecification{Query: models.ChartQuery{
		GroupBy: models.GroupCity,
		Filters: []models.ChartFilter{{Field: "city", Operator: "gt", Value: "Lyon"}},
	}}
	_, err := NewGenerator().Execute(spec, territory())
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestCreateExplicitLimitOverridesModel(t *testing.T) {
	llm := &stubCompleter{out: `{"chartType":"bar","title":"Top praticiens","query":{"groupBy":"practitioner","metrics":["volume"],"limit":10}}`}
	routing := &models.RouterResult{
		Intent:      models.IntentChartCreate,
		NeedsChart:  true,
		ChartParams: models.ChartParams{Limit: 15, GroupBy: models.GroupPractitioner},
	}
	res, err := NewGenerator().Create(context.Background(), llm, Request{
		Question: "Top 15 praticiens par volume",
		Routing:  routing,
		Entities: manyPractitioners(20),
	})
	require.NoError(t, err)

	assert.Equal(t, 15, res.Spec.Query.Limit)
	assert.Len(t, res.Data, 15)
	assert.Equal(t, "P19", res.Data[0].Label)
	assert.Equal(t, 0.0, *llm.opts.Temperature)
	assert.True(t, llm.opts.JSONMode)
	assert.NotEmpty(t, res.Insights)
	assert.NotEmpty(t, res.Suggestions)
}

func TestModifyPreservesOmittedFields(t *testing.T) {
	prior := &models.ChartSpecification{
		ChartType: models.ChartBar,
		Title:     "Volume par spécialité",
		Query: models.ChartQuery{
			Source:    "practitioners",
			GroupBy:   models.GroupSpecialty,
			Metrics:   []string{"volume"},
			SortOrder: "desc",
			Filters:   []models.ChartFilter{{Field: "city", Operator: "eq", Value: "Lyon"}},
		},
	}
	llm := &stubCompleter{out: `{"chartType":"pie"}`}
	routing := &models.RouterResult{
		Intent:            models.IntentChartModify,
		ChartModification: true,
		ChartParams:       models.ChartParams{ChartType: models.ChartPie},
	}

	res, err := NewGenerator().Generate(context.Background(), llm, Request{
		Question: "Mets ça en camembert",
		Routing:  routing,
		Entities: territory(),
		Previous: prior,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ChartPie, res.Spec.ChartType)
	assert.Equal(t, models.GroupSpecialty, res.Spec.Query.GroupBy)
	assert.Equal(t, []string{"volume"}, res.Spec.Query.Metrics)
	require.Len(t, res.Spec.Query.Filters, 1)
	assert.Equal(t, "city", res.Spec.Query.Filters[0].Field)
	assert.Equal(t, "Volume par spécialité", res.Spec.Title)
	assert.Contains(t, llm.msgs[1].Content, `"groupBy":"specialty"`)

	// prior is untouched
	assert.Equal(t, models.ChartBar, prior.ChartType)
}

func TestModifyEmptyDeltaSkipsModel(t *testing.T) {
	prior := &models.ChartSpecification{
		ChartType: models.ChartLine,
		Title:     "Nombre par vingtile",
		Query:     models.ChartQuery{Source: "practitioners", GroupBy: models.GroupVingtile, Metrics: []string{"count"}, SortOrder: "desc"},
	}
	llm := &stubCompleter{}
	res, err := NewGenerator().Modify(context.Background(), llm, prior, "  ", Request{Entities: territory()})
	require.NoError(t, err)
	assert.Equal(t, 0, llm.calls)
	assert.Equal(t, prior, res.Spec)
	assert.NotSame(t, prior, res.Spec)
}

func TestKOLFilterAdded(t *testing.T) {
	llm := &stubCompleter{out: `{"chartType":"bar","title":"KOL par ville","query":{"groupBy":"city","metrics":["count"]}}`}
	routing := &models.RouterResult{Intent: models.IntentChartCreate, SearchTerms: models.SearchTerms{IsKOL: true}}
	res, err := NewGenerator().Create(context.Background(), llm, Request{Routing: routing, Entities: territory()})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "Lyon", res.Data[0].Label)
	assert.Equal(t, 1.0, res.Data[0].Value)
}

func TestCreateInvalidOutput(t *testing.T) {
	tests := []struct {
		name string
		out  string
	}{
		{"not json", "Voici votre graphique"},
		{"truncated", `{"chartType":"bar"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator().Create(context.Background(), &stubCompleter{out: tt.out}, Request{Entities: territory()})
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestCreateDropsUnknownValues(t *testing.T) {
	llm := &stubCompleter{out: "```json\n" + `{"chartType":"scatter","query":{"groupBy":"region","metrics":["revenue"],"filters":[{"field":"planet","operator":"eq","value":"Mars"}]}}` + "\n```"}
	res, err := NewGenerator().Create(context.Background(), llm, Request{Entities: territory()})
	require.NoError(t, err)
	assert.Equal(t, models.ChartBar, res.Spec.ChartType)
	assert.Equal(t, models.GroupCity, res.Spec.Query.GroupBy)
	assert.Equal(t, []string{"count"}, res.Spec.Query.Metrics)
	assert.Empty(t, res.Spec.Query.Filters)
	assert.Equal(t, "Nombre de praticiens par ville", res.Spec.Title)
}

func TestCreatePropagatesCompleterError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewGenerator().Create(context.Background(), &stubCompleter{err: boom}, Request{})
	assert.ErrorIs(t, err, boom)
}

func TestInsightsEmptyData(t *testing.T) {
	spec := &models.ChartSpecification{Query: models.ChartQuery{Metrics: []string{"count"}}}
	assert.Equal(t, []string{"Aucune donnée ne correspond aux critères du graphique."}, Insights(spec, nil))
}

func TestHistoryBoundedNewestFirst(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Record(fmt.Sprintf("q%d", i), &models.ChartResult{Spec: &models.ChartSpecification{Title: fmt.Sprint(i)}})
	}
	assert.Equal(t, 3, h.Len())
	entries := h.Entries()
	assert.Equal(t, "q4", entries[0].Question)
	assert.Equal(t, "q2", entries[2].Question)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, "4", latest.Spec.Title)
	assert.NotEmpty(t, latest.ID)

	h.Clear()
	_, ok = h.Latest()
	assert.False(t, ok)
}
