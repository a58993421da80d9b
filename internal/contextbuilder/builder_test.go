package contextbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/aria/pkg/models"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func daysAgo(d int) *time.Time {
	t := now.AddDate(0, 0, -d)
	return &t
}

func territory() []models.Practitioner {
	return []models.Practitioner{
		{ID: "1", Title: "Dr", FirstName: "Marie", LastName: "Dupont", Specialty: "Cardiologie", City: "Lyon", Volume: 900, LoyaltyScore: 8, Vingtile: 1, IsKOL: true, LastVisit: daysAgo(10), VisitCount: 12,
			Publications: []models.Publication{{Title: "Insuffisance cardiaque et SGLT2", Journal: "Revue", Date: now.AddDate(0, -1, 0)}},
			Notes:        []models.VisitNote{{Date: now.AddDate(0, 0, -10), Content: "Intéressée par l'étude EMPEROR"}}},
		{ID: "2", FirstName: "Jean", LastName: "Martin", Specialty: "Médecine générale", City: "Lyon", Volume: 400, LoyaltyScore: 3, Vingtile: 5, Trend: "down", LastVisit: daysAgo(120), VisitCount: 2},
		{ID: "3", FirstName: "Sophie", LastName: "Bernard", Specialty: "Cardiologie", City: "Villeurbanne", Volume: 650, LoyaltyScore: 7, Vingtile: 2, LastVisit: daysAgo(30), VisitCount: 6},
		{ID: "4", FirstName: "Luc", LastName: "Petit", Specialty: "Endocrinologie", City: "Bron", Volume: 120, LoyaltyScore: 5, Vingtile: 12, VisitCount: 0},
	}
}

type countingRetriever struct {
	calls int
}

func (r *countingRetriever) RetrieveKnowledge(_ context.Context, query string, topK, maxChars int) (*models.KnowledgeResult, error) {
	r.calls++
	return &models.KnowledgeResult{
		Chunks:  []models.KnowledgeChunk{{Title: "RCP", Content: "Posologie: 10 mg/j", Source: "rcp.pdf", Score: 0.9}},
		Context: "[RCP] Posologie: 10 mg/j",
	}, nil
}

type stubSearch struct {
	res *models.EntitySearchResult
	err error
}

func (s stubSearch) Search(context.Context, string) (*models.EntitySearchResult, error) { return s.res, s.err }

type stubActions struct{}

func (stubActions) GenerateActions(context.Context, models.ActionOptions) ([]models.Action, error) {
	return []models.Action{{Priority: "haute", Title: "Visiter Dr Martin", Reason: "fidélité en baisse"}}, nil
}

func newBuilder(s *stubSearch, k *countingRetriever) *Builder {
	var b *Builder
	switch {
	case s != nil && k != nil:
		b = New(*s, k, nil)
	case s != nil:
		b = New(*s, nil, nil)
	case k != nil:
		b = New(nil, k, nil)
	default:
		b = New(nil, nil, nil)
	}
	b.now = func() time.Time { return now }
	return b
}

func TestSpecificScopeExactAndFuzzy(t *testing.T) {
	b := newBuilder(nil, nil)
	out := b.Build(context.Background(), Input{
		Routing:  &models.RouterResult{Intent: models.IntentPractitionerInfo, DataScope: models.ScopeSpecific, SearchTerms: models.SearchTerms{Names: []string{"Dr Dupont", "brnrd"}}},
		Question: "Parle-moi de Dupont et Bernard",
		Entities: territory(),
	})
	require.Len(t, out.Matched, 2)
	assert.Equal(t, "Dupont", out.Matched[0].LastName)
	assert.Equal(t, "Bernard", out.Matched[1].LastName)
	assert.Contains(t, out.Text, "### Dr Marie Dupont")
	assert.Contains(t, out.Text, "Insuffisance cardiaque")
	assert.Contains(t, out.Text, "Leader d'opinion")
}

func TestSpecificScopeCapsProfiles(t *testing.T) {
	var many []models.Practitioner
	for i := 0; i < 15; i++ {
		many = append(many, models.Practitioner{ID: fmt.Sprint(i), FirstName: "Paul", LastName: fmt.Sprintf("Durand%d", i), City: "Lyon"})
	}
	out := newBuilder(nil, nil).Build(context.Background(), Input{
		Routing:  &models.RouterResult{DataScope: models.ScopeSpecific, SearchTerms: models.SearchTerms{Names: []string{"Durand"}}},
		Entities: many,
	})
	assert.Len(t, out.Matched, MaxSpecificProfiles)
}

func TestFilteredScopeManual(t *testing.T) {
	out := newBuilder(nil, nil).Build(context.Background(), Input{
		Routing:  &models.RouterResult{DataScope: models.ScopeFiltered, SearchTerms: models.SearchTerms{Specialties: []string{"cardiologie"}}},
		Question: "Les cardiologues",
		Entities: territory(),
	})
	require.Len(t, out.Matched, 2)
	assert.Equal(t, "Dupont", out.Matched[0].LastName)
	assert.Contains(t, out.Text, "Total: 2 praticiens, volume 1550")
	assert.NotContains(t, out.Text, "Martin")
}

func TestFilteredScopeUsesSearchDelegate(t *testing.T) {
	s := &stubSearch{res: &models.EntitySearchResult{Results: territory()[1:2], Context: "1 résultat pour Lyon"}}
	out := newBuilder(s, nil).Build(context.Background(), Input{
		Routing:  &models.RouterResult{DataScope: models.ScopeFiltered},
		Question: "médecins de Lyon",
		Entities: territory(),
	})
	assert.Contains(t, out.Text, "1 résultat pour Lyon")
	require.Len(t, out.Matched, 1)
	assert.Equal(t, "Martin", out.Matched[0].LastName)
}

func TestFilteredScopeFallsBackWhenSearchFails(t *testing.T) {
	s := &stubSearch{err: errors.New("index down")}
	out := newBuilder(s, nil).Build(context.Background(), Input{
		Routing:  &models.RouterResult{DataScope: models.ScopeFiltered, SearchTerms: models.SearchTerms{IsKOL: true}},
		Entities: territory(),
	})
	require.Len(t, out.Matched, 1)
	assert.True(t, out.Matched[0].IsKOL)
}

func TestAggregatedScope(t *testing.T) {
	out := newBuilder(nil, nil).Build(context.Background(), Input{
		Routing:  &models.RouterResult{DataScope: models.ScopeAggregated},
		Entities: territory(),
	})
	assert.Contains(t, out.Text, "Top 4 praticiens par volume")
	assert.Contains(t, out.Text, "Leaders d'opinion")
	assert.Contains(t, out.Text, "Praticiens à risque")
	assert.Contains(t, out.Text, "pas de visite depuis 120 jours")
	assert.Contains(t, out.Text, "jamais visité")
	assert.Contains(t, out.Text, "- Lyon: 2 praticiens")
}

func TestFullScopeNeverDumpsWholeDataset(t *testing.T) {
	var many []models.Practitioner
	for i := 0; i < 50; i++ {
		many = append(many, models.Practitioner{ID: fmt.Sprint(i), LastName: fmt.Sprintf("P%02d", i), Volume: float64(i)})
	}
	out := newBuilder(nil, nil).Build(context.Background(), Input{Routing: &models.RouterResult{DataScope: models.ScopeFull}, Entities: many})
	assert.Equal(t, MaxFullSummary, strings.Count(out.Text, "\n- "))
	assert.Contains(t, out.Text, "P49")
	assert.NotContains(t, out.Text, "P29 ")
}

func TestKnowledgeRetrievedOncePerBuild(t *testing.T) {
	k := &countingRetriever{}
	out := newBuilder(nil, k).Build(context.Background(), Input{
		Routing:  &models.RouterResult{Intent: models.IntentKnowledgeQuery, DataScope: models.ScopeKnowledge},
		Question: "Quelle est la posologie recommandée ?",
		Entities: territory(),
	})
	assert.Equal(t, 1, k.calls)
	assert.True(t, out.UsedRAG)
	require.Len(t, out.RAGSources, 1)
	assert.Equal(t, 1, strings.Count(out.Text, "## Base documentaire"))
}

func TestKeywordEnrichments(t *testing.T) {
	b := New(nil, nil, stubActions{})
	b.now = func() time.Time { return now }
	out := b.Build(context.Background(), Input{
		Routing:  &models.RouterResult{DataScope: models.ScopeAggregated},
		Question: "Quelles priorités pour mon agenda cette semaine, et où en sont mes objectifs ? Des publications ?",
		Entities: territory(),
		Events: []models.Event{
			{Title: "Visite Dr Bernard", Start: now.Add(48 * time.Hour), Location: "Villeurbanne"},
			{Title: "Ancien", Start: now.AddDate(0, -1, 0)},
		},
		Objectives: []models.Objective{{Label: "Visites", Target: 100, Current: 50, Unit: "visites"}},
	})
	assert.Contains(t, out.Text, "[haute] Visiter Dr Martin")
	assert.Contains(t, out.Text, "Visite Dr Bernard (Villeurbanne)")
	assert.NotContains(t, out.Text, "Ancien")
	assert.Contains(t, out.Text, "Visites: 50/100 visites (50%)")
	assert.Contains(t, out.Text, "Insuffisance cardiaque et SGLT2")
}

func TestKeywordsMatchWholeWords(t *testing.T) {
	k := &countingRetriever{}
	b := New(nil, k, stubActions{})
	b.now = func() time.Time { return now }

	out := b.Build(context.Background(), Input{
		Routing:  &models.RouterResult{DataScope: models.ScopeAggregated},
		Question: "Quel est mon programme pour Lyon ?",
		Entities: territory(),
	})
	assert.Equal(t, 0, k.calls)
	assert.False(t, out.UsedRAG)
	assert.Empty(t, out.RAGSources)

	out = b.Build(context.Background(), Input{
		Routing:  &models.RouterResult{DataScope: models.ScopeSpecific},
		Question: "Quelle interaction pour le Dr Dupont ?",
		Entities: territory(),
	})
	assert.NotContains(t, out.Text, "Actions recommandées")
	assert.NotContains(t, out.Text, "Priorités suggérées")
	assert.Equal(t, 1, k.calls)
}

func TestBuildGenericDetectsNames(t *testing.T) {
	out := newBuilder(nil, nil).BuildGeneric(context.Background(), Input{
		Question:    "Que penses-tu de Martin ?",
		PeriodLabel: "T1 2026",
		Entities:    territory(),
		CRM:         &models.CRMData{TotalVisits: 40, VisitsGoal: 60, MarketShare: 12.5},
	})
	assert.Contains(t, out.Text, "Période: T1 2026")
	assert.Contains(t, out.Text, "Visites: 40/60")
	assert.Contains(t, out.Text, "### Jean Martin")
	assert.Contains(t, out.Text, "Praticiens à risque")
}
