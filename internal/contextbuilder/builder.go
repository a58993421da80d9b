// Package contextbuilder assembles the bounded textual context given to the
// response model. Each section is capped by its own top-N so the most
// decision-relevant rows come first.
package contextbuilder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

// Section caps.
const (
	MaxSpecificProfiles = 10
	MaxFilteredRows     = 20
	MaxTopRanked        = 10
	MaxFlagged          = 10
	MaxFullSummary      = 20
	MaxCityTally        = 15
	MaxEvents           = 10
	MaxActions          = 5
	MaxNewsItems        = 8
	MaxReportNotes      = 8

	KnowledgeTopK     = 5
	KnowledgeMaxChars = 3000
)

// Input is the data a context is built from.
type Input struct {
	Routing     *models.RouterResult
	Question    string
	PeriodLabel string
	Entities    []models.Practitioner
	Events      []models.Event
	Objectives  []models.Objective
	CRM         *models.CRMData
}

// Output is an assembled context.
type Output struct {
	Text       string
	Matched    []models.Practitioner
	RAGSources []models.KnowledgeChunk
	UsedRAG    bool
}

// Builder assembles contexts. Every collaborator is optional.
type Builder struct {
	search    contracts.EntitySearcher
	knowledge contracts.KnowledgeRetriever
	actions   contracts.ActionGenerator
	now       func() time.Time
}

// New creates a builder.
func New(search contracts.EntitySearcher, knowledge contracts.KnowledgeRetriever, actions contracts.ActionGenerator) *Builder {
	return &Builder{search: search, knowledge: knowledge, actions: actions, now: time.Now}
}

// build holds per-call state.
type build struct {
	*Builder
	ctx context.Context
	in  Input
	out *Output
	b   strings.Builder

	// Retrieval is memoized: the knowledge scope and the keyword trigger
	// share one call per build.
	ragDone bool
}

// Build assembles the scope-specific context for a routed question.
func (bd *Builder) Build(ctx context.Context, in Input) *Output {
	st := bd.start(ctx, in)
	st.header()

	scope := models.ScopeFull
	if in.Routing != nil {
		scope = in.Routing.DataScope
		if in.Routing.Intent == models.IntentKnowledgeQuery {
			scope = models.ScopeKnowledge
		}
	}
	switch scope {
	case models.ScopeSpecific:
		st.specific()
	case models.ScopeFiltered:
		st.filtered()
	case models.ScopeAggregated:
		st.aggregated()
	case models.ScopeKnowledge:
		st.knowledgeSection()
	default:
		st.full()
	}

	st.enrichments()
	return st.finish()
}

// BuildGeneric assembles an unscoped context for the direct-response path:
// territory overview, top, flagged and at-risk entities plus keyword
// enrichments.
func (bd *Builder) BuildGeneric(ctx context.Context, in Input) *Output {
	st := bd.start(ctx, in)
	st.header()
	st.topRanked(MaxTopRanked)
	st.flagged()
	st.atRisk()
	if names := st.detectNames(); len(names) > 0 {
		st.profiles(names)
	}
	st.enrichments()
	return st.finish()
}

func (bd *Builder) start(ctx context.Context, in Input) *build {
	return &build{Builder: bd, ctx: ctx, in: in, out: &Output{}}
}

func (st *build) finish() *Output {
	st.out.Text = strings.TrimSpace(st.b.String())
	return st.out
}

func (st *build) section(title string) {
	if st.b.Len() > 0 {
		st.b.WriteString("\n")
	}
	fmt.Fprintf(&st.b, "## %s\n", title)
}

func (st *build) header() {
	in := st.in
	st.section("Territoire")
	if in.PeriodLabel != "" {
		fmt.Fprintf(&st.b, "Période: %s\n", in.PeriodLabel)
	}
	var volume float64
	kol := 0
	for i := range in.Entities {
		volume += in.Entities[i].Volume
		if in.Entities[i].IsKOL {
			kol++
		}
	}
	fmt.Fprintf(&st.b, "Praticiens suivis: %d (dont %d KOL). Volume total: %.0f.\n", len(in.Entities), kol, volume)
	if c := in.CRM; c != nil {
		fmt.Fprintf(&st.b, "Visites: %d/%d. Nouveaux prescripteurs: %d. Part de marché: %.1f%%. Croissance volume: %+.1f%%.\n",
			c.TotalVisits, c.VisitsGoal, c.NewPrescribers, c.MarketShare, c.VolumeGrowth)
	}
}

// ── Scopes ──────────────────────────────────────────────────

func (st *build) specific() {
	var names []string
	if st.in.Routing != nil {
		names = st.in.Routing.SearchTerms.Names
	}
	if len(names) == 0 {
		names = st.detectNames()
	}
	if len(names) == 0 {
		st.filtered()
		return
	}
	st.profiles(names)
}

func (st *build) profiles(names []string) {
	matches := MatchNames(st.in.Entities, names, MaxSpecificProfiles)
	st.section("Praticiens demandés")
	if len(matches) == 0 {
		fmt.Fprintf(&st.b, "Aucun praticien trouvé pour: %s.\n", strings.Join(names, ", "))
		return
	}
	now := st.now()
	for i := range matches {
		st.b.WriteString(Profile(&matches[i], st.in.Events, now))
	}
	st.out.Matched = append(st.out.Matched, matches...)
}

func (st *build) filtered() {
	if st.search != nil {
		res, err := st.search.Search(st.ctx, st.in.Question)
		if err != nil {
			log.Warn().Err(err).Msg("Entity search failed, filtering manually")
		} else if res != nil && len(res.Results) > 0 {
			st.section("Résultats de recherche")
			if res.Context != "" {
				st.b.WriteString(strings.TrimSpace(res.Context) + "\n")
			}
			rows := capped(res.Results, MaxFilteredRows)
			st.rows(rows)
			st.totals(res.Results)
			st.out.Matched = append(st.out.Matched, rows...)
			return
		}
	}

	var terms models.SearchTerms
	if st.in.Routing != nil {
		terms = st.in.Routing.SearchTerms
	}
	filtered := Filter(st.in.Entities, terms)
	sortByVolume(filtered)
	st.section("Praticiens filtrés")
	if len(filtered) == 0 {
		st.b.WriteString("Aucun praticien ne correspond aux critères.\n")
		return
	}
	rows := capped(filtered, MaxFilteredRows)
	st.rows(rows)
	st.totals(filtered)
	st.out.Matched = append(st.out.Matched, rows...)
}

func (st *build) aggregated() {
	st.topRanked(MaxTopRanked)
	st.flagged()
	st.atRisk()
	st.cityTally()
}

func (st *build) full() {
	if st.search != nil {
		if res, err := st.search.Search(st.ctx, st.in.Question); err == nil && res != nil && len(res.Results) > 0 {
			st.section("Sélection pertinente")
			st.rows(capped(res.Results, MaxFilteredRows))
		}
	}
	st.topRanked(MaxFullSummary)
}

// ── Building blocks ─────────────────────────────────────────

func (st *build) topRanked(n int) {
	sorted := append([]models.Practitioner(nil), st.in.Entities...)
	sortByVolume(sorted)
	if len(sorted) == 0 {
		return
	}
	st.section(fmt.Sprintf("Top %d praticiens par volume", min(n, len(sorted))))
	st.rows(capped(sorted, n))
}

func (st *build) flagged() {
	var kols []models.Practitioner
	for _, p := range st.in.Entities {
		if p.IsKOL {
			kols = append(kols, p)
		}
	}
	if len(kols) == 0 {
		return
	}
	sortByVolume(kols)
	st.section("Leaders d'opinion (KOL)")
	st.rows(capped(kols, MaxFlagged))
}

func (st *build) atRisk() {
	now := st.now()
	var risky []models.Practitioner
	for _, p := range st.in.Entities {
		if p.AtRisk(now) {
			risky = append(risky, p)
		}
	}
	if len(risky) == 0 {
		return
	}
	sortByVolume(risky)
	st.section("Praticiens à risque")
	for _, p := range capped(risky, MaxFlagged) {
		fmt.Fprintf(&st.b, "- %s (%s, %s): %s\n", p.FullName(), p.Specialty, p.City, riskReason(&p, now))
	}
}

func (st *build) cityTally() {
	type tally struct {
		city   string
		count  int
		volume float64
	}
	byCity := map[string]*tally{}
	for _, p := range st.in.Entities {
		t, ok := byCity[p.City]
		if !ok {
			t = &tally{city: p.City}
			byCity[p.City] = t
		}
		t.count++
		t.volume += p.Volume
	}
	if len(byCity) == 0 {
		return
	}
	list := make([]*tally, 0, len(byCity))
	for _, t := range byCity {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].city < list[j].city
	})
	st.section("Répartition par ville")
	for _, t := range list[:min(len(list), MaxCityTally)] {
		fmt.Fprintf(&st.b, "- %s: %d praticiens, volume %.0f\n", t.city, t.count, t.volume)
	}
}

func (st *build) rows(ps []models.Practitioner) {
	for i := range ps {
		st.b.WriteString(Row(&ps[i]))
	}
}

func (st *build) totals(ps []models.Practitioner) {
	var volume, loyalty float64
	kol := 0
	for _, p := range ps {
		volume += p.Volume
		loyalty += p.LoyaltyScore
		if p.IsKOL {
			kol++
		}
	}
	avg := 0.0
	if len(ps) > 0 {
		avg = loyalty / float64(len(ps))
	}
	fmt.Fprintf(&st.b, "Total: %d praticiens, volume %.0f, fidélité moyenne %.1f/10, %d KOL.\n", len(ps), volume, avg, kol)
}

// detectNames finds known last names mentioned in the question.
func (st *build) detectNames() []string {
	return DetectNames(st.in.Entities, st.in.Question)
}

func capped(ps []models.Practitioner, n int) []models.Practitioner {
	if len(ps) > n {
		return ps[:n]
	}
	return ps
}

func sortByVolume(ps []models.Practitioner) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Volume > ps[j].Volume })
}

func riskReason(p *models.Practitioner, now time.Time) string {
	var reasons []string
	if p.Trend == "down" {
		reasons = append(reasons, "tendance en baisse")
	}
	if p.LoyaltyScore < 4 {
		reasons = append(reasons, fmt.Sprintf("fidélité %.1f/10", p.LoyaltyScore))
	}
	if d := p.DaysSinceVisit(now); d < 0 {
		reasons = append(reasons, "jamais visité")
	} else if d > 90 {
		reasons = append(reasons, fmt.Sprintf("pas de visite depuis %d jours", d))
	}
	return strings.Join(reasons, ", ")
}
