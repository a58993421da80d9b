package contextbuilder

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/textnorm"
	"github.com/agentoven/aria/pkg/models"
)

// Keyword families that add enrichment sections regardless of scope. They
// are matched on whole folded words; a trailing "*" marks a stem.
var (
	ActionKeywords      = []string{"priorit*", "action", "que faire", "recommand*", "a faire", "focus", "cibl*"}
	ScheduleKeywords    = []string{"agenda", "planning", "rendez-vous", "rdv", "semaine", "demain", "aujourd", "tournee", "planifi*"}
	PerformanceKeywords = []string{"objectif", "performance", "resultat", "chiffre", "part de marche", "progression", "croissance"}
	NewsKeywords        = []string{"actualit*", "publication", "news", "article", "presse", "congres"}
	ReportKeywords      = []string{"rapport", "compte rendu", "note de visite", "debrief*"}
	KnowledgeKeywords   = []string{"etude", "posologie", "indication", "contre-indication", "effet secondaire", "effet indesirable",
		"essai clinique", "molecule", "interaction", "recommandation has", "amm", "remboursement"}
)

func (st *build) enrichments() {
	q := st.in.Question
	if textnorm.HasKeyword(q, ActionKeywords...) {
		st.actionsSection()
	}
	if textnorm.HasKeyword(q, ScheduleKeywords...) {
		st.scheduleSection()
	}
	if textnorm.HasKeyword(q, PerformanceKeywords...) {
		st.performanceSection()
	}
	if textnorm.HasKeyword(q, NewsKeywords...) {
		st.newsSection()
	}
	if textnorm.HasKeyword(q, ReportKeywords...) {
		st.reportsSection()
	}
	if textnorm.HasKeyword(q, KnowledgeKeywords...) {
		st.knowledgeSection()
	}
}

func (st *build) actionsSection() {
	if st.actions != nil {
		actions, err := st.actions.GenerateActions(st.ctx, models.ActionOptions{Limit: MaxActions, PeriodLabel: st.in.PeriodLabel})
		if err != nil {
			log.Warn().Err(err).Msg("Action generation failed")
		} else if len(actions) > 0 {
			st.section("Actions recommandées")
			for _, a := range actions[:min(MaxActions, len(actions))] {
				fmt.Fprintf(&st.b, "- [%s] %s: %s\n", a.Priority, a.Title, a.Reason)
			}
			return
		}
	}

	// Without a generator, rank high-volume at-risk practitioners.
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
	st.section("Priorités suggérées")
	for _, p := range capped(risky, MaxActions) {
		fmt.Fprintf(&st.b, "- Revoir %s (%s): %s\n", p.FullName(), p.City, riskReason(&p, now))
	}
}

func (st *build) scheduleSection() {
	now := st.now()
	horizon := now.Add(14 * 24 * time.Hour)
	var upcoming []models.Event
	for _, e := range st.in.Events {
		if !e.Start.Before(now.Truncate(24*time.Hour)) && e.Start.Before(horizon) {
			upcoming = append(upcoming, e)
		}
	}
	st.section("Agenda (14 prochains jours)")
	if len(upcoming) == 0 {
		st.b.WriteString("Aucun rendez-vous planifié.\n")
		return
	}
	sort.Slice(upcoming, func(i, j int) bool { return upcoming[i].Start.Before(upcoming[j].Start) })
	for _, e := range upcoming[:min(MaxEvents, len(upcoming))] {
		fmt.Fprintf(&st.b, "- %s: %s", e.Start.Format("02/01 15:04"), e.Title)
		if e.Location != "" {
			fmt.Fprintf(&st.b, " (%s)", e.Location)
		}
		st.b.WriteString("\n")
	}
}

func (st *build) performanceSection() {
	if len(st.in.Objectives) == 0 && st.in.CRM == nil {
		return
	}
	st.section("Objectifs et performance")
	for _, o := range st.in.Objectives {
		fmt.Fprintf(&st.b, "- %s: %.0f/%.0f %s (%.0f%%)", o.Label, o.Current, o.Target, o.Unit, o.Progress())
		if o.Deadline != "" {
			fmt.Fprintf(&st.b, ", échéance %s", o.Deadline)
		}
		st.b.WriteString("\n")
	}
	if c := st.in.CRM; c != nil && len(c.VolumeBySegment) > 0 {
		segs := make([]string, 0, len(c.VolumeBySegment))
		for s := range c.VolumeBySegment {
			segs = append(segs, s)
		}
		sort.Strings(segs)
		parts := make([]string, len(segs))
		for i, s := range segs {
			parts[i] = fmt.Sprintf("%s %.0f", s, c.VolumeBySegment[s])
		}
		fmt.Fprintf(&st.b, "Volume par segment: %s.\n", strings.Join(parts, ", "))
	}
}

func (st *build) newsSection() {
	type item struct {
		date time.Time
		line string
	}
	var items []item
	for _, p := range st.in.Entities {
		for _, pub := range p.Publications {
			items = append(items, item{pub.Date, fmt.Sprintf("- %s, publication: %s (%s)", p.FullName(), pub.Title, pub.Date.Format("01/2006"))})
		}
		for _, n := range p.News {
			items = append(items, item{n.Date, fmt.Sprintf("- %s, actualité: %s (%s)", p.FullName(), n.Title, n.Date.Format("02/01/2006"))})
		}
	}
	if len(items) == 0 {
		return
	}
	sort.Slice(items, func(i, j int) bool { return items[i].date.After(items[j].date) })
	st.section("Publications et actualités récentes")
	for _, it := range items[:min(MaxNewsItems, len(items))] {
		st.b.WriteString(it.line + "\n")
	}
}

func (st *build) reportsSection() {
	type note struct {
		date time.Time
		line string
	}
	var notes []note
	for _, p := range st.in.Entities {
		for _, n := range p.Notes {
			notes = append(notes, note{n.Date, fmt.Sprintf("- %s (%s): %s", p.FullName(), n.Date.Format("02/01/2006"), textnorm.Truncate(n.Content, 200))})
		}
	}
	c := st.in.CRM
	if len(notes) == 0 && (c == nil || (c.PendingReports == 0 && c.LastReportDigest == "")) {
		return
	}
	st.section("Comptes rendus")
	if c != nil {
		if c.PendingReports > 0 {
			fmt.Fprintf(&st.b, "Comptes rendus en attente: %d.\n", c.PendingReports)
		}
		if c.LastReportDigest != "" {
			fmt.Fprintf(&st.b, "Dernier rapport: %s\n", textnorm.Truncate(c.LastReportDigest, 400))
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].date.After(notes[j].date) })
	for _, n := range notes[:min(MaxReportNotes, len(notes))] {
		st.b.WriteString(n.line + "\n")
	}
}

// knowledgeSection retrieves passages at most once per build.
func (st *build) knowledgeSection() {
	if st.ragDone {
		return
	}
	st.ragDone = true
	if st.knowledge == nil {
		return
	}

	res, err := st.knowledge.RetrieveKnowledge(st.ctx, st.in.Question, KnowledgeTopK, KnowledgeMaxChars)
	if err != nil {
		log.Warn().Err(err).Msg("Knowledge retrieval failed")
		return
	}
	if res == nil || (len(res.Chunks) == 0 && strings.TrimSpace(res.Context) == "") {
		return
	}
	st.out.UsedRAG = true
	st.out.RAGSources = res.Chunks

	st.section("Base documentaire")
	text := res.Context
	if strings.TrimSpace(text) == "" {
		var b strings.Builder
		for _, c := range res.Chunks {
			fmt.Fprintf(&b, "[%s] %s\n", c.Title, c.Content)
		}
		text = b.String()
	}
	st.b.WriteString(textnorm.Truncate(strings.TrimSpace(text), KnowledgeMaxChars) + "\n")
}
