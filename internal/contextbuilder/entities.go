package contextbuilder

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/agentoven/aria/internal/textnorm"
	"github.com/agentoven/aria/pkg/models"
)

// MatchNames resolves names against entities: exact substring match on the
// folded full name first, then fuzzy match for terms with no exact hit.
func MatchNames(entities []models.Practitioner, names []string, limit int) []models.Practitioner {
	folded := make([]string, len(entities))
	for i := range entities {
		folded[i] = textnorm.Fold(entities[i].FirstName + " " + entities[i].LastName)
	}

	seen := map[int]bool{}
	var out []int
	add := func(i int) {
		if !seen[i] && len(out) < limit {
			seen[i] = true
			out = append(out, i)
		}
	}

	for _, name := range names {
		term := textnorm.Fold(stripTitle(name))
		if term == "" {
			continue
		}
		hit := false
		for i, f := range folded {
			if strings.Contains(f, term) {
				add(i)
				hit = true
			}
		}
		if hit {
			continue
		}
		matches := fuzzy.Find(term, folded)
		for j, m := range matches {
			// Keep only the best-scoring fuzzy candidates.
			if j > 0 && m.Score < matches[0].Score {
				break
			}
			add(m.Index)
		}
	}

	res := make([]models.Practitioner, len(out))
	for i, idx := range out {
		res[i] = entities[idx]
	}
	return res
}

// DetectNames returns last names of entities that appear as words in text.
func DetectNames(entities []models.Practitioner, text string) []string {
	words := map[string]bool{}
	for _, w := range textnorm.Words(text) {
		if len(w) > 2 {
			words[w] = true
		}
	}
	var names []string
	seen := map[string]bool{}
	for _, p := range entities {
		last := textnorm.Fold(p.LastName)
		if last != "" && words[last] && !seen[last] {
			seen[last] = true
			names = append(names, p.LastName)
		}
	}
	return names
}

// Filter keeps entities matching every non-empty criterion.
func Filter(entities []models.Practitioner, terms models.SearchTerms) []models.Practitioner {
	var out []models.Practitioner
	for _, p := range entities {
		if terms.IsKOL && !p.IsKOL {
			continue
		}
		if len(terms.Cities) > 0 && !matchesAny(p.City, terms.Cities) {
			continue
		}
		if len(terms.Specialties) > 0 && !matchesAny(p.Specialty, terms.Specialties) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matchesAny(value string, candidates []string) bool {
	v := textnorm.Fold(value)
	for _, c := range candidates {
		if c = textnorm.Fold(c); c != "" && strings.Contains(v, c) {
			return true
		}
	}
	return false
}

func stripTitle(name string) string {
	name = strings.TrimSpace(name)
	for _, t := range []string{"Dr.", "Dr ", "Pr.", "Pr ", "Docteur ", "Professeur "} {
		if len(name) >= len(t) && strings.EqualFold(name[:len(t)], t) {
			return strings.TrimSpace(name[len(t):])
		}
	}
	return name
}

// Row is the one-line summary of a practitioner.
func Row(p *models.Practitioner) string {
	kol := ""
	if p.IsKOL {
		kol = ", KOL"
	}
	return fmt.Sprintf("- %s (%s, %s%s): volume %.0f, fidélité %.1f/10, vingtile %d, visites %d\n",
		p.FullName(), p.Specialty, p.City, kol, p.Volume, p.LoyaltyScore, p.Vingtile, p.VisitCount)
}

// Profile is the full enriched description of a practitioner.
func Profile(p *models.Practitioner, events []models.Event, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n", p.FullName())
	fmt.Fprintf(&b, "Spécialité: %s. Ville: %s", p.Specialty, p.City)
	if p.PostalCode != "" {
		fmt.Fprintf(&b, " (%s)", p.PostalCode)
	}
	b.WriteString(".\n")
	fmt.Fprintf(&b, "Volume: %.0f. Fidélité: %.1f/10. Vingtile: %d. Segment: %s.", p.Volume, p.LoyaltyScore, p.Vingtile, orDash(p.Segment))
	if p.IsKOL {
		b.WriteString(" Leader d'opinion (KOL).")
	}
	if p.Trend != "" {
		fmt.Fprintf(&b, " Tendance: %s.", p.Trend)
	}
	b.WriteString("\n")
	if d := p.DaysSinceVisit(now); d >= 0 {
		fmt.Fprintf(&b, "Dernière visite il y a %d jours (%d visites au total).\n", d, p.VisitCount)
	} else {
		b.WriteString("Jamais visité.\n")
	}
	if p.PreferredSlot != "" {
		fmt.Fprintf(&b, "Créneau préféré: %s.\n", p.PreferredSlot)
	}

	pubs := append([]models.Publication(nil), p.Publications...)
	sort.Slice(pubs, func(i, j int) bool { return pubs[i].Date.After(pubs[j].Date) })
	for _, pub := range pubs[:min(3, len(pubs))] {
		fmt.Fprintf(&b, "Publication (%s): %s", pub.Date.Format("01/2006"), pub.Title)
		if pub.Journal != "" {
			fmt.Fprintf(&b, ", %s", pub.Journal)
		}
		b.WriteString("\n")
	}

	news := append([]models.NewsItem(nil), p.News...)
	sort.Slice(news, func(i, j int) bool { return news[i].Date.After(news[j].Date) })
	for _, n := range news[:min(3, len(news))] {
		fmt.Fprintf(&b, "Actualité (%s): %s\n", n.Date.Format("02/01/2006"), n.Title)
	}

	notes := append([]models.VisitNote(nil), p.Notes...)
	sort.Slice(notes, func(i, j int) bool { return notes[i].Date.After(notes[j].Date) })
	for _, n := range notes[:min(3, len(notes))] {
		fmt.Fprintf(&b, "Note de visite (%s): %s\n", n.Date.Format("02/01/2006"), textnorm.Truncate(n.Content, 300))
	}

	var next *models.Event
	for i := range events {
		e := &events[i]
		if e.PractitionerID == p.ID && e.Start.After(now) && (next == nil || e.Start.Before(next.Start)) {
			next = e
		}
	}
	if next != nil {
		fmt.Fprintf(&b, "Prochain rendez-vous: %s le %s.\n", next.Title, next.Start.Format("02/01/2006 15:04"))
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
