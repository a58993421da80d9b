package intent

import (
	"regexp"
	"strconv"

	"github.com/agentoven/aria/internal/textnorm"
	"github.com/agentoven/aria/pkg/models"
)

var (
	topNPattern   = regexp.MustCompile(`\btop\s*(\d{1,3})\b`)
	firstNPattern = regexp.MustCompile(`\b(?:les|des)\s+(\d{1,3})\s+(?:premiers|premieres|meilleurs|meilleures|plus)\b`)
	limitPattern  = regexp.MustCompile(`\b(?:limite|limiter)\s+(?:a\s+)?(\d{1,3})\b`)
	// "seulement 2 fois" is a filter, not a limit; the count must qualify a
	// ranking or chart noun.
	onlyNPattern  = regexp.MustCompile(`\b(?:seulement|uniquement)\s+(?:les\s+)?(\d{1,3})\s+(?:premiers|premieres|meilleurs|meilleures|plus|barres|parts|segments|categories|elements|points)\b`)
)

var chartTypeWords = []struct {
	words []string
	typ   models.ChartType
}{
	{[]string{"camembert", "camemberts", "circulaire", "pie"}, models.ChartPie},
	{[]string{"anneau", "donut", "doughnut", "beignet"}, models.ChartDoughnut},
	{[]string{"radar", "araignee"}, models.ChartRadar},
	{[]string{"courbe", "courbes", "lineaire", "line"}, models.ChartLine},
	{[]string{"barre", "barres", "baton", "batons", "histogramme", "bar"}, models.ChartBar},
}

// ExplicitLimit returns a count the user stated explicitly, as in
// "top 15" or "les 5 premiers".
func ExplicitLimit(question string) (int, bool) {
	q := textnorm.Fold(question)
	for _, re := range []*regexp.Regexp{topNPattern, firstNPattern, limitPattern, onlyNPattern} {
		if m := re.FindStringSubmatch(q); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil && n > 0 {
				return n, true
			}
		}
	}
	return 0, false
}

// ExplicitChartType returns a chart type the user named explicitly.
func ExplicitChartType(question string) (models.ChartType, bool) {
	words := map[string]bool{}
	for _, w := range textnorm.Words(question) {
		words[w] = true
	}
	for _, c := range chartTypeWords {
		for _, w := range c.words {
			if words[w] {
				return c.typ, true
			}
		}
	}
	return "", false
}
