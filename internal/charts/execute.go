package charts

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/agentoven/aria/internal/textnorm"
	"github.com/agentoven/aria/pkg/models"
)

type fieldKind int

const (
	kindString fieldKind = iota
	kindNumber
	kindBool
)

// filterFields maps accepted filter field names to an environment key.
var filterFields = map[string]struct {
	key  string
	kind fieldKind
}{
	"city":           {"city", kindString},
	"ville":          {"city", kindString},
	"specialty":      {"specialty", kindString},
	"specialite":     {"specialty", kindString},
	"segment":        {"segment", kindString},
	"trend":          {"trend", kindString},
	"name":           {"name", kindString},
	"volume":         {"volume", kindNumber},
	"loyalty":        {"loyalty", kindNumber},
	"loyaltyscore":   {"loyalty", kindNumber},
	"vingtile":       {"vingtile", kindNumber},
	"visits":         {"visits", kindNumber},
	"visitcount":     {"visits", kindNumber},
	"dayssincevisit": {"daysSinceVisit", kindNumber},
	"kol":            {"kol", kindBool},
	"iskol":          {"kol", kindBool},
}

var envSample = map[string]any{
	"city": "", "specialty": "", "segment": "", "trend": "", "name": "",
	"volume": 0.0, "loyalty": 0.0, "vingtile": 0.0, "visits": 0.0, "daysSinceVisit": 0.0,
	"kol": false,
}

// filterExpr renders one filter as an expr-lang boolean expression. String
// comparisons are accent and case insensitive.
func filterExpr(f models.ChartFilter) (string, error) {
	fd, ok := filterFields[strings.ToLower(strings.TrimSpace(f.Field))]
	if !ok {
		return "", fmt.Errorf("unknown filter field %q", f.Field)
	}

	op := strings.ToLower(strings.TrimSpace(f.Operator))
	if op == "" {
		op = "eq"
	}
	if op == "in" {
		vals, ok := f.Value.([]any)
		if !ok {
			vals = []any{f.Value}
		}
		lits := make([]string, 0, len(vals))
		for _, v := range vals {
			lit, err := literal(fd.kind, v)
			if err != nil {
				return "", err
			}
			lits = append(lits, lit)
		}
		return fmt.Sprintf("%s in [%s]", fd.key, strings.Join(lits, ", ")), nil
	}

	lit, err := literal(fd.kind, f.Value)
	if err != nil {
		return "", err
	}
	switch op {
	case "eq", "=", "==":
		return fmt.Sprintf("%s == %s", fd.key, lit), nil
	case "neq", "ne", "!=":
		return fmt.Sprintf("%s != %s", fd.key, lit), nil
	case "gt", ">":
		return numericOp(fd.key, fd.kind, ">", lit)
	case "gte", ">=":
		return numericOp(fd.key, fd.kind, ">=", lit)
	case "lt", "<":
		return numericOp(fd.key, fd.kind, "<", lit)
	case "lte", "<=":
		return numericOp(fd.key, fd.kind, "<=", lit)
	case "contains":
		if fd.kind != kindString {
			return "", fmt.Errorf("contains needs a text field, got %q", f.Field)
		}
		return fmt.Sprintf("%s contains %s", fd.key, lit), nil
	}
	return "", fmt.Errorf("unknown operator %q", f.Operator)
}

func numericOp(key string, kind fieldKind, op, lit string) (string, error) {
	if kind != kindNumber {
		return "", fmt.Errorf("operator %s needs a numeric field, got %q", op, key)
	}
	return fmt.Sprintf("%s %s %s", key, op, lit), nil
}

func literal(kind fieldKind, v any) (string, error) {
	switch kind {
	case kindNumber:
		switch n := v.(type) {
		case float64:
			return strconv.FormatFloat(n, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(n), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return "", fmt.Errorf("not a number: %q", n)
			}
			return strconv.FormatFloat(f, 'f', -1, 64), nil
		}
		return "", fmt.Errorf("not a number: %v", v)
	case kindBool:
		switch b := v.(type) {
		case bool:
			return strconv.FormatBool(b), nil
		case string:
			switch textnorm.Fold(strings.TrimSpace(b)) {
			case "true", "oui", "yes", "1":
				return "true", nil
			case "false", "non", "no", "0":
				return "false", nil
			}
		}
		return "", fmt.Errorf("not a boolean: %v", v)
	default:
		return strconv.Quote(textnorm.Fold(fmt.Sprint(v))), nil
	}
}

func env(p *models.Practitioner, daysSinceVisit int) map[string]any {
	return map[string]any{
		"city":           textnorm.Fold(p.City),
		"specialty":      textnorm.Fold(p.Specialty),
		"segment":        textnorm.Fold(p.Segment),
		"trend":          textnorm.Fold(p.Trend),
		"name":           textnorm.Fold(p.FirstName + " " + p.LastName),
		"volume":         p.Volume,
		"loyalty":        p.LoyaltyScore,
		"vingtile":       float64(p.Vingtile),
		"visits":         float64(p.VisitCount),
		"daysSinceVisit": float64(daysSinceVisit),
		"kol":            p.IsKOL,
	}
}

// compileFilters compiles the spec filters into one program. Filters that
// cannot be compiled are reported as errors.
func compileFilters(filters []models.ChartFilter) (*vm.Program, error) {
	if len(filters) == 0 {
		return nil, nil
	}
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		e, err := filterExpr(f)
		if err != nil {
			return nil, err
		}
		parts = append(parts, "("+e+")")
	}
	src := strings.Join(parts, " && ")
	program, err := expr.Compile(src, expr.Env(envSample), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filters %q: %w", src, err)
	}
	return program, nil
}

type group struct {
	label   string
	order   float64
	count   int
	volume  float64
	loyalty float64
	visits  float64
}

// Execute runs the spec's query against the dataset.
func (g *Generator) Execute(spec *models.ChartSpecification, entities []models.Practitioner) ([]models.ChartDataPoint, error) {
	program, err := compileFilters(spec.Query.Filters)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	now := g.now()
	groups := map[string]*group{}
	var order []string
	for i := range entities {
		p := &entities[i]
		if program != nil {
			ok, err := expr.Run(program, env(p, p.DaysSinceVisit(now)))
			if err != nil {
				log.Debug().Err(err).Str("practitioner", p.ID).Msg("Filter evaluation failed")
				continue
			}
			if b, _ := ok.(bool); !b {
				continue
			}
		}

		label, ord := groupKey(spec.Query.GroupBy, p)
		gr, ok := groups[label]
		if !ok {
			gr = &group{label: label, order: ord}
			groups[label] = gr
			order = append(order, label)
		}
		gr.count++
		gr.volume += p.Volume
		gr.loyalty += p.LoyaltyScore
		gr.visits += float64(p.VisitCount)
	}

	metrics := spec.Query.Metrics
	if len(metrics) == 0 {
		metrics = []string{models.MetricCount}
	}
	points := make([]models.ChartDataPoint, 0, len(groups))
	ords := make(map[string]float64, len(groups))
	for _, label := range order {
		gr := groups[label]
		values := make(map[string]float64, len(metrics))
		for _, m := range metrics {
			values[m] = round(metricValue(m, gr))
		}
		points = append(points, models.ChartDataPoint{Label: label, Value: values[metrics[0]], Values: values})
		ords[label] = gr.order
	}

	sortPoints(points, spec.Query, metrics[0], ords)
	if l := spec.Query.Limit; l > 0 && len(points) > l {
		points = points[:l]
	}
	return points, nil
}

func metricValue(m string, gr *group) float64 {
	switch m {
	case models.MetricVolume:
		return gr.volume
	case models.MetricAvgVolume:
		return gr.volume / float64(gr.count)
	case models.MetricLoyalty:
		return gr.loyalty / float64(gr.count)
	case models.MetricVisits:
		return gr.visits
	default:
		return float64(gr.count)
	}
}

func groupKey(by string, p *models.Practitioner) (string, float64) {
	switch by {
	case models.GroupCity:
		return orUnknown(p.City), 0
	case models.GroupSpecialty:
		return orUnknown(p.Specialty), 0
	case models.GroupSegment:
		return orUnknown(p.Segment), 0
	case models.GroupTrend:
		switch p.Trend {
		case "up":
			return "En hausse", 1
		case "down":
			return "En baisse", 3
		case "stable":
			return "Stable", 2
		}
		return orUnknown(p.Trend), 4
	case models.GroupVingtile:
		return fmt.Sprintf("V%d", p.Vingtile), float64(p.Vingtile)
	case models.GroupLoyalty:
		switch {
		case p.LoyaltyScore < 4:
			return "Fidélité faible (<4)", 1
		case p.LoyaltyScore < 7:
			return "Fidélité moyenne (4-7)", 2
		default:
			return "Fidélité forte (≥7)", 3
		}
	case models.GroupKOL:
		if p.IsKOL {
			return "KOL", 1
		}
		return "Non KOL", 2
	default:
		return p.FullName(), 0
	}
}

// sortPoints orders by the sort key. Ordinal groups (vingtile, loyalty
// buckets, trend) sort by their natural order when sortBy is "label".
func sortPoints(points []models.ChartDataPoint, q models.ChartQuery, firstMetric string, ords map[string]float64) {
	desc := q.SortOrder != "asc"
	by := q.SortBy
	if by == "" {
		by = firstMetric
	}
	sort.SliceStable(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if by == "label" {
			if ords[a.Label] != ords[b.Label] {
				return ords[a.Label] < ords[b.Label]
			}
			return a.Label < b.Label
		}
		va, vb := a.Values[by], b.Values[by]
		if _, ok := a.Values[by]; !ok {
			va, vb = a.Value, b.Value
		}
		if va == vb {
			return a.Label < b.Label
		}
		if desc {
			return va > vb
		}
		return va < vb
	})
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "Non renseigné"
	}
	return s
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
