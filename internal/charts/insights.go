package charts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/agentoven/aria/pkg/models"
)

var metricLabels = map[string]string{
	models.MetricCount:     "Nombre de praticiens",
	models.MetricVolume:    "Volume",
	models.MetricAvgVolume: "Volume moyen",
	models.MetricLoyalty:   "Fidélité moyenne",
	models.MetricVisits:    "Visites",
}

var groupLabels = map[string]string{
	models.GroupCity:         "ville",
	models.GroupSpecialty:    "spécialité",
	models.GroupVingtile:     "vingtile",
	models.GroupLoyalty:      "niveau de fidélité",
	models.GroupKOL:          "statut KOL",
	models.GroupSegment:      "segment",
	models.GroupTrend:        "tendance",
	models.GroupPractitioner: "praticien",
}

// DefaultTitle names a spec from its first metric and grouping.
func DefaultTitle(spec *models.ChartSpecification) string {
	metric := models.MetricCount
	if len(spec.Query.Metrics) > 0 {
		metric = spec.Query.Metrics[0]
	}
	title := fmt.Sprintf("%s par %s", metricLabels[metric], groupLabels[spec.Query.GroupBy])
	if spec.Query.Limit > 0 {
		title = fmt.Sprintf("Top %d: %s", spec.Query.Limit, strings.ToLower(title[:1])+title[1:])
	}
	return title
}

// Insights returns short French observations about the executed data.
func Insights(spec *models.ChartSpecification, data []models.ChartDataPoint) []string {
	if len(data) == 0 {
		return []string{"Aucune donnée ne correspond aux critères du graphique."}
	}
	metric := models.MetricCount
	if len(spec.Query.Metrics) > 0 {
		metric = spec.Query.Metrics[0]
	}

	var total float64
	for _, d := range data {
		total += d.Value
	}
	var out []string
	lead := data[0]
	if spec.Query.SortOrder == "asc" {
		out = append(out, fmt.Sprintf("%s ferme la marche avec %s.", lead.Label, format(lead.Value)))
	} else if additive(metric) && total > 0 {
		out = append(out, fmt.Sprintf("%s arrive en tête avec %s (%.0f%% du total affiché).", lead.Label, format(lead.Value), lead.Value/total*100))
	} else {
		out = append(out, fmt.Sprintf("%s arrive en tête avec %s.", lead.Label, format(lead.Value)))
	}

	if len(data) > 3 && additive(metric) && total > 0 {
		top3 := data[0].Value + data[1].Value + data[2].Value
		out = append(out, fmt.Sprintf("Les 3 premiers concentrent %.0f%% du total.", top3/total*100))
	}
	if additive(metric) {
		out = append(out, fmt.Sprintf("%d groupes, total %s.", len(data), format(total)))
	} else {
		out = append(out, fmt.Sprintf("%d groupes, moyenne %s.", len(data), format(total/float64(len(data)))))
	}
	return out
}

// Suggestions proposes follow-up modifications.
func Suggestions(spec *models.ChartSpecification) []string {
	var out []string
	switch spec.ChartType {
	case models.ChartPie, models.ChartDoughnut:
		out = append(out, "Afficher en barres")
	default:
		out = append(out, "Afficher en camembert")
	}
	if spec.Query.Limit == 0 || spec.Query.Limit > 5 {
		out = append(out, "Limiter au top 5")
	}
	if spec.Query.GroupBy != models.GroupSpecialty {
		out = append(out, "Répartir par spécialité")
	} else {
		out = append(out, "Répartir par ville")
	}
	if !hasFilter(spec.Query.Filters, "kol") {
		out = append(out, "Uniquement les KOL")
	}
	return out
}

func additive(metric string) bool {
	return metric == models.MetricCount || metric == models.MetricVolume || metric == models.MetricVisits
}

func format(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
