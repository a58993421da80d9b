package charts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentoven/aria/pkg/models"
)

const systemPrompt = `Tu génères des spécifications de graphiques pour un délégué médical.
Réponds uniquement avec un objet JSON de la forme:
{
  "chartType": "bar|pie|line|doughnut|radar",
  "title": "titre court en français",
  "description": "une phrase",
  "query": {
    "source": "practitioners",
    "filters": [{"field": "...", "operator": "eq|neq|gt|gte|lt|lte|contains|in", "value": ...}],
    "groupBy": "%s",
    "metrics": ["%s"],
    "sortBy": "<une métrique ou label>",
    "sortOrder": "asc|desc",
    "limit": 0
  },
  "formatting": {"showLegend": true, "showValues": false}
}
Champs filtrables: city, specialty, segment, trend (up|down|stable), name, volume, loyalty (0-10), vingtile (1-20), visits, daysSinceVisit, kol (booléen).
Un limit à 0 signifie aucun plafond. Utilise pie ou doughnut pour des parts d'un total, line pour une évolution ordonnée.`

func buildSystemPrompt() string {
	return fmt.Sprintf(systemPrompt, strings.Join(models.GroupKeys, "|"), strings.Join(models.MetricKeys, "|"))
}

func buildCreatePrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	if r := req.Routing; r != nil {
		cp := r.ChartParams
		if cp.ChartType != "" {
			fmt.Fprintf(&b, "Type imposé: %s\n", cp.ChartType)
		}
		if cp.GroupBy != "" {
			fmt.Fprintf(&b, "Regroupement suggéré: %s\n", cp.GroupBy)
		}
		if len(cp.Metrics) > 0 {
			fmt.Fprintf(&b, "Métriques suggérées: %s\n", strings.Join(cp.Metrics, ", "))
		}
		if cp.Limit > 0 {
			fmt.Fprintf(&b, "Limite imposée: %d\n", cp.Limit)
		}
		if r.SearchTerms.IsKOL {
			b.WriteString("Uniquement les KOL.\n")
		}
	}
	fmt.Fprintf(&b, "Praticiens disponibles: %d\n", len(req.Entities))
	return b.String()
}

func buildModifyPrompt(prior *models.ChartSpecification, delta string, routing *models.RouterResult) string {
	raw, _ := json.Marshal(prior)
	var b strings.Builder
	fmt.Fprintf(&b, "Graphique actuel:\n%s\n\n", raw)
	fmt.Fprintf(&b, "Modification demandée: %s\n", delta)
	if routing != nil {
		if routing.ChartParams.ChartType != "" {
			fmt.Fprintf(&b, "Type imposé: %s\n", routing.ChartParams.ChartType)
		}
		if routing.ChartParams.Limit > 0 {
			fmt.Fprintf(&b, "Limite imposée: %d\n", routing.ChartParams.Limit)
		}
	}
	b.WriteString("Renvoie la spécification complète révisée. Conserve tout ce que la modification ne concerne pas.")
	return b.String()
}
