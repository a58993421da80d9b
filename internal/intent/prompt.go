package intent

import (
	"fmt"
	"strings"

	"github.com/agentoven/aria/internal/textnorm"
	"github.com/agentoven/aria/pkg/models"
)

const systemPrompt = `Tu es le routeur d'ARIA, copilote de délégués médicaux. Analyse la question et réponds UNIQUEMENT avec un objet JSON.

Intentions (intent):
- practitioner_info: informations sur un ou plusieurs praticiens nommés
- data_query: question chiffrée ou liste filtrée sur le territoire
- chart_create: demande d'un nouveau graphique
- chart_modify: modification du graphique précédent (type, limite, filtre, regroupement)
- strategic_advice: conseil, priorisation, stratégie commerciale
- planning: agenda, tournée, rendez-vous, organisation de la semaine
- knowledge_query: question médicale, produit, réglementaire ou scientifique
- general: salutation, conversation, aide sur l'outil

Portée des données (dataScope): specific (praticiens nommés), filtered (ville, spécialité, KOL), aggregated (classements, totaux), full (vue d'ensemble du territoire), knowledge (base documentaire).

Regroupements (groupBy): %s.
Métriques (metrics): %s.
Types de graphique (chartType): %s.
Opérateurs de filtre: eq, neq, gt, gte, lt, lte, contains, in.

Format attendu:
{"intent":"...","needsChart":false,"chartModification":false,"dataScope":"...",
 "searchTerms":{"names":[],"cities":[],"specialties":[],"isKOL":false},
 "chartParams":{"chartType":"bar","groupBy":"city","metrics":["count"],"limit":10,"sortOrder":"desc","filters":[]},
 "responseGuidance":"consigne courte pour la réponse"}

Règles:
- Si l'utilisateur donne un nombre explicite ("top 15"), reprends-le dans chartParams.limit.
- chart_modify seulement si un graphique précédent existe.
- Les noms de praticiens vont dans searchTerms.names, sans titre (Dr, Pr).`

func buildSystemPrompt() string {
	types := make([]string, len(models.ChartTypes))
	for i, t := range models.ChartTypes {
		types[i] = string(t)
	}
	return fmt.Sprintf(systemPrompt,
		strings.Join(models.GroupKeys, ", "),
		strings.Join(models.MetricKeys, ", "),
		strings.Join(types, ", "),
	)
}

func buildUserPrompt(in Input) string {
	var b strings.Builder
	if len(in.ChartHistory) > 0 {
		last := in.ChartHistory[0]
		if last.Spec != nil {
			fmt.Fprintf(&b, "Graphique précédent: %q (type %s, regroupement %s, limite %d)\n",
				last.Spec.Title, last.Spec.ChartType, last.Spec.Query.GroupBy, last.Spec.Query.Limit)
		}
	} else {
		b.WriteString("Aucun graphique précédent.\n")
	}
	if in.LastAssistantMessage != "" {
		fmt.Fprintf(&b, "Dernière réponse de l'assistant: %s\n", textnorm.Truncate(in.LastAssistantMessage, 400))
	}
	fmt.Fprintf(&b, "Question: %s", in.Question)
	return b.String()
}
