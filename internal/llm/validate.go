package llm

import (
	"context"
	"time"

	"github.com/agentoven/aria/internal/providers"
	"github.com/agentoven/aria/pkg/models"
)

// Validate performs a user-triggered connection test. Unlike Invoke it never
// returns an error: failures are described by Cause.
func (iv *Invoker) Validate(ctx context.Context, a *providers.Adapter, credential string) *models.ProviderTestResult {
	start := time.Now()
	opts := models.CompletionOptions{MaxTokens: 16, Retries: -1, Temperature: models.Temp(0)}
	result := &models.ProviderTestResult{
		Provider: a.Name,
		Kind:     string(a.Kind),
		Model:    a.ModelFor(opts),
	}

	_, err := iv.Invoke(ctx, a, credential, []models.ChatMessage{
		{Role: models.RoleUser, Content: "Réponds uniquement: OK"},
	}, opts)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		result.Cause = Cause(err)
		return result
	}
	result.Healthy = true
	return result
}

// Cause turns an invocation error into a message fit for end users.
func Cause(err error) string {
	switch KindOf(err) {
	case KindAuth:
		return "Clé API invalide, expirée ou sans accès à ce modèle."
	case KindRateLimit:
		return "Quota ou limite de débit atteint chez le fournisseur, réessayez plus tard."
	case KindServer:
		return "Le service du fournisseur est momentanément indisponible."
	case KindTransport:
		return "Impossible de joindre le fournisseur: vérifiez la connexion réseau et l'URL."
	case KindBadRequest:
		return "Requête refusée par le fournisseur: vérifiez le modèle et les paramètres."
	case KindEmpty:
		return "Le fournisseur a répondu sans contenu exploitable."
	case KindCanceled:
		return "Test annulé."
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
