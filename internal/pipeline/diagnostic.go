package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentoven/aria/internal/fallback"
	"github.com/agentoven/aria/internal/llm"
	"github.com/agentoven/aria/internal/ondevice"
)

var tierNames = map[fallback.Tier]string{
	fallback.TierConfigured: "Fournisseur configuré",
	fallback.TierLocal:      "Fournisseur local",
	fallback.TierOnDevice:   "Moteur embarqué",
}

// Diagnostic renders the terminal failure message. It names every tier that
// was tried and why it failed.
func Diagnostic(err error) string {
	var b strings.Builder
	b.WriteString("Je n'ai pas pu générer de réponse: aucun moteur d'IA n'a répondu.")

	var fe *fallback.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "La demande a été annulée avant la fin du traitement."
	case errors.Is(err, context.DeadlineExceeded):
		b.WriteString("\n- Délai de réponse dépassé.")
	case errors.As(err, &fe):
		for _, a := range fe.Attempts {
			name := tierNames[a.Tier]
			if a.Provider != "" {
				name = fmt.Sprintf("%s (%s)", name, a.Provider)
			}
			fmt.Fprintf(&b, "\n- %s: %s", name, cause(a))
		}
	case err != nil:
		fmt.Fprintf(&b, "\n- %s", llm.Cause(err))
	}
	b.WriteString("\nVérifiez la configuration du fournisseur dans les réglages puis réessayez.")
	return b.String()
}

func cause(a fallback.Attempt) string {
	switch {
	case errors.Is(a.Err, ondevice.ErrNoGPU):
		return "non pris en charge sur cet appareil (aucun GPU compatible)."
	case errors.Is(a.Err, ondevice.ErrRuntimeUnavailable):
		return "moteur d'inférence local indisponible."
	case errors.Is(a.Err, ondevice.ErrOutOfMemory):
		return "mémoire insuffisante pour charger le modèle."
	case errors.Is(a.Err, ondevice.ErrNoNetwork):
		return "pas de réseau pour télécharger le modèle."
	}
	return llm.Cause(a.Err)
}
