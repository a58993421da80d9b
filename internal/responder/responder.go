// Package responder writes the final answer from the assembled context.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/agentoven/aria/internal/textnorm"
	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

const (
	// RecentTurns is how many conversation messages are replayed.
	RecentTurns = 10
	// ChartSummaryPoints caps the data points quoted from a chart.
	ChartSummaryPoints = 8

	maxTokens = 1500
)

// ErrEmptyResponse is returned when the model produced only whitespace.
var ErrEmptyResponse = errors.New("empty response")

const persona = `Tu es ARIA, l'assistant d'un délégué médical terrain en France.
Tu réponds en français, de façon concise et structurée (markdown léger).
Tu t'appuies uniquement sur les données fournies dans le contexte. Si une information manque, dis-le clairement.
N'invente jamais de chiffres, de noms ou de rendez-vous.`

// Input is one answer to write.
type Input struct {
	Question    string
	PeriodLabel string
	// Routing is nil on the direct path.
	Routing *models.RouterResult
	Context string
	Chart   *models.ChartResult
	History []models.ConversationMessage
}

// Responder builds answer prompts and calls the bound model.
type Responder struct {
	now func() time.Time
}

// New creates a responder.
func New() *Responder {
	return &Responder{now: time.Now}
}

// Respond writes the routed answer.
func (r *Responder) Respond(ctx context.Context, llm contracts.Completer, in Input) (string, error) {
	text, err := llm.Complete(ctx, r.Messages(in), options(in.Routing))
	return checked(text, err)
}

// RespondStream is Respond with incremental output.
func (r *Responder) RespondStream(ctx context.Context, llm contracts.StreamCompleter, in Input, onChunk func(string)) (string, error) {
	text, err := llm.CompleteStream(ctx, r.Messages(in), options(in.Routing), onChunk)
	return checked(text, err)
}

// Direct writes an answer without routing. in.Context should come from the
// generic context builder; in.Routing is ignored.
func (r *Responder) Direct(ctx context.Context, llm contracts.Completer, in Input) (string, error) {
	in.Routing = nil
	return r.Respond(ctx, llm, in)
}

// DirectStream is Direct with incremental output.
func (r *Responder) DirectStream(ctx context.Context, llm contracts.StreamCompleter, in Input, onChunk func(string)) (string, error) {
	in.Routing = nil
	return r.RespondStream(ctx, llm, in, onChunk)
}

// Temperature picks the sampling temperature for an intent.
func Temperature(routing *models.RouterResult) float64 {
	if routing == nil {
		return 0.3
	}
	switch routing.Intent {
	case models.IntentStrategicAdvice:
		return 0.5
	case models.IntentGeneral:
		return 0.6
	default:
		return 0.3
	}
}

func options(routing *models.RouterResult) models.CompletionOptions {
	return models.CompletionOptions{Temperature: models.Temp(Temperature(routing)), MaxTokens: maxTokens}
}

func checked(text string, err error) (string, error) {
	if err != nil {
		return "", fmt.Errorf("respond: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Messages assembles persona, context, chart summary, recent turns and the
// question.
func (r *Responder) Messages(in Input) []models.ChatMessage {
	var sys strings.Builder
	sys.WriteString(persona)
	fmt.Fprintf(&sys, "\n\nDate du jour: %s.", r.now().Format("02/01/2006"))
	if in.PeriodLabel != "" {
		fmt.Fprintf(&sys, " Période analysée: %s.", in.PeriodLabel)
	}
	if in.Routing == nil {
		sys.WriteString("\nLa question n'a pas pu être analysée finement: réponds à partir de la vue d'ensemble du territoire ci-dessous.")
	} else if g := strings.TrimSpace(in.Routing.ResponseGuidance); g != "" {
		fmt.Fprintf(&sys, "\nConsigne: %s", g)
	}
	if c := strings.TrimSpace(in.Context); c != "" {
		fmt.Fprintf(&sys, "\n\n# Contexte\n%s", c)
	}
	if in.Chart != nil {
		fmt.Fprintf(&sys, "\n\n%s", ChartSummary(in.Chart))
	}

	msgs := []models.ChatMessage{{Role: models.RoleSystem, Content: sys.String()}}
	history := in.History
	if len(history) > RecentTurns {
		history = history[len(history)-RecentTurns:]
	}
	for _, m := range history {
		if m.Role != models.RoleUser && m.Role != models.RoleAssistant {
			continue
		}
		content := m.Content
		if m.HasChart && m.ChartSummary != "" {
			content += "\n[Graphique: " + m.ChartSummary + "]"
		}
		msgs = append(msgs, models.ChatMessage{Role: m.Role, Content: content})
	}
	return append(msgs, models.ChatMessage{Role: models.RoleUser, Content: in.Question})
}

// ChartSummary describes a displayed chart for the answer prompt.
func ChartSummary(res *models.ChartResult) string {
	var b strings.Builder
	b.WriteString("# Graphique affiché\n")
	if res.Spec != nil {
		fmt.Fprintf(&b, "%s (%s)\n", res.Spec.Title, res.Spec.ChartType)
	}
	data := res.Data
	if len(data) > ChartSummaryPoints {
		data = data[:ChartSummaryPoints]
	}
	for _, d := range data {
		fmt.Fprintf(&b, "- %s: %s\n", d.Label, strconv.FormatFloat(d.Value, 'f', -1, 64))
	}
	if n := len(res.Data) - len(data); n > 0 {
		fmt.Fprintf(&b, "(+%d autres points)\n", n)
	}
	for _, in := range res.Insights {
		fmt.Fprintf(&b, "Observation: %s\n", in)
	}
	b.WriteString("Ce graphique est déjà affiché à l'utilisateur. Complète-le par une analyse et des recommandations, sans le redécrire point par point.")
	return b.String()
}

// ShortSummary is the one-line chart description stored with a message.
func ShortSummary(res *models.ChartResult) string {
	if res == nil || res.Spec == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	for i, d := range res.Data {
		if i == 3 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s %s", d.Label, strconv.FormatFloat(d.Value, 'f', -1, 64)))
	}
	return textnorm.Truncate(fmt.Sprintf("%s (%s): %s", res.Spec.Title, res.Spec.ChartType, strings.Join(parts, ", ")), 200)
}
