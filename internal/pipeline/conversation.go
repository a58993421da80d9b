package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentoven/aria/internal/charts"
	"github.com/agentoven/aria/internal/responder"
	"github.com/agentoven/aria/pkg/contracts"
	"github.com/agentoven/aria/pkg/models"
)

// DefaultWindow bounds the conversation messages kept.
const DefaultWindow = 20

// Data is the territory snapshot a question is asked against.
type Data struct {
	PeriodLabel string                `json:"periodLabel,omitempty"`
	Entities    []models.Practitioner `json:"entities"`
	Events      []models.Event        `json:"events,omitempty"`
	Objectives  []models.Objective    `json:"objectives,omitempty"`
	CRM         *models.CRMData       `json:"crm,omitempty"`
}

// Conversation owns one thread's history. Questions on the same
// conversation run one at a time and history is appended only once a
// result exists.
type Conversation struct {
	ID        string
	CreatedAt time.Time

	turn     sync.Mutex
	inflight atomic.Int32

	mu       sync.RWMutex
	window   int
	messages []models.ConversationMessage
	charts   *charts.History
	updated  time.Time
}

// NewConversation creates an empty conversation.
func NewConversation(id string, window, chartHistory int) *Conversation {
	if window <= 0 {
		window = DefaultWindow
	}
	now := time.Now().UTC()
	return &Conversation{
		ID:        id,
		CreatedAt: now,
		window:    window,
		charts:    charts.NewHistory(chartHistory),
		updated:   now,
	}
}

// Ask runs question through the engine.
func (c *Conversation) Ask(ctx context.Context, e *Engine, llm contracts.Completer, question string, data Data) *models.PipelineResult {
	c.inflight.Add(1)
	defer c.inflight.Add(-1)
	c.turn.Lock()
	defer c.turn.Unlock()

	res := e.ProcessQuestion(ctx, llm, c.input(question, data))
	c.record(question, res)
	return res
}

// AskStream is Ask with incremental answer text.
func (c *Conversation) AskStream(ctx context.Context, e *Engine, llm contracts.StreamCompleter, question string, data Data, onChunk func(string)) *models.PipelineResult {
	c.inflight.Add(1)
	defer c.inflight.Add(-1)
	c.turn.Lock()
	defer c.turn.Unlock()

	res := e.ProcessQuestionStream(ctx, llm, c.input(question, data), onChunk)
	c.record(question, res)
	return res
}

func (c *Conversation) input(question string, data Data) Input {
	return Input{
		Question:     question,
		History:      c.Messages(),
		ChartHistory: c.charts.Entries(),
		PeriodLabel:  data.PeriodLabel,
		Entities:     data.Entities,
		Events:       data.Events,
		Objectives:   data.Objectives,
		CRM:          data.CRM,
	}
}

// record appends the exchange. Diagnostic results are not kept so a failed
// turn does not leak into the next prompt.
func (c *Conversation) record(question string, res *models.PipelineResult) {
	if res.Source == models.SourceDiagnostic {
		return
	}
	now := time.Now().UTC()
	reply := models.ConversationMessage{Role: models.RoleAssistant, Content: res.TextContent, CreatedAt: now}
	if res.Chart != nil {
		c.charts.Record(question, res.Chart)
		reply.HasChart = true
		reply.ChartSummary = responder.ShortSummary(res.Chart)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages,
		models.ConversationMessage{Role: models.RoleUser, Content: question, CreatedAt: now},
		reply,
	)
	if n := len(c.messages) - c.window; n > 0 {
		c.messages = append([]models.ConversationMessage(nil), c.messages[n:]...)
	}
	c.updated = now
}

// Messages returns a copy of the window, oldest first.
func (c *Conversation) Messages() []models.ConversationMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.ConversationMessage(nil), c.messages...)
}

// Charts returns the chart history, newest first.
func (c *Conversation) Charts() []models.ChartHistoryEntry {
	return c.charts.Entries()
}

// Busy reports whether a question is running or queued on the conversation.
func (c *Conversation) Busy() bool { return c.inflight.Load() > 0 }

// UpdatedAt reports the last recorded exchange.
func (c *Conversation) UpdatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updated
}

// Reset clears messages and charts. It waits for an in-flight question.
func (c *Conversation) Reset() {
	c.turn.Lock()
	defer c.turn.Unlock()
	c.mu.Lock()
	c.messages = nil
	c.updated = time.Now().UTC()
	c.mu.Unlock()
	c.charts.Clear()
}
