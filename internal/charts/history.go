package charts

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentoven/aria/pkg/models"
)

// DefaultHistorySize bounds the charts kept per conversation.
const DefaultHistorySize = 10

// History keeps the most recent charts, newest first.
type History struct {
	mu      sync.Mutex
	size    int
	entries []models.ChartHistoryEntry
}

// NewHistory creates a history holding at most size entries.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size}
}

// Record pushes a completed chart and returns its entry.
func (h *History) Record(question string, res *models.ChartResult) models.ChartHistoryEntry {
	e := models.ChartHistoryEntry{
		ID:        uuid.NewString(),
		Question:  question,
		Spec:      res.Spec.Clone(),
		Data:      append([]models.ChartDataPoint(nil), res.Data...),
		Insights:  append([]string(nil), res.Insights...),
		Timestamp: time.Now().UTC(),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]models.ChartHistoryEntry{e}, h.entries...)
	if len(h.entries) > h.size {
		h.entries = h.entries[:h.size]
	}
	return e
}

// Entries returns a copy, newest first.
func (h *History) Entries() []models.ChartHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.ChartHistoryEntry(nil), h.entries...)
}

// Latest returns the most recent chart.
func (h *History) Latest() (models.ChartHistoryEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return models.ChartHistoryEntry{}, false
	}
	return h.entries[0], true
}

// Len reports the number of stored charts.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear drops all charts.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}
