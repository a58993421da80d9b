package models

import "time"

// ChartType is one of the renderable chart kinds.
type ChartType string

const (
	ChartBar      ChartType = "bar"
	ChartPie      ChartType = "pie"
	ChartLine     ChartType = "line"
	ChartDoughnut ChartType = "doughnut"
	ChartRadar    ChartType = "radar"
)

// ChartTypes lists every valid chart type.
var ChartTypes = []ChartType{ChartBar, ChartPie, ChartLine, ChartDoughnut, ChartRadar}

// Group-by keys understood by the chart executor.
const (
	GroupCity         = "city"
	GroupSpecialty    = "specialty"
	GroupVingtile     = "vingtile"
	GroupLoyalty      = "loyalty"
	GroupKOL          = "kol"
	GroupSegment      = "segment"
	GroupTrend        = "trend"
	GroupPractitioner = "practitioner"
)

// GroupKeys lists every valid group-by key.
var GroupKeys = []string{GroupCity, GroupSpecialty, GroupVingtile, GroupLoyalty, GroupKOL, GroupSegment, GroupTrend, GroupPractitioner}

// Metric names understood by the chart executor.
const (
	MetricCount     = "count"
	MetricVolume    = "volume"
	MetricAvgVolume = "avgVolume"
	MetricLoyalty   = "loyalty"
	MetricVisits    = "visits"
)

// MetricKeys lists every valid metric.
var MetricKeys = []string{MetricCount, MetricVolume, MetricAvgVolume, MetricLoyalty, MetricVisits}

// ChartFilter restricts the rows a chart aggregates.
type ChartFilter struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ChartQuery is the executable part of a chart spec.
type ChartQuery struct {
	Source    string        `json:"source"`
	Filters   []ChartFilter `json:"filters"`
	GroupBy   string        `json:"groupBy"`
	Metrics   []string      `json:"metrics"`
	SortBy    string        `json:"sortBy,omitempty"`
	SortOrder string        `json:"sortOrder,omitempty"`
	Limit     int           `json:"limit,omitempty"`
}

// ChartFormatting carries presentation hints.
type ChartFormatting struct {
	ShowLegend bool     `json:"showLegend"`
	ShowValues bool     `json:"showValues,omitempty"`
	Colors     []string `json:"colors,omitempty"`
	XAxisLabel string   `json:"xAxisLabel,omitempty"`
	YAxisLabel string   `json:"yAxisLabel,omitempty"`
	Stacked    bool     `json:"stacked,omitempty"`
}

// ChartSpecification is a structured, executable chart description.
type ChartSpecification struct {
	ChartType   ChartType       `json:"chartType"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Query       ChartQuery      `json:"query"`
	Formatting  ChartFormatting `json:"formatting"`
}

// Clone returns a deep copy of the spec.
func (s *ChartSpecification) Clone() *ChartSpecification {
	if s == nil {
		return nil
	}
	out := *s
	out.Query.Filters = append([]ChartFilter(nil), s.Query.Filters...)
	out.Query.Metrics = append([]string(nil), s.Query.Metrics...)
	out.Formatting.Colors = append([]string(nil), s.Formatting.Colors...)
	return &out
}

// ChartDataPoint is one aggregated group.
type ChartDataPoint struct {
	Label  string             `json:"label"`
	Value  float64            `json:"value"`
	Values map[string]float64 `json:"values,omitempty"`
}

// ChartResult is an executed spec.
type ChartResult struct {
	Spec        *ChartSpecification `json:"spec"`
	Data        []ChartDataPoint    `json:"data"`
	Insights    []string            `json:"insights,omitempty"`
	Suggestions []string            `json:"suggestions,omitempty"`
}

// ChartHistoryEntry is one generated chart kept for later modification.
type ChartHistoryEntry struct {
	ID        string              `json:"id"`
	Question  string              `json:"question"`
	Spec      *ChartSpecification `json:"spec"`
	Data      []ChartDataPoint    `json:"data"`
	Insights  []string            `json:"insights,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}
