package models

// Intent is the classified purpose of a question.
type Intent string

const (
	IntentPractitionerInfo Intent = "practitioner_info"
	IntentDataQuery        Intent = "data_query"
	IntentChartCreate      Intent = "chart_create"
	IntentChartModify      Intent = "chart_modify"
	IntentStrategicAdvice  Intent = "strategic_advice"
	IntentPlanning         Intent = "planning"
	IntentKnowledgeQuery   Intent = "knowledge_query"
	IntentGeneral          Intent = "general"
)

// Intents lists every valid intent in prompt order.
var Intents = []Intent{
	IntentPractitionerInfo, IntentDataQuery, IntentChartCreate, IntentChartModify,
	IntentStrategicAdvice, IntentPlanning, IntentKnowledgeQuery, IntentGeneral,
}

// DataScope controls how much of the dataset the context builder exposes.
type DataScope string

const (
	ScopeSpecific   DataScope = "specific"
	ScopeFiltered   DataScope = "filtered"
	ScopeAggregated DataScope = "aggregated"
	ScopeFull       DataScope = "full"
	ScopeKnowledge  DataScope = "knowledge"
)

// DataScopes lists every valid scope.
var DataScopes = []DataScope{ScopeSpecific, ScopeFiltered, ScopeAggregated, ScopeFull, ScopeKnowledge}

// SearchTerms are the entity hints extracted by the router.
type SearchTerms struct {
	Names       []string `json:"names"`
	Cities      []string `json:"cities"`
	Specialties []string `json:"specialties"`
	IsKOL       bool     `json:"isKOL"`
}

// ChartParams are chart hints extracted by the router.
type ChartParams struct {
	ChartType ChartType     `json:"chartType,omitempty"`
	GroupBy   string        `json:"groupBy,omitempty"`
	Metrics   []string      `json:"metrics,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	SortOrder string        `json:"sortOrder,omitempty"`
	Filters   []ChartFilter `json:"filters,omitempty"`
}

// RouterResult is produced once per question and never persisted.
type RouterResult struct {
	Intent            Intent      `json:"intent"`
	NeedsChart        bool        `json:"needsChart"`
	ChartModification bool        `json:"chartModification"`
	DataScope         DataScope   `json:"dataScope"`
	SearchTerms       SearchTerms `json:"searchTerms"`
	ChartParams       ChartParams `json:"chartParams"`
	ResponseGuidance  string      `json:"responseGuidance,omitempty"`
}
