package models

import (
	"strings"
	"time"
)

// Publication is a scientific publication authored by a practitioner.
type Publication struct {
	Title   string    `json:"title"`
	Journal string    `json:"journal,omitempty"`
	Date    time.Time `json:"date"`
}

// NewsItem is a press or social mention.
type NewsItem struct {
	Title  string    `json:"title"`
	Source string    `json:"source,omitempty"`
	Date   time.Time `json:"date"`
}

// VisitNote is a free-text note left after a visit.
type VisitNote struct {
	Date    time.Time `json:"date"`
	Content string    `json:"content"`
}

// Practitioner is the entity the territory dataset is made of.
type Practitioner struct {
	ID            string        `json:"id"`
	FirstName     string        `json:"firstName"`
	LastName      string        `json:"lastName"`
	Title         string        `json:"title,omitempty"`
	Specialty     string        `json:"specialty"`
	City          string        `json:"city"`
	PostalCode    string        `json:"postalCode,omitempty"`
	Segment       string        `json:"segment,omitempty"`
	Volume        float64       `json:"volume"`
	LoyaltyScore  float64       `json:"loyaltyScore"`
	Vingtile      int           `json:"vingtile"`
	IsKOL         bool          `json:"isKOL"`
	Trend         string        `json:"trend,omitempty"`
	VisitCount    int           `json:"visitCount"`
	LastVisit     *time.Time    `json:"lastVisit,omitempty"`
	Phone         string        `json:"phone,omitempty"`
	Email         string        `json:"email,omitempty"`
	Publications  []Publication `json:"publications,omitempty"`
	News          []NewsItem    `json:"news,omitempty"`
	Notes         []VisitNote   `json:"notes,omitempty"`
	PreferredSlot string        `json:"preferredSlot,omitempty"`
}

// FullName returns "Title First Last" without empty parts.
func (p *Practitioner) FullName() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Title, p.FirstName, p.LastName} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// DaysSinceVisit returns days since the last visit, or -1 when never visited.
func (p *Practitioner) DaysSinceVisit(now time.Time) int {
	if p.LastVisit == nil {
		return -1
	}
	return int(now.Sub(*p.LastVisit).Hours() / 24)
}

// AtRisk reports whether the practitioner needs attention: declining trend,
// weak loyalty, or no visit for more than 90 days.
func (p *Practitioner) AtRisk(now time.Time) bool {
	if p.Trend == "down" || p.LoyaltyScore < 4 {
		return true
	}
	d := p.DaysSinceVisit(now)
	return d < 0 || d > 90
}

// Event is a scheduled visit or meeting.
type Event struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Type           string    `json:"type,omitempty"`
	PractitionerID string    `json:"practitionerId,omitempty"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end,omitempty"`
	Location       string    `json:"location,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}

// Objective is a period target.
type Objective struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Target   float64 `json:"target"`
	Current  float64 `json:"current"`
	Unit     string  `json:"unit,omitempty"`
	Deadline string  `json:"deadline,omitempty"`
}

// Progress returns Current/Target as a percentage.
func (o Objective) Progress() float64 {
	if o.Target == 0 {
		return 0
	}
	return o.Current / o.Target * 100
}

// CRMData holds precomputed aggregates supplied by the host.
type CRMData struct {
	PeriodLabel      string             `json:"periodLabel,omitempty"`
	TotalVisits      int                `json:"totalVisits"`
	VisitsGoal       int                `json:"visitsGoal"`
	NewPrescribers   int                `json:"newPrescribers"`
	MarketShare      float64            `json:"marketShare"`
	VolumeGrowth     float64            `json:"volumeGrowth"`
	VolumeBySegment  map[string]float64 `json:"volumeBySegment,omitempty"`
	PendingReports   int                `json:"pendingReports"`
	LastReportDigest string             `json:"lastReportDigest,omitempty"`
}

// Action is a recommended next step produced by the action generator.
type Action struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Priority       string `json:"priority"`
	Title          string `json:"title"`
	Reason         string `json:"reason"`
	PractitionerID string `json:"practitionerId,omitempty"`
}

// ActionOptions bounds action generation.
type ActionOptions struct {
	Limit       int    `json:"limit"`
	PeriodLabel string `json:"periodLabel,omitempty"`
}

// EntitySearchResult is the output of the generic entity search collaborator.
type EntitySearchResult struct {
	Results []Practitioner `json:"results"`
	Context string         `json:"context"`
}
