// Package model contains domain models passed between layers.
package model

import "time"

// Dialect selects the expression language of an audience rule.
type Dialect string

// Supported expression dialects.
const (
	DialectCEL    Dialect = "cel"
	DialectScript Dialect = "script"
)

// VariantType distinguishes paywall-showing arms from holdouts.
type VariantType string

// Variant types.
const (
	VariantTreatment VariantType = "treatment"
	VariantHoldout   VariantType = "holdout"
)

// Expression is a rule condition tagged with its dialect.
// An empty Source matches unconditionally.
type Expression struct {
	Source  string  `json:"source,omitempty"`
	Dialect Dialect `json:"dialect,omitempty"`
}

// IsEmpty reports whether the expression matches everything.
func (e Expression) IsEmpty() bool {
	return e.Source == ""
}

// Interval bounds the window an occurrence constraint counts over.
// Minutes <= 0 means all-time.
type Interval struct {
	Minutes int `json:"minutes,omitempty"`
}

// Infinity returns an interval counting every recorded occurrence.
func Infinity() Interval { return Interval{} }

// Minutes returns an interval counting occurrences within the last n minutes.
func Minutes(n int) Interval { return Interval{Minutes: n} }

// IsInfinite reports whether the interval is all-time.
func (i Interval) IsInfinite() bool { return i.Minutes <= 0 }

// Duration returns the window length. Zero for infinite intervals.
func (i Interval) Duration() time.Duration {
	if i.IsInfinite() {
		return 0
	}
	return time.Duration(i.Minutes) * time.Minute
}

// OccurrenceConstraint caps how often a rule may match.
type OccurrenceConstraint struct {
	Key      string   `json:"key"`
	MaxCount int      `json:"max_count"`
	Interval Interval `json:"interval"`
}

// VariantOption is one weighted arm of a raw experiment.
type VariantOption struct {
	ID            string      `json:"id"`
	Type          VariantType `json:"type"`
	WeightPercent int         `json:"weight_percent"`
	ContentID     string      `json:"content_id,omitempty"`
}

// Variant converts the option into the assigned variant shape.
func (o VariantOption) Variant() Variant {
	return Variant{ID: o.ID, Type: o.Type, ContentID: o.ContentID}
}

// RawExperiment is an experiment as delivered by configuration, before bucketing.
type RawExperiment struct {
	ID       string          `json:"id"`
	GroupID  string          `json:"group_id"`
	Variants []VariantOption `json:"variants"`
}

// HasVariant reports whether a variant id is still part of the experiment.
func (e RawExperiment) HasVariant(id string) bool {
	for _, v := range e.Variants {
		if v.ID == id {
			return true
		}
	}
	return false
}

// AudienceRule is one conditional branch of a trigger.
type AudienceRule struct {
	Expression Expression            `json:"expression"`
	Occurrence *OccurrenceConstraint `json:"occurrence,omitempty"`
	Experiment RawExperiment         `json:"experiment"`
}

// Trigger binds an event name to its ordered audience rules.
type Trigger struct {
	EventName string         `json:"event_name"`
	Rules     []AudienceRule `json:"rules"`
}

// Triggers maps event names to triggers.
type Triggers map[string]Trigger
