package model

import "time"

// Variant is the arm a user was bucketed into.
type Variant struct {
	ID        string      `json:"id"`
	Type      VariantType `json:"type"`
	ContentID string      `json:"content_id,omitempty"`
}

// Experiment is a resolved experiment with its assigned variant.
type Experiment struct {
	ID      string  `json:"id"`
	GroupID string  `json:"group_id"`
	Variant Variant `json:"variant"`
}

// Assignment pairs an experiment with a variant id, as exchanged with the backend.
type Assignment struct {
	ExperimentID string `json:"experiment_id"`
	VariantID    string `json:"variant_id"`
}

// Confirmation acknowledges a locally bucketed variant to the backend.
type Confirmation struct {
	ID           string    `json:"id"`
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	Attempt      int       `json:"attempt"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
}

// OutcomeKind tags an Outcome.
type OutcomeKind int

// Outcome kinds. NotEvaluated is the zero value.
const (
	OutcomeNotEvaluated OutcomeKind = iota
	OutcomePaywall
	OutcomeHoldout
	OutcomeNoRuleMatch
	OutcomeEventNotFound
	OutcomeError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePaywall:
		return "paywall"
	case OutcomeHoldout:
		return "holdout"
	case OutcomeNoRuleMatch:
		return "no_rule_match"
	case OutcomeEventNotFound:
		return "event_not_found"
	case OutcomeError:
		return "error"
	default:
		return "not_evaluated"
	}
}

// UnmatchedReason says which stage rejected a rule.
type UnmatchedReason string

// Unmatched reasons.
const (
	UnmatchedExpression UnmatchedReason = "expression"
	UnmatchedOccurrence UnmatchedReason = "occurrence"
)

// UnmatchedRule records a rule that did not terminate evaluation.
type UnmatchedRule struct {
	ExperimentID string          `json:"experiment_id"`
	Reason       UnmatchedReason `json:"reason"`
}

// Outcome is the terminal result of resolving an event.
type Outcome struct {
	Kind       OutcomeKind
	Experiment *Experiment
	Unmatched  []UnmatchedRule
	Err        error
}

// PaywallOutcome builds a Paywall outcome.
func PaywallOutcome(exp Experiment) Outcome {
	return Outcome{Kind: OutcomePaywall, Experiment: &exp}
}

// HoldoutOutcome builds a Holdout outcome.
func HoldoutOutcome(exp Experiment) Outcome {
	return Outcome{Kind: OutcomeHoldout, Experiment: &exp}
}

// NoRuleMatchOutcome builds a NoRuleMatch outcome.
func NoRuleMatchOutcome(unmatched []UnmatchedRule) Outcome {
	return Outcome{Kind: OutcomeNoRuleMatch, Unmatched: unmatched}
}

// EventNotFoundOutcome builds an EventNotFound outcome.
func EventNotFoundOutcome() Outcome {
	return Outcome{Kind: OutcomeEventNotFound}
}

// ErrorOutcome builds an Error outcome.
func ErrorOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeError, Err: err}
}

// ShowsPaywall reports whether the host should present content.
func (o Outcome) ShowsPaywall() bool {
	return o.Kind == OutcomePaywall
}

// IdentifyResult reports what identifying a user changed.
type IdentifyResult struct {
	SeedChanged bool `json:"seed_changed"`
	Applied     int  `json:"applied"`
}

// UserState is what the resolver remembers about the current user.
type UserState struct {
	UserID       string             `json:"user_id,omitempty"`
	SeedStrategy string             `json:"seed_strategy"`
	Assignments  map[string]Variant `json:"assignments"`
	Occurrences  map[string]int     `json:"occurrences"`
}
