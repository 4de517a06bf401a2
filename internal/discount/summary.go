package discount

import "time"

// Batch outcomes. Every processed batch lands in exactly one of the first five.
const (
	OutcomeDiscounted        = "discounted"
	OutcomeAlreadyDiscounted = "already_discounted"
	OutcomeNoRuleFound       = "no_rule_found"
	OutcomeCleared           = "cleared"
	OutcomeFailed            = "failed"
	OutcomeExcluded          = "excluded"
)

// Run triggers.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
)

// Failure describes one batch that could not be priced.
type Failure struct {
	InventoryID string `json:"inventory_id"`
	Reason      string `json:"reason"`
}

// Summary is the result of one committed calculation run.
type Summary struct {
	RunID             string    `json:"run_id"`
	Trigger           string    `json:"trigger"`
	Processed         int       `json:"processed"`
	Discounted        int       `json:"discounted"`
	AlreadyDiscounted int       `json:"already_discounted"`
	NoRuleFound       int       `json:"no_rule_found"`
	Cleared           int       `json:"cleared"`
	Excluded          int       `json:"excluded"`
	Failed            int       `json:"failed"`
	Failures          []Failure `json:"failures"`
	PriceChanges      int       `json:"price_changes"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
	DurationMs        int64     `json:"duration_ms"`
}

func (s *Summary) count(outcome string) {
	switch outcome {
	case OutcomeDiscounted:
		s.Discounted++
	case OutcomeAlreadyDiscounted:
		s.AlreadyDiscounted++
	case OutcomeNoRuleFound:
		s.NoRuleFound++
	case OutcomeCleared:
		s.Cleared++
	case OutcomeFailed:
		s.Failed++
	case OutcomeExcluded:
		s.Excluded++
		return
	}
	s.Processed++
}

// Outcomes returns the per-outcome counters keyed by outcome name.
func (s Summary) Outcomes() map[string]int {
	return map[string]int{
		OutcomeDiscounted:        s.Discounted,
		OutcomeAlreadyDiscounted: s.AlreadyDiscounted,
		OutcomeNoRuleFound:       s.NoRuleFound,
		OutcomeCleared:           s.Cleared,
		OutcomeFailed:            s.Failed,
		OutcomeExcluded:          s.Excluded,
	}
}
