package proctor

import "sort"

// RiskLevel is the coarse classification of a suspicion score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Rule assigns a point value to one canonical event type.
// MaxPoints of zero means the rule accumulates without a cap.
type Rule struct {
	ID           string `json:"rule_id"`
	Event        RuleID `json:"event"`
	PointsPerHit int    `json:"points_per_hit"`
	MaxPoints    int    `json:"max_points,omitempty"`
}

// RuleTable is an immutable set of scoring rules, injected at construction.
// It is never a process-wide singleton so tests can supply alternates.
type RuleTable struct {
	rules []Rule
}

// NewRuleTable builds a rule table from the given rules. Later rules for the
// same event are ignored; the first one wins.
func NewRuleTable(rules []Rule) RuleTable {
	seen := make(map[RuleID]bool, len(rules))
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if seen[r.Event] {
			continue
		}
		seen[r.Event] = true
		out = append(out, r)
	}
	return RuleTable{rules: out}
}

// DefaultRuleTable returns the canonical point values. These exact numbers
// are a compatibility contract with existing clients and dashboards.
func DefaultRuleTable() RuleTable {
	return NewRuleTable([]Rule{
		{ID: "tab_switch", Event: RuleTabSwitch, PointsPerHit: 12},
		{ID: "clipboard", Event: RuleClipboard, PointsPerHit: 8},
		{ID: "fullscreen_exit", Event: RuleFullscreenExit, PointsPerHit: 20, MaxPoints: 40},
	})
}

// Rules returns a copy of the configured rules.
func (t RuleTable) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// RiskThresholds are the score boundaries separating risk levels:
// score < Medium is low, score >= High is high, medium in between.
type RiskThresholds struct {
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// DefaultRiskThresholds returns the default boundaries. A single low-weight
// event (8 or 12 points) stays low; multi-rule accumulation past 50 is high.
func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{Medium: 25, High: 50}
}

// Classify maps a suspicion score to a risk level.
func (th RiskThresholds) Classify(score int) RiskLevel {
	switch {
	case score >= th.High:
		return RiskHigh
	case score >= th.Medium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// BreakdownEntry is one rule's contribution to the total score.
type BreakdownEntry struct {
	RuleID       string `json:"rule_id"`
	Count        int    `json:"count"`
	Points       int    `json:"points"`
	PointsPerHit int    `json:"points_per_hit"`
	MaxPoints    int    `json:"max_points,omitempty"`
}

// ScoreResult is the scorer output for one attempt's event multiset.
type ScoreResult struct {
	Score     int              `json:"suspicion_score"`
	Level     RiskLevel        `json:"risk_level"`
	Counts    map[RuleID]int   `json:"counts_by_type"`
	Breakdown []BreakdownEntry `json:"breakdown"`
}

// Scorer aggregates normalized events into a capped, weighted suspicion
// score. It is pure: the same event multiset always yields the same result,
// regardless of order.
type Scorer struct {
	table      RuleTable
	thresholds RiskThresholds
}

// NewScorer creates a scorer with the given rule table and thresholds.
func NewScorer(table RuleTable, thresholds RiskThresholds) *Scorer {
	return &Scorer{table: table, thresholds: thresholds}
}

// NewDefaultScorer creates a scorer with the canonical defaults.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultRuleTable(), DefaultRiskThresholds())
}

// Thresholds returns the configured risk boundaries.
func (s *Scorer) Thresholds() RiskThresholds { return s.thresholds }

// ScoreEvents normalizes the raw event types and scores the resulting
// multiset. Malformed input counts under RuleUnknown and scores zero.
func (s *Scorer) ScoreEvents(rawTypes []string) ScoreResult {
	counts := make(map[RuleID]int, len(rawTypes))
	for _, raw := range rawTypes {
		counts[Normalize(raw)]++
	}
	return s.ScoreCounts(counts)
}

// ScoreCounts scores an already-normalized event multiset.
func (s *Scorer) ScoreCounts(counts map[RuleID]int) ScoreResult {
	result := ScoreResult{
		Level:  RiskLow,
		Counts: make(map[RuleID]int, len(counts)),
	}
	for id, n := range counts {
		result.Counts[id] = n
	}

	for _, rule := range s.table.rules {
		count := counts[rule.Event]
		if count == 0 {
			continue
		}
		points := count * rule.PointsPerHit
		if rule.MaxPoints > 0 && points > rule.MaxPoints {
			points = rule.MaxPoints
		}
		result.Score += points
		result.Breakdown = append(result.Breakdown, BreakdownEntry{
			RuleID:       rule.ID,
			Count:        count,
			Points:       points,
			PointsPerHit: rule.PointsPerHit,
			MaxPoints:    rule.MaxPoints,
		})
	}

	// Stable output for API responses and audit snapshots.
	sort.Slice(result.Breakdown, func(i, j int) bool {
		return result.Breakdown[i].RuleID < result.Breakdown[j].RuleID
	})

	result.Level = s.thresholds.Classify(result.Score)
	return result
}
