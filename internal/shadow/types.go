package shadow

import (
	"time"

	"github.com/felixgeelhaar/aula/internal/llm"
)

// Evaluator names, also used as metric labels
const (
	KindCriteria = "criteria"
	KindQuality  = "quality"
	KindInsights = "insights"
)

const (
	defaultFrequency = 2
	defaultThreshold = 3
	minQuality       = 1
	maxQuality       = 5
	metQuality       = 3
)

// Config tunes evaluator calls
type Config struct {
	MaxTokens      int
	Timeout        time.Duration // per evaluator call
	MaxRecentTurns int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxTokens:      512,
		Timeout:        20 * time.Second,
		MaxRecentTurns: 8,
	}
}

// Turn is one message of the tutoring conversation
type Turn struct {
	Role    llm.Role
	Content string
}

// Criterion is one behavior the student should demonstrate
type Criterion struct {
	ID          string
	Description string
	Rubric      string // optional
}

// Signal is one evaluator result. Kind reports which evaluator produced it.
type Signal interface {
	Kind() string
}

// CriteriaInput feeds the criteria evaluator
type CriteriaInput struct {
	TurnIndex   int
	Frequency   int // evaluate every Nth turn; <=0 means 2
	RecentTurns []Turn
	Criteria    []Criterion
	AlreadyMet  []string
}

// MetCriterion is a criterion the judge found evidence for
type MetCriterion struct {
	ID       string `json:"id"`
	Quality  int    `json:"quality"`
	Evidence string `json:"evidence,omitempty"`
}

// CriteriaResult lists newly met criteria. Skipped is set when the
// throttle or an empty unmet list kept the judge from being called.
type CriteriaResult struct {
	Skipped bool           `json:"skipped"`
	Failed  bool           `json:"failed"`
	Met     []MetCriterion `json:"met"`
}

func (CriteriaResult) Kind() string { return KindCriteria }

// QualityInput feeds the quality validator
type QualityInput struct {
	Response  string
	StepTitle string
	Criteria  []string
	Threshold int // <=0 means 3
}

// QualityResult is the validator's decision. IsValid already folds in the
// threshold.
type QualityResult struct {
	Failed   bool     `json:"failed"`
	IsValid  bool     `json:"is_valid"`
	Score    int      `json:"score"`
	Missing  []string `json:"missing,omitempty"`
	Feedback string   `json:"feedback,omitempty"`
}

func (QualityResult) Kind() string { return KindQuality }

// InsightInput feeds the insight extractor
type InsightInput struct {
	RecentTurns  []Turn
	RunningCount int
}

// InsightResult carries new insights and the updated running count
type InsightResult struct {
	Failed   bool     `json:"failed"`
	Insights []string `json:"insights,omitempty"`
	Count    int      `json:"count"`
}

func (InsightResult) Kind() string { return KindInsights }
