package call

import (
	"regexp"
	"strings"
)

// interrogativeRe matches turns that open with a question word.
var interrogativeRe = regexp.MustCompile(`(?i)^(who|whom|whose|what|when|where|why|how|which|can|could|would|will|shall|should|do|does|did|is|are|was|were|have|has|had|may|might|must)\b`)

// TriggerConfig holds the tuned thresholds that decide when a finalized turn
// warrants a suggestion and what still reads as a question.
type TriggerConfig struct {
	MinTurnLen         int `yaml:"min_turn_len"`          // shortest turn worth reacting to (default 12)
	LongTurnLen        int `yaml:"long_turn_len"`         // turns this long trigger even without a question (default 64)
	MinQuestionLen     int `yaml:"min_question_len"`      // shortest text treated as a question (default 6)
	MaxBareQuestionLen int `yaml:"max_bare_question_len"` // cap for question-word openings lacking a "?" (default 220)
}

// DefaultTriggerConfig returns the tuned default thresholds.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		MinTurnLen:         12,
		LongTurnLen:        64,
		MinQuestionLen:     6,
		MaxBareQuestionLen: 220,
	}
}

// ShouldSuggest reports whether a finalized turn from the other party should
// schedule a suggestion.
func (c TriggerConfig) ShouldSuggest(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < c.MinTurnLen {
		return false
	}
	return strings.Contains(t, "?") || interrogativeRe.MatchString(t) || len(t) >= c.LongTurnLen
}

// LooksLikeQuestion reports whether a buffered turn reads as a question worth
// grounding a suggestion on. Question-word openings without a "?" only count
// up to a length cap, so long rambling turns are not mistaken for questions.
func (c TriggerConfig) LooksLikeQuestion(text string) bool {
	t := strings.TrimSpace(text)
	if len(t) < c.MinQuestionLen {
		return false
	}
	if strings.Contains(t, "?") {
		return true
	}
	return interrogativeRe.MatchString(t) && len(t) <= c.MaxBareQuestionLen
}
