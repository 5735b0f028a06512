package call

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AssistConfig carries the tunable behavior of the orchestrator. A partial
// yaml file only overrides the keys it names; non-positive numeric values
// fall back to the defaults.
type AssistConfig struct {
	BufferCap        int `yaml:"buffer_cap"`        // rolling transcript turns kept (default 40)
	QuestionLookback int `yaml:"question_lookback"` // turns scanned for the grounding question (default 10)

	STT         STTConfig         `yaml:"stt"`
	Trigger     TriggerConfig     `yaml:"trigger"`
	Suggestions SuggestionsConfig `yaml:"suggestions"`
	Summary     SummaryConfig     `yaml:"summary"`
}

// STTConfig selects the recognizer model and result-timing behavior.
type STTConfig struct {
	Model          string   `yaml:"model"`            // default "nova-2"
	Language       string   `yaml:"language"`         // default "en"
	EndpointingMS  int      `yaml:"endpointing_ms"`   // default 300
	UtteranceEndMS int      `yaml:"utterance_end_ms"` // default 1000
	Keywords       []string `yaml:"keywords"`         // "term:boost" entries
	Keyterms       []string `yaml:"keyterms"`
}

// SuggestionsConfig controls live "what should I say next" generation.
type SuggestionsConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Temperature  float64 `yaml:"temperature"`   // default 0.4
	MaxTokens    int     `yaml:"max_tokens"`    // default 150
	ContextTurns int     `yaml:"context_turns"` // transcript turns included in the prompt (default 12)
}

// SummaryConfig controls post-call summary generation.
type SummaryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Temperature float64 `yaml:"temperature"` // default 0.3
	MaxTokens   int     `yaml:"max_tokens"`  // default 300
}

// DefaultAssistConfig returns the full default configuration.
func DefaultAssistConfig() AssistConfig {
	return AssistConfig{
		BufferCap:        40,
		QuestionLookback: 10,
		STT: STTConfig{
			Model:          "nova-2",
			Language:       "en",
			EndpointingMS:  300,
			UtteranceEndMS: 1000,
		},
		Trigger: DefaultTriggerConfig(),
		Suggestions: SuggestionsConfig{
			Enabled:      true,
			Temperature:  0.4,
			MaxTokens:    150,
			ContextTurns: 12,
		},
		Summary: SummaryConfig{
			Enabled:     true,
			Temperature: 0.3,
			MaxTokens:   300,
		},
	}
}

// LoadAssistConfig reads a yaml file and overlays it on the defaults. An
// empty path returns the defaults unchanged.
func LoadAssistConfig(path string) (AssistConfig, error) {
	cfg := DefaultAssistConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read assist config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse assist config: %w", err)
	}

	cfg.normalize()
	return cfg, nil
}

// normalize replaces non-positive numeric settings with their defaults so a
// zero-valued config is still usable.
func (c *AssistConfig) normalize() {
	def := DefaultAssistConfig()
	if c.BufferCap <= 0 {
		c.BufferCap = def.BufferCap
	}
	if c.QuestionLookback <= 0 {
		c.QuestionLookback = def.QuestionLookback
	}
	if c.STT.Model == "" {
		c.STT.Model = def.STT.Model
	}
	if c.STT.Language == "" {
		c.STT.Language = def.STT.Language
	}
	if c.STT.EndpointingMS <= 0 {
		c.STT.EndpointingMS = def.STT.EndpointingMS
	}
	if c.STT.UtteranceEndMS <= 0 {
		c.STT.UtteranceEndMS = def.STT.UtteranceEndMS
	}
	if c.Trigger.MinTurnLen <= 0 {
		c.Trigger.MinTurnLen = def.Trigger.MinTurnLen
	}
	if c.Trigger.LongTurnLen <= 0 {
		c.Trigger.LongTurnLen = def.Trigger.LongTurnLen
	}
	if c.Trigger.MinQuestionLen <= 0 {
		c.Trigger.MinQuestionLen = def.Trigger.MinQuestionLen
	}
	if c.Trigger.MaxBareQuestionLen <= 0 {
		c.Trigger.MaxBareQuestionLen = def.Trigger.MaxBareQuestionLen
	}
	if c.Suggestions.Temperature <= 0 {
		c.Suggestions.Temperature = def.Suggestions.Temperature
	}
	if c.Suggestions.MaxTokens <= 0 {
		c.Suggestions.MaxTokens = def.Suggestions.MaxTokens
	}
	if c.Suggestions.ContextTurns <= 0 {
		c.Suggestions.ContextTurns = def.Suggestions.ContextTurns
	}
	if c.Summary.Temperature <= 0 {
		c.Summary.Temperature = def.Summary.Temperature
	}
	if c.Summary.MaxTokens <= 0 {
		c.Summary.MaxTokens = def.Summary.MaxTokens
	}
}
