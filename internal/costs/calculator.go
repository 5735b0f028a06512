// Package costs provides cost estimation for API usage.
package costs

import (
	"os"
	"strconv"
)

// Pricing constants (in cents per unit for precision).
// These are based on 2026 market rates and can be overridden via environment variables.
var (
	// DeepgramCentsPerMinute is the cost per audio-minute for Deepgram streaming STT.
	// Multichannel streams are billed per channel. Default: $0.0077/min = 0.77 cents/min
	DeepgramCentsPerMinute = getEnvFloat("COST_DEEPGRAM_CENTS_PER_MIN", 0.77)

	// OpenAICentsPerThousandInputTokens is the cost per 1K input tokens for GPT-4o-mini.
	// Default: $0.15/1M = $0.00015/1K = 0.015 cents/1K tokens
	OpenAICentsPerThousandInputTokens = getEnvFloat("COST_OPENAI_INPUT_CENTS_PER_1K", 0.015)

	// OpenAICentsPerThousandOutputTokens is the cost per 1K output tokens for GPT-4o-mini.
	// Default: $0.60/1M = $0.0006/1K = 0.06 cents/1K tokens
	OpenAICentsPerThousandOutputTokens = getEnvFloat("COST_OPENAI_OUTPUT_CENTS_PER_1K", 0.06)

	// SuggestionInputTokens estimates the prompt size of one suggestion request
	// (recent transcript window plus instructions).
	SuggestionInputTokens = getEnvInt("COST_SUGGESTION_INPUT_TOKENS", 700)

	// SuggestionOutputTokens estimates the completion size of one suggestion.
	SuggestionOutputTokens = getEnvInt("COST_SUGGESTION_OUTPUT_TOKENS", 150)

	// SummaryInputTokens estimates the prompt size of one summary request
	// (full transcript plus instructions).
	SummaryInputTokens = getEnvInt("COST_SUMMARY_INPUT_TOKENS", 1500)

	// SummaryOutputTokens estimates the completion size of one summary.
	SummaryOutputTokens = getEnvInt("COST_SUMMARY_OUTPUT_TOKENS", 300)
)

// SessionMetrics contains the raw metrics from a session used for cost estimation.
type SessionMetrics struct {
	STTDurationSeconds int // Wall-clock audio duration streamed to STT
	Channels           int // Audio channels (Deepgram bills per channel-minute)
	SuggestionRequests int // Completion requests made for suggestions
	SummaryRequests    int // Completion requests made for summaries
}

// SessionCosts contains the estimated costs for a session in cents.
type SessionCosts struct {
	STTCostCents   int
	LLMCostCents   int
	TotalCostCents int
}

// CalculateSessionCosts computes the estimated costs for a session from usage metrics.
func CalculateSessionCosts(m SessionMetrics) SessionCosts {
	channels := m.Channels
	if channels < 1 {
		channels = 1
	}

	sttMinutes := float64(m.STTDurationSeconds) / 60.0 * float64(channels)
	sttCents := sttMinutes * DeepgramCentsPerMinute

	// Completion costs: per 1K tokens, using per-request size estimates.
	suggestionTokensIn := float64(m.SuggestionRequests * SuggestionInputTokens)
	suggestionTokensOut := float64(m.SuggestionRequests * SuggestionOutputTokens)
	summaryTokensIn := float64(m.SummaryRequests * SummaryInputTokens)
	summaryTokensOut := float64(m.SummaryRequests * SummaryOutputTokens)

	llmCents := (suggestionTokensIn+summaryTokensIn)/1000.0*OpenAICentsPerThousandInputTokens +
		(suggestionTokensOut+summaryTokensOut)/1000.0*OpenAICentsPerThousandOutputTokens

	// Round to nearest cent (we store as integers)
	costs := SessionCosts{
		STTCostCents: roundToInt(sttCents),
		LLMCostCents: roundToInt(llmCents),
	}
	costs.TotalCostCents = costs.STTCostCents + costs.LLMCostCents

	return costs
}

// roundToInt rounds a float to the nearest integer.
func roundToInt(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// getEnvFloat returns an environment variable as float64, or the default if not set.
func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvInt returns an environment variable as int, or the default if not set.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
