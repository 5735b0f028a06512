package llm

import (
	"fmt"
	"strings"
)

// DefaultSystemPrompt frames suggestion requests. The transcript labels the
// user's own turns "You"; everyone else appears as "Them" or "Speaker N".
const DefaultSystemPrompt = `You are a discreet assistant listening in on a live call. You help the user (labeled "You" in the transcript) decide what to say next.

RULES:
- Reply with one or two sentences the user could say out loud, word for word.
- Match the tone and language of the conversation.
- No lists, no options, no meta commentary, no quotation marks around the reply.
- If the other party asked a question, answer that question first.
- Never reveal that you are an assistant or that you are reading a transcript.`

// SummarySystemPrompt frames post-call summary requests.
const SummarySystemPrompt = `You write short factual summaries of call transcripts. Plain prose, no headings, no bullet points. Do not invent details that are not in the transcript.`

// SuggestionPrompt builds the user prompt for a "what should I say next"
// request. question carries the turn being answered when one was detected.
func SuggestionPrompt(transcript, question string) string {
	var b strings.Builder
	b.WriteString("Recent conversation:\n\n")
	b.WriteString(strings.TrimSpace(transcript))
	b.WriteString("\n\n")
	if question != "" {
		fmt.Fprintf(&b, "The other party is waiting on an answer to: %q\n\n", question)
	}
	b.WriteString("What should the user say next? Reply with the suggestion only.")
	return b.String()
}

// SummaryPrompt builds the user prompt for a post-call summary.
func SummaryPrompt(transcript string) string {
	return fmt.Sprintf(`Summarize this call in 3-5 sentences: who spoke, what was discussed, what was decided, and any follow-ups that were promised.

Transcript:

%s`, strings.TrimSpace(transcript))
}
