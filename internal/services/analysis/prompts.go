package analysis

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/radekstepan/therascript-sub007/internal/models"
)

// approxCharsPerToken is the rough character budget backing contextSize hints
const approxCharsPerToken = 4

const strategySystemInstruction = `You are an analyst planning a map-reduce style review of therapy session transcripts.
Given a user's question about a set of sessions, produce a JSON object with exactly two string fields:
  "intermediate_question": a single focused question to ask independently of each session's transcript
  "final_synthesis_instructions": instructions for combining the per-session answers into one final answer
Respond with only the JSON object, no prose and no markdown fences.`

// buildStrategyPrompt asks the model to turn the user's free-form question
// into the fixed-shape intermediate/synthesis pair.
func buildStrategyPrompt(originalPrompt string, sessionCount int) string {
	var sb strings.Builder
	sb.WriteString("The user asked the following question about ")
	fmt.Fprintf(&sb, "%d transcribed sessions:\n\n", sessionCount)
	sb.WriteString(originalPrompt)
	sb.WriteString("\n\nProduce the JSON strategy object.")
	return sb.String()
}

// buildMapPrompt asks the intermediate question against one session transcript
func buildMapPrompt(intermediateQuestion, sessionName, transcript string) string {
	var sb strings.Builder
	sb.WriteString("You are analyzing the transcript of one therapy session")
	if sessionName != "" {
		fmt.Fprintf(&sb, " (%s)", sessionName)
	}
	sb.WriteString(".\n\nAnswer the following question using only this transcript. ")
	sb.WriteString("If the transcript contains nothing relevant, say so explicitly.\n\nQuestion: ")
	sb.WriteString(intermediateQuestion)
	sb.WriteString("\n\nTranscript:\n")
	sb.WriteString(transcript)
	return sb.String()
}

// buildReducePrompt concatenates the successful per-session answers for the
// synthesis call. Each answer is attributed to its session by name.
func buildReducePrompt(originalPrompt, synthesisInstructions string, summaries []attributedSummary) string {
	var sb strings.Builder
	sb.WriteString("A user asked the following question across multiple therapy sessions:\n\n")
	sb.WriteString(originalPrompt)
	sb.WriteString("\n\nEach session was analyzed independently. The per-session answers follow.\n")
	for _, s := range summaries {
		fmt.Fprintf(&sb, "\n--- Session: %s ---\n%s\n", s.SessionName, s.Text)
	}
	sb.WriteString("\nSynthesis instructions: ")
	sb.WriteString(synthesisInstructions)
	sb.WriteString("\n\nProduce the final answer.")
	return sb.String()
}

const shortTitleSystemInstruction = `You title analysis requests. Respond with a short title of at most 8 words. No quotes, no trailing punctuation.`

// buildShortTitlePrompt asks for a compact display title for a submission
func buildShortTitlePrompt(originalPrompt string) string {
	return fmt.Sprintf("Create a short title for this analysis request:\n\n%s", originalPrompt)
}

// attributedSummary pairs a completed map-stage answer with its session's
// display name for the reduce prompt.
type attributedSummary struct {
	SessionName string
	Text        string
}

var fencePattern = regexp.MustCompile(`(?s)^\s*` + "```" + `(?:json|JSON)?\s*\n?(.*?)\n?\s*` + "```" + `\s*$`)

// cleanMarkdownFences removes markdown code fences from a model response
func cleanMarkdownFences(s string) string {
	s = strings.TrimSpace(s)

	if matches := fencePattern.FindStringSubmatch(s); len(matches) > 1 {
		s = matches[1]
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

// parseStrategyResponse parses the strategy JSON out of a model response,
// tolerating markdown fences and surrounding prose.
func parseStrategyResponse(response string) (*models.Strategy, error) {
	cleaned := cleanMarkdownFences(response)

	// Models occasionally wrap the object in prose; cut to the outermost braces
	if start := strings.Index(cleaned, "{"); start >= 0 {
		if end := strings.LastIndex(cleaned, "}"); end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	var strategy models.Strategy
	if err := json.Unmarshal([]byte(cleaned), &strategy); err != nil {
		return nil, fmt.Errorf("failed to parse strategy JSON: %w", err)
	}

	if strings.TrimSpace(strategy.IntermediateQuestion) == "" {
		return nil, fmt.Errorf("strategy response is missing intermediate_question")
	}
	if strings.TrimSpace(strategy.FinalSynthesisInstructions) == "" {
		return nil, fmt.Errorf("strategy response is missing final_synthesis_instructions")
	}

	return &strategy, nil
}

// cleanShortTitle normalizes a model-produced title; returns "" when the
// response is unusable so the caller can fall back to truncation.
func cleanShortTitle(response string) string {
	title := cleanMarkdownFences(response)
	title = strings.Trim(title, `"'`)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	title = strings.TrimSpace(title)
	if len(title) > 120 {
		title = ""
	}
	return title
}

// cutAtRuneBoundary shortens s to at most n bytes without splitting a
// multi-byte rune
func cutAtRuneBoundary(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// truncatePrompt produces a fallback short title from the original prompt
func truncatePrompt(prompt string, maxLen int) string {
	prompt = strings.TrimSpace(prompt)
	if len(prompt) <= maxLen {
		return prompt
	}
	return strings.TrimSpace(cutAtRuneBoundary(prompt, maxLen-3)) + "..."
}

// truncateTranscript trims a transcript to roughly fit a context-size hint,
// leaving headroom for the question and the model's answer. A contextSize of
// zero means no limit.
func truncateTranscript(transcript string, contextSize int) string {
	if contextSize <= 0 {
		return transcript
	}
	budget := contextSize * approxCharsPerToken
	// Reserve a quarter of the window for everything that is not transcript
	budget -= budget / 4
	if budget <= 0 || len(transcript) <= budget {
		return transcript
	}
	return cutAtRuneBoundary(transcript, budget)
}
