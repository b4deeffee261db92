package analysis

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseStrategyResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:  "plain json",
			input: `{"intermediate_question": "Q", "final_synthesis_instructions": "S"}`,
		},
		{
			name:  "fenced json",
			input: "```json\n{\"intermediate_question\": \"Q\", \"final_synthesis_instructions\": \"S\"}\n```",
		},
		{
			name:  "fenced without language tag",
			input: "```\n{\"intermediate_question\": \"Q\", \"final_synthesis_instructions\": \"S\"}\n```",
		},
		{
			name:  "surrounded by prose",
			input: "Here is the plan:\n{\"intermediate_question\": \"Q\", \"final_synthesis_instructions\": \"S\"}\nLet me know.",
		},
		{
			name:    "missing intermediate question",
			input:   `{"final_synthesis_instructions": "S"}`,
			wantErr: true,
		},
		{
			name:    "missing synthesis instructions",
			input:   `{"intermediate_question": "Q"}`,
			wantErr: true,
		},
		{
			name:    "not json at all",
			input:   "I cannot help with that.",
			wantErr: true,
		},
		{
			name:    "empty response",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strategy, err := parseStrategyResponse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", strategy)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strategy.IntermediateQuestion != "Q" || strategy.FinalSynthesisInstructions != "S" {
				t.Errorf("unexpected strategy %+v", strategy)
			}
		})
	}
}

func TestCleanShortTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Recurring coping strategies", "Recurring coping strategies"},
		{`"Recurring coping strategies"`, "Recurring coping strategies"},
		{"Recurring coping strategies\nAnd some explanation", "Recurring coping strategies"},
		{"  Recurring coping strategies  ", "Recurring coping strategies"},
		{strings.Repeat("long ", 50), ""},
	}

	for _, tt := range tests {
		if got := cleanShortTitle(tt.input); got != tt.want {
			t.Errorf("cleanShortTitle(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestTruncatePrompt(t *testing.T) {
	short := "What themes recur?"
	if got := truncatePrompt(short, 80); got != short {
		t.Errorf("short prompt must pass through, got %q", got)
	}

	long := strings.Repeat("themes ", 30)
	got := truncatePrompt(long, 80)
	if len(got) > 80 {
		t.Errorf("truncated prompt too long: %d chars", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated prompt should end with ellipsis, got %q", got)
	}

	// 2-byte runes with an odd cut offset: the slice must back up to the
	// rune boundary instead of splitting one in half
	multibyte := strings.Repeat("ä", 40)
	got = truncatePrompt(multibyte, 20)
	if !utf8.ValidString(got) {
		t.Errorf("truncated prompt is not valid UTF-8: %q", got)
	}
	if len(got) > 20 {
		t.Errorf("truncated prompt too long: %d bytes", len(got))
	}
}

func TestTruncateTranscript(t *testing.T) {
	transcript := strings.Repeat("word ", 1000)

	if got := truncateTranscript(transcript, 0); got != transcript {
		t.Error("zero context size must not truncate")
	}

	got := truncateTranscript(transcript, 100)
	if len(got) >= len(transcript) {
		t.Error("small context size must truncate")
	}
	if len(got) > 100*approxCharsPerToken {
		t.Errorf("truncation exceeds the budget: %d chars", len(got))
	}

	short := "brief transcript"
	if got := truncateTranscript(short, 100); got != short {
		t.Error("transcript inside the budget must pass through")
	}

	// The 300-byte budget lands mid-rune: the 2-byte runes start at odd
	// offsets, so the cut must back up to the boundary
	multibyte := "x" + strings.Repeat("ö", 400)
	got = truncateTranscript(multibyte, 100)
	if !utf8.ValidString(got) {
		t.Errorf("truncated transcript is not valid UTF-8: %q", got)
	}
	if len(got) > 100*approxCharsPerToken {
		t.Errorf("truncation exceeds the budget: %d bytes", len(got))
	}
}

func TestBuildReducePromptAttributesSessions(t *testing.T) {
	prompt := buildReducePrompt(
		"What coping strategies recurred?",
		"Synthesize into one answer.",
		[]attributedSummary{
			{SessionName: "Session 1", Text: "Breathing exercises."},
			{SessionName: "Session 2", Text: "Journaling."},
		},
	)

	for _, want := range []string{"Session 1", "Breathing exercises.", "Session 2", "Journaling.", "Synthesize into one answer."} {
		if !strings.Contains(prompt, want) {
			t.Errorf("reduce prompt is missing %q", want)
		}
	}
}
