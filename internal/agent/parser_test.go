package agent

import "testing"

func TestExtractToolCalls_SingleObject(t *testing.T) {
	input := `{"name": "reply", "arguments": {"content": ["hi"]}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "reply" {
		t.Fatalf("expected 'reply', got %q", calls[0].Name)
	}
	if calls[0].ID == "" {
		t.Fatal("extracted calls need an id")
	}
}

func TestExtractToolCalls_ParametersField(t *testing.T) {
	input := `{"name": "getUserInfo", "parameters": {"userId": "U1"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 || calls[0].Arguments["userId"] != "U1" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestExtractToolCalls_Array(t *testing.T) {
	input := `[{"name": "react", "arguments": {"emojis": ["wave"]}}, {"name": "skip", "arguments": {}}]`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID == calls[1].ID {
		t.Fatal("extracted ids must be unique")
	}
}

func TestExtractToolCalls_CodeFenceWrapped(t *testing.T) {
	input := "```json\n{\"name\": \"skip\", \"arguments\": {\"reason\": \"spam\"}}\n```"
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 || calls[0].Name != "skip" {
		t.Fatalf("expected skip from code fence, got %+v", calls)
	}
}

func TestExtractToolCalls_SurroundingText(t *testing.T) {
	input := "Sure.\n{\"name\": \"react\", \"arguments\": {\"emojis\": [\"tada\"]}}\nDone."
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 || calls[0].Name != "react" {
		t.Fatalf("expected react, got %+v", calls)
	}
}

func TestExtractToolCalls_NoCalls(t *testing.T) {
	for _, input := range []string{"", "Sure, let me help you with that!", `{"name": "", "arguments": {}}`} {
		if calls := extractToolCallsFromContent(input); len(calls) != 0 {
			t.Fatalf("expected no calls for %q, got %d", input, len(calls))
		}
	}
}

func TestExtractToolCalls_NilArguments(t *testing.T) {
	calls := extractToolCallsFromContent(`{"name": "skip"}`)
	if len(calls) != 1 || calls[0].Arguments == nil {
		t.Fatal("arguments should be initialized to empty map")
	}
}

func TestExtractToolCalls_WithInvalidEscapes(t *testing.T) {
	input := `{"name": "reply", "arguments": {"content": ["100\% done"]}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call after escape repair, got %d", len(calls))
	}
}

func TestExtractToolCalls_FunctionStyle(t *testing.T) {
	input := `{"type": "function", "function": {"name": "react", "arguments": "{\"emojis\": [\"eyes\"]}"}}`
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 || calls[0].Name != "react" {
		t.Fatalf("expected react, got %+v", calls)
	}
	emojis, ok := calls[0].Arguments["emojis"].([]any)
	if !ok || len(emojis) != 1 || emojis[0] != "eyes" {
		t.Fatalf("string-encoded arguments not decoded: %v", calls[0].Arguments)
	}
}

func TestExtractToolCalls_ToolAndInputKeys(t *testing.T) {
	calls := extractToolCallsFromContent(`{"tool": "search_web", "input": {"query": "go 1.25"}}`)
	if len(calls) != 1 || calls[0].Name != "searchWeb" || calls[0].Arguments["query"] != "go 1.25" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestExtractToolCalls_SkipsUnrelatedJSON(t *testing.T) {
	input := "Config was {\"debug\": true}. Now: {\"name\": \"skip\", \"arguments\": {\"reason\": \"noise\"}}"
	calls := extractToolCallsFromContent(input)
	if len(calls) != 1 || calls[0].Name != "skip" {
		t.Fatalf("expected skip after unrelated object, got %+v", calls)
	}
}

func TestCanonicalToolName(t *testing.T) {
	cases := map[string]string{
		"search_web":        "searchWeb",
		"Search-Slack":      "searchWorkspace",
		"schedule-reminder": "scheduleMessage",
		"summarize_thread":  "summariseThread",
		"START_DM":          "startDM",
		"mermaid":           "diagramRender",
		"reply":             "reply",
		"somethingElse":     "somethingElse",
	}
	for in, want := range cases {
		if got := canonicalToolName(in); got != want {
			t.Errorf("canonicalToolName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRepairEscapes(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`{"key": "value with \"quotes\" and \\backslash"}`, `{"key": "value with \"quotes\" and \\backslash"}`},
		{`{"msg": "Hello \World \! 100\%"}`, `{"msg": "Hello World ! 100%"}`},
		{`{"text": "line1\nline2\ttab \u00e9"}`, `{"text": "line1\nline2\ttab \u00e9"}`},
	}
	for _, c := range cases {
		if got := repairEscapes(c.in); got != c.want {
			t.Errorf("repairEscapes(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDecodeArgs(t *testing.T) {
	if got := decodeArgs([]byte(`{"a": 1}`)); got["a"] != float64(1) {
		t.Fatalf("object: %v", got)
	}
	if got := decodeArgs([]byte(`"{\"a\": 2}"`)); got["a"] != float64(2) {
		t.Fatalf("encoded string: %v", got)
	}
	for _, raw := range []string{"", "null", `"not json"`, "[1,2]"} {
		if got := decodeArgs([]byte(raw)); got == nil || len(got) != 0 {
			t.Fatalf("%q should give empty arguments, got %v", raw, got)
		}
	}
}
