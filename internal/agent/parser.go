package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"relaybot/internal/domain"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// contentCall is a tool call written into the message text instead of the
// structured tool_calls field. Models disagree on the key names, so every
// spelling seen in the wild is accepted.
type contentCall struct {
	Name       string          `json:"name"`
	Tool       string          `json:"tool"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
	Input      json.RawMessage `json:"input"`
	Function   *struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func (c contentCall) toolCall() (domain.ToolCall, bool) {
	name, args := c.Name, firstRaw(c.Arguments, c.Parameters, c.Input)
	if name == "" {
		name = c.Tool
	}
	if c.Function != nil && c.Function.Name != "" {
		name, args = c.Function.Name, c.Function.Arguments
	}
	if name == "" {
		return domain.ToolCall{}, false
	}
	return domain.ToolCall{
		ID:        "content_" + uuid.NewString(),
		Name:      canonicalToolName(name),
		Arguments: decodeArgs(args),
	}, true
}

// extractToolCallsFromContent recovers tool calls from plain text. It looks
// at fenced code blocks first, then at every JSON value embedded in the text,
// and returns the calls from the first one that parses.
func extractToolCallsFromContent(content string) []domain.ToolCall {
	var candidates []string
	for _, m := range fencedBlock.FindAllStringSubmatch(content, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, content)

	for _, text := range candidates {
		if calls := scanJSONValues(text); len(calls) > 0 {
			return calls
		}
		if repaired := repairEscapes(text); repaired != text {
			if calls := scanJSONValues(repaired); len(calls) > 0 {
				return calls
			}
		}
	}
	return nil
}

// scanJSONValues decodes the first JSON object or array at each opening
// bracket; trailing prose after a value is ignored by the decoder.
func scanJSONValues(text string) []domain.ToolCall {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		var raw json.RawMessage
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if calls := callsFrom(raw); len(calls) > 0 {
			return calls
		}
		i += int(dec.InputOffset()) - 1
	}
	return nil
}

func callsFrom(raw json.RawMessage) []domain.ToolCall {
	var list []contentCall
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil
		}
	} else {
		var one contentCall
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil
		}
		list = []contentCall{one}
	}

	var calls []domain.ToolCall
	for _, c := range list {
		if tc, ok := c.toolCall(); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

func firstRaw(raws ...json.RawMessage) json.RawMessage {
	for _, r := range raws {
		if len(r) > 0 && string(r) != "null" {
			return r
		}
	}
	return nil
}

// decodeArgs accepts an arguments object or, OpenAI style, a string holding
// one. Anything else yields empty arguments for schema validation to reject.
func decodeArgs(raw json.RawMessage) map[string]any {
	args := make(map[string]any)
	if len(raw) == 0 {
		return args
	}
	var encoded string
	if json.Unmarshal(raw, &encoded) == nil {
		raw = json.RawMessage(encoded)
	}
	var m map[string]any
	if json.Unmarshal(raw, &m) == nil && m != nil {
		return m
	}
	return args
}

var toolNames = []string{
	"searchWorkspace", "searchWeb", "getUserInfo", "leaveChannel",
	"scheduleMessage", "summariseThread", "react", "reply", "skip",
	"startDM", "diagramRender",
}

// legacyToolNames are older or alternative names models still produce,
// keyed by their folded form.
var legacyToolNames = map[string]string{
	"searchslack":      "searchWorkspace",
	"websearch":        "searchWeb",
	"userinfo":         "getUserInfo",
	"schedulereminder": "scheduleMessage",
	"summarizethread":  "summariseThread",
	"addreaction":      "react",
	"mermaid":          "diagramRender",
}

func foldName(name string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(name))
}

// canonicalToolName maps snake_case, kebab-case and legacy spellings onto the
// registered tool names. Unknown names are returned unchanged.
func canonicalToolName(name string) string {
	folded := foldName(name)
	for _, n := range toolNames {
		if foldName(n) == folded {
			return n
		}
	}
	if n, ok := legacyToolNames[folded]; ok {
		return n
	}
	return name
}

// repairEscapes drops the backslash from escape sequences JSON does not
// allow, such as \% or \Y, inside string literals.
func repairEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case escaped:
			escaped = false
			b.WriteByte(ch)
		case inString && ch == '\\':
			if i+1 < len(s) && strings.IndexByte(`"\/bfnrtu`, s[i+1]) >= 0 {
				escaped = true
				b.WriteByte(ch)
			}
		case ch == '"':
			inString = !inString
			b.WriteByte(ch)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}
