package tool

import (
	"encoding/json"
	"math"
	"strings"
)

// Param describes a single tool parameter.
type Param struct {
	Type        string
	Description string
	Enum        []string
	Default     any
	Min, Max    *float64
	MinLength   int
	MinItems    int
	MaxItems    int
	Items       *Param
}

func (p Param) schema() map[string]any {
	s := map[string]any{"type": p.Type}
	if p.Description != "" {
		s["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if p.Default != nil {
		s["default"] = p.Default
	}
	if p.Min != nil {
		s["minimum"] = *p.Min
	}
	if p.Max != nil {
		s["maximum"] = *p.Max
	}
	if p.MinLength > 0 {
		s["minLength"] = p.MinLength
	}
	if p.MinItems > 0 {
		s["minItems"] = p.MinItems
	}
	if p.MaxItems > 0 {
		s["maxItems"] = p.MaxItems
	}
	if p.Items != nil {
		s["items"] = p.Items.schema()
	}
	return s
}

func bound(v float64) *float64 { return &v }

// ToolParameters builds a JSON Schema "parameters" object for a tool.
func ToolParameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any, len(properties))
	for name, p := range properties {
		props[name] = p.schema()
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// ArgsInt reads an integral argument, returning def when absent.
func ArgsInt(args map[string]any, key string, def int) int {
	switch n := args[key].(type) {
	case float64:
		return int(math.Trunc(n))
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
		if f, err := n.Float64(); err == nil {
			return int(math.Trunc(f))
		}
	case string:
		var f float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(n)), &f); err == nil {
			return int(math.Trunc(f))
		}
	}
	return def
}

// ArgsStrings reads a string array argument.
func ArgsStrings(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
