package agent

import (
	"sort"

	"relaybot/internal/domain"
)

// ToolFilter narrows the active toolset with the operator's allow and deny
// lists. A denied name is refused even when it is also allowed.
type ToolFilter struct {
	allow map[string]struct{} // empty means every tool in the toolset
	deny  map[string]struct{}
}

func NewToolFilter(allowed, denied []string) *ToolFilter {
	return &ToolFilter{allow: nameSet(allowed), deny: nameSet(denied)}
}

func nameSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

func (tf *ToolFilter) IsAllowed(name string) bool {
	if tf == nil {
		return true
	}
	if _, denied := tf.deny[name]; denied {
		return false
	}
	if len(tf.allow) == 0 {
		return true
	}
	_, ok := tf.allow[name]
	return ok
}

func (tf *ToolFilter) IsEmpty() bool {
	return tf == nil || len(tf.allow)+len(tf.deny) == 0
}

// FilterDefinitions drops the definitions the oracle may not be offered.
func (tf *ToolFilter) FilterDefinitions(defs []domain.ToolDefinition) []domain.ToolDefinition {
	if tf.IsEmpty() {
		return defs
	}
	out := make([]domain.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		if tf.IsAllowed(d.Name) {
			out = append(out, d)
		}
	}
	return out
}

// Unknown returns the listed names that match none of known, sorted. These
// are usually typos in the configuration.
func (tf *ToolFilter) Unknown(known []string) []string {
	if tf.IsEmpty() {
		return nil
	}
	registered := nameSet(known)
	var out []string
	for _, set := range []map[string]struct{}{tf.allow, tf.deny} {
		for n := range set {
			if _, ok := registered[n]; !ok {
				out = append(out, n)
			}
		}
	}
	sort.Strings(out)
	return out
}
