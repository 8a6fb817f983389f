package selection

import (
	"sort"
	"strings"
)

// SelectionSet is the resolved, immutable set of enabled tokens for a run.
// It is computed once by Selector.Resolve before any provisioning begins and
// never mutated afterwards.
type SelectionSet struct {
	enabled map[Token]bool
	ordered []Token
}

func newSelectionSet(enabled map[Token]bool) *SelectionSet {
	copied := make(map[Token]bool, len(enabled))
	ordered := make([]Token, 0, len(enabled))
	for t := range enabled {
		copied[t] = true
		ordered = append(ordered, t)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	return &SelectionSet{enabled: copied, ordered: ordered}
}

// Enabled reports whether the token is enabled.
func (s *SelectionSet) Enabled(t Token) bool {
	return s.enabled[t]
}

// Any reports whether at least one of the given tokens is enabled.
func (s *SelectionSet) Any(tokens ...Token) bool {
	for _, t := range tokens {
		if s.enabled[t] {
			return true
		}
	}
	return false
}

// Tokens returns the enabled tokens in lexical order.
func (s *SelectionSet) Tokens() []Token {
	out := make([]Token, len(s.ordered))
	copy(out, s.ordered)
	return out
}

// Strings returns the enabled tokens as plain strings, in lexical order.
func (s *SelectionSet) Strings() []string {
	out := make([]string, len(s.ordered))
	for i, t := range s.ordered {
		out[i] = string(t)
	}
	return out
}

// Len returns the number of enabled tokens.
func (s *SelectionSet) Len() int {
	return len(s.ordered)
}

// String renders the set as a comma-separated list for diagnostics.
func (s *SelectionSet) String() string {
	return strings.Join(s.Strings(), ",")
}
