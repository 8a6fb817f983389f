package selection

import (
	"fmt"
	"sort"
)

// Selector accumulates raw enable/disable operations and resolves them into
// an immutable SelectionSet. After Resolve succeeds the selector is frozen;
// further mutation returns an error.
type Selector struct {
	metas      map[Token][]Token
	exclusions []ExclusionGroup

	positives map[Token]bool
	negatives map[Token]bool

	resolved bool
}

// NewSelector creates a selector with the given meta-group and exclusion
// group definitions.
func NewSelector(metas []MetaGroup, exclusions []ExclusionGroup) *Selector {
	metaMap := make(map[Token][]Token, len(metas))
	for _, m := range metas {
		metaMap[m.Name] = m.Members
	}
	return &Selector{
		metas:      metaMap,
		exclusions: exclusions,
		positives:  make(map[Token]bool),
		negatives:  make(map[Token]bool),
	}
}

// Enable marks a token (or meta token) as requested.
func (s *Selector) Enable(token Token) error {
	if s.resolved {
		return fmt.Errorf("selection already resolved; cannot enable %q", token)
	}
	s.positives[token] = true
	return nil
}

// Disable force-excludes a token. A disabled token stays disabled even when a
// meta-group expansion would include it, regardless of call order.
func (s *Selector) Disable(token Token) error {
	if s.resolved {
		return fmt.Errorf("selection already resolved; cannot disable %q", token)
	}
	s.negatives[token] = true
	return nil
}

// ExpandMeta expands any meta tokens in the given list into their concrete
// members. Non-meta tokens pass through unchanged. Nested meta groups are
// expanded to a fixpoint.
func (s *Selector) ExpandMeta(tokens []Token) []Token {
	seen := make(map[Token]bool)
	var out []Token

	var expand func(t Token)
	expand = func(t Token) {
		if seen[t] {
			return
		}
		seen[t] = true
		members, isMeta := s.metas[t]
		if !isMeta {
			out = append(out, t)
			return
		}
		for _, m := range members {
			expand(m)
		}
	}

	for _, t := range tokens {
		expand(t)
	}
	return out
}

// Resolve computes the final SelectionSet: phase one expands every meta token
// in the positives, phase two subtracts the negatives, then the result is
// frozen and validated against the declared exclusion groups. Validation
// failure leaves the selector unresolved.
func (s *Selector) Resolve() (*SelectionSet, error) {
	if s.resolved {
		return nil, fmt.Errorf("selection already resolved")
	}

	raw := make([]Token, 0, len(s.positives))
	for t := range s.positives {
		raw = append(raw, t)
	}
	sort.Slice(raw, func(i, j int) bool { return raw[i] < raw[j] })

	candidate := make(map[Token]bool)
	for _, t := range s.ExpandMeta(raw) {
		candidate[t] = true
	}

	// Negation always wins, even when a meta group re-includes the token.
	for t := range s.negatives {
		delete(candidate, t)
	}

	set := newSelectionSet(candidate)

	if err := s.validateExclusions(set); err != nil {
		return nil, err
	}

	s.resolved = true
	return set, nil
}

// validateExclusions checks that every declared exclusion group has exactly
// one enabled member.
func (s *Selector) validateExclusions(set *SelectionSet) error {
	for _, g := range s.exclusions {
		var enabled []Token
		for _, m := range g.Members {
			if set.Enabled(m) {
				enabled = append(enabled, m)
			}
		}
		switch len(enabled) {
		case 1:
			// Exactly one member enabled: valid.
		case 0:
			return &ExclusionViolation{Group: g.Name, Enabled: nil}
		default:
			return &ExclusionViolation{Group: g.Name, Enabled: enabled}
		}
	}
	return nil
}

// ExclusionViolation reports a mutual-exclusion group with zero or more than
// one enabled member.
type ExclusionViolation struct {
	// Group is the violated exclusion group.
	Group string

	// Enabled lists the enabled members; nil means zero members enabled.
	Enabled []Token
}

// Error implements the error interface.
func (e *ExclusionViolation) Error() string {
	if len(e.Enabled) == 0 {
		return fmt.Sprintf("zero members of exclusion group %q enabled", e.Group)
	}
	return fmt.Sprintf("%d members of exclusion group %q enabled: %v", len(e.Enabled), e.Group, e.Enabled)
}
