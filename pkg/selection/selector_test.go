package selection

import (
	"errors"
	"testing"
)

func testMetas() []MetaGroup {
	return []MetaGroup{
		{Name: "queueing", Members: []Token{TokenRabbit, TokenQpid, TokenZeroMQ}},
		{Name: "base", Members: []Token{TokenIdentity, TokenMySQL, TokenRabbit}},
	}
}

func TestSelector_Resolve_ExpandsMetaGroups(t *testing.T) {
	s := NewSelector(testMetas(), nil)
	if err := s.Enable("base"); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	set, err := s.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	for _, want := range []Token{TokenIdentity, TokenMySQL, TokenRabbit} {
		if !set.Enabled(want) {
			t.Errorf("Expected %s enabled after meta expansion", want)
		}
	}
	if set.Enabled("base") {
		t.Errorf("Meta token itself must not appear in the resolved set")
	}
}

func TestSelector_Resolve_NegationWinsRegardlessOfOrder(t *testing.T) {
	// Disable before enable and enable before disable must both resolve to
	// the same set: negation is applied after expansion.
	cases := []struct {
		name string
		ops  func(s *Selector)
	}{
		{
			name: "disable_then_enable",
			ops: func(s *Selector) {
				_ = s.Disable(TokenRabbit)
				_ = s.Enable("base")
			},
		},
		{
			name: "enable_then_disable",
			ops: func(s *Selector) {
				_ = s.Enable("base")
				_ = s.Disable(TokenRabbit)
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSelector(testMetas(), nil)
			tc.ops(s)

			set, err := s.Resolve()
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}

			if set.Enabled(TokenRabbit) {
				t.Errorf("Negated token rabbit must stay disabled")
			}
			if !set.Enabled(TokenIdentity) || !set.Enabled(TokenMySQL) {
				t.Errorf("Non-negated members must remain enabled, got %v", set.Tokens())
			}
		})
	}
}

func TestSelector_Resolve_ExclusionGroupExactlyOne(t *testing.T) {
	groups := []ExclusionGroup{
		{Name: "queue", Members: []Token{TokenRabbit, TokenQpid, TokenZeroMQ}},
	}

	s := NewSelector(testMetas(), groups)
	_ = s.Enable(TokenRabbit)

	set, err := s.Resolve()
	if err != nil {
		t.Fatalf("Expected exactly-one member to resolve, got: %v", err)
	}
	if !set.Enabled(TokenRabbit) {
		t.Errorf("Expected rabbit enabled")
	}
}

func TestSelector_Resolve_ExclusionGroupZeroMembers(t *testing.T) {
	// Meta "queueing" expands to the whole queue group; negating rabbit with
	// no other positive leaves zero members enabled, which is fatal.
	groups := []ExclusionGroup{
		{Name: "queue", Members: []Token{TokenRabbit, TokenQpid, TokenZeroMQ}},
	}

	s := NewSelector(testMetas(), groups)
	_ = s.Enable(TokenIdentity)
	_ = s.Disable(TokenRabbit)

	_, err := s.Resolve()
	if err == nil {
		t.Fatalf("Expected zero-member exclusion violation")
	}

	var viol *ExclusionViolation
	if !errors.As(err, &viol) {
		t.Fatalf("Expected ExclusionViolation, got %T: %v", err, err)
	}
	if viol.Group != "queue" {
		t.Errorf("Expected group queue, got %s", viol.Group)
	}
	if len(viol.Enabled) != 0 {
		t.Errorf("Expected zero enabled members, got %v", viol.Enabled)
	}
}

func TestSelector_Resolve_ExclusionGroupTooMany(t *testing.T) {
	groups := []ExclusionGroup{
		{Name: "queue", Members: []Token{TokenRabbit, TokenQpid, TokenZeroMQ}},
	}

	s := NewSelector(testMetas(), groups)
	_ = s.Enable("queueing")

	_, err := s.Resolve()
	if err == nil {
		t.Fatalf("Expected violation with all queue members enabled")
	}

	var viol *ExclusionViolation
	if !errors.As(err, &viol) {
		t.Fatalf("Expected ExclusionViolation, got %T: %v", err, err)
	}
	if len(viol.Enabled) != 3 {
		t.Errorf("Expected 3 enabled members, got %v", viol.Enabled)
	}
}

func TestSelector_Resolve_DeterministicAcrossCallOrder(t *testing.T) {
	build := func(ops []func(*Selector)) *SelectionSet {
		s := NewSelector(testMetas(), nil)
		for _, op := range ops {
			op(s)
		}
		set, err := s.Resolve()
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		return set
	}

	a := build([]func(*Selector){
		func(s *Selector) { _ = s.Enable(TokenImage) },
		func(s *Selector) { _ = s.Enable("queueing") },
		func(s *Selector) { _ = s.Disable(TokenQpid) },
		func(s *Selector) { _ = s.Disable(TokenZeroMQ) },
	})
	b := build([]func(*Selector){
		func(s *Selector) { _ = s.Disable(TokenZeroMQ) },
		func(s *Selector) { _ = s.Enable("queueing") },
		func(s *Selector) { _ = s.Disable(TokenQpid) },
		func(s *Selector) { _ = s.Enable(TokenImage) },
	})

	if a.String() != b.String() {
		t.Errorf("Resolution must be order independent: %q vs %q", a, b)
	}
}

func TestSelector_FrozenAfterResolve(t *testing.T) {
	s := NewSelector(nil, nil)
	_ = s.Enable(TokenIdentity)

	if _, err := s.Resolve(); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if err := s.Enable(TokenImage); err == nil {
		t.Errorf("Enable after Resolve must fail")
	}
	if err := s.Disable(TokenIdentity); err == nil {
		t.Errorf("Disable after Resolve must fail")
	}
	if _, err := s.Resolve(); err == nil {
		t.Errorf("Second Resolve must fail")
	}
}

func TestSelectionSet_Accessors(t *testing.T) {
	s := NewSelector(nil, nil)
	_ = s.Enable(TokenIdentity)
	_ = s.Enable(TokenImage)

	set, err := s.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if set.Len() != 2 {
		t.Errorf("Expected 2 tokens, got %d", set.Len())
	}
	if !set.Any(TokenCompute, TokenImage) {
		t.Errorf("Any must report true when one token is enabled")
	}
	if set.Any(TokenCompute, TokenBlock) {
		t.Errorf("Any must report false when no token is enabled")
	}

	tokens := set.Tokens()
	if tokens[0] != TokenIdentity || tokens[1] != TokenImage {
		t.Errorf("Tokens must be sorted, got %v", tokens)
	}
}
