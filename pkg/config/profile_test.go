package config

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestProfileEvaluator_Evaluate(t *testing.T) {
	pe := NewProfileEvaluator(5 * time.Second)

	script := `
enable = ["object", "block"]
disable = ["rabbit"]
`
	result, err := pe.Evaluate(context.Background(), "test.star", script)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if len(result.Enable) != 2 || result.Enable[0] != "object" {
		t.Errorf("Expected enable list, got %v", result.Enable)
	}
	if len(result.Disable) != 1 || result.Disable[0] != "rabbit" {
		t.Errorf("Expected disable list, got %v", result.Disable)
	}
}

func TestProfileEvaluator_MissingGlobalsAreEmpty(t *testing.T) {
	pe := NewProfileEvaluator(5 * time.Second)

	result, err := pe.Evaluate(context.Background(), "test.star", `x = 1`)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(result.Enable) != 0 || len(result.Disable) != 0 {
		t.Errorf("Expected empty token lists, got %+v", result)
	}
}

func TestProfileEvaluator_ComputedTokens(t *testing.T) {
	pe := NewProfileEvaluator(5 * time.Second)

	script := `
storage = ["object", "block"]
enable = [s for s in storage if s != "block"]
`
	result, err := pe.Evaluate(context.Background(), "test.star", script)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(result.Enable) != 1 || result.Enable[0] != "object" {
		t.Errorf("Expected computed list, got %v", result.Enable)
	}
}

func TestProfileEvaluator_WrongTypeRejected(t *testing.T) {
	pe := NewProfileEvaluator(5 * time.Second)

	_, err := pe.Evaluate(context.Background(), "test.star", `enable = "not-a-list"`)
	if err == nil {
		t.Fatalf("Expected non-list enable to be rejected")
	}
	if !strings.Contains(err.Error(), "must be a list") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestProfileEvaluator_SyntaxError(t *testing.T) {
	pe := NewProfileEvaluator(5 * time.Second)

	if _, err := pe.Evaluate(context.Background(), "test.star", `enable = [`); err == nil {
		t.Errorf("Expected syntax error")
	}
}

func TestProfileEvaluator_Timeout(t *testing.T) {
	pe := NewProfileEvaluator(100 * time.Millisecond)

	// An unbounded loop; the evaluator must give up at its timeout.
	script := `
def spin():
    x = 0
    for i in range(1000000000):
        x += i
    return x

y = spin()
`
	_, err := pe.Evaluate(context.Background(), "test.star", script)
	if err == nil {
		t.Fatalf("Expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("Unexpected error: %v", err)
	}
}
