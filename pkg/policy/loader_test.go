package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testRego = `package devlab.policies.test

# Denies everything, for loader tests.

import rego.v1

deny contains violation if {
	true
	violation := {"message": "always denied", "severity": "error"}
}
`

func TestLoader_LoadRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "always-deny.rego")
	if err := os.WriteFile(path, []byte(testRego), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	loader := NewLoader(testLogger(t))
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.Name != "always-deny" {
		t.Errorf("Expected name from file, got %s", p.Name)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Expected default warning severity, got %s", p.Severity)
	}
	if !p.Enabled {
		t.Errorf("Expected loaded policy to be enabled")
	}
	if p.Description == "" {
		t.Errorf("Expected description from leading comment")
	}
}

func TestLoader_LoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	yamlPolicy := `name: custom-check
description: Custom preflight check
severity: error
enabled: true
rego: |
  package devlab.policies.custom

  import rego.v1

  deny contains violation if {
    "forbidden" in input.services
    violation := {"message": "forbidden service enabled", "severity": "error"}
  }
`
	path := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(path, []byte(yamlPolicy), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	loader := NewLoader(testLogger(t))
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	p := policies[0]
	if p.Name != "custom-check" {
		t.Errorf("Expected custom-check, got %s", p.Name)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected error severity, got %s", p.Severity)
	}
}

func TestLoader_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.rego"), []byte(testRego), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a policy"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	loader := NewLoader(testLogger(t))
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy from directory, got %d", len(policies))
	}
}

func TestLoader_YAMLMissingName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("severity: error\nrego: 'package x'\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	loader := NewLoader(testLogger(t))
	if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err == nil {
		t.Errorf("Expected nameless YAML policy to be rejected")
	}
}

func TestLoader_LoadedPolicyEvaluates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "always-deny.rego")
	if err := os.WriteFile(path, []byte(testRego), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	eng, err := NewEngine(testLogger(t))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	input := &Input{
		Services:    []string{"identity"},
		Environment: Environment{OS: "linux", Distro: "ubuntu-24.04", Supported: true},
	}
	result, err := eng.Preflight(context.Background(), input)
	if err != nil {
		t.Fatalf("Preflight failed: %v", err)
	}
	if result.Allowed {
		t.Errorf("Expected loaded always-deny policy to block the run")
	}
}
