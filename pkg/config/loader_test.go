package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/devlab-sh/devlab/pkg/telemetry"
)

func testLoader(t *testing.T) *Loader {
	t.Helper()

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	return NewLoader(logger)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := testLoader(t).Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OwnerTag != "devlab" {
		t.Errorf("Expected default owner tag, got %s", cfg.OwnerTag)
	}
	if cfg.Ring.Power != 10 {
		t.Errorf("Expected default ring power 10, got %d", cfg.Ring.Power)
	}
	if cfg.Health.Interval() <= 0 || cfg.Health.Timeout() <= 0 {
		t.Errorf("Expected positive health gate durations")
	}
}

func TestLoad_CUEFile(t *testing.T) {
	dir := t.TempDir()
	doc := `
services: ["base", "storage", "dashboard"]
disabled: ["rabbit"]
owner_tag: "devlab-ci"
ring: {
	power:    8
	replicas: 2
	devices:  ["sda", "sdb"]
	path:     "/tmp/devlab/object.ring.json"
}
health: {
	interval_seconds: 2
	timeout_seconds:  30
}
networks: [
	{name: "br-mgmt", cidr: "172.24.4.1/24"},
	{name: "br-data", cidr: "172.24.5.1/24"},
]
`
	path := filepath.Join(dir, "devlab.cue")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := testLoader(t).Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OwnerTag != "devlab-ci" {
		t.Errorf("Expected owner tag from file, got %s", cfg.OwnerTag)
	}
	if len(cfg.Services) != 3 {
		t.Errorf("Expected 3 services, got %v", cfg.Services)
	}
	if cfg.Ring.Power != 8 || cfg.Ring.Replicas != 2 {
		t.Errorf("Expected ring from file, got %+v", cfg.Ring)
	}
	if len(cfg.Networks) != 2 {
		t.Errorf("Expected 2 networks, got %d", len(cfg.Networks))
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("DEVLAB_OWNER_TAG", "devlab-env")
	t.Setenv("DEVLAB_SERVICES", "base,storage")
	t.Setenv("DEVLAB_SEED_DIR", "/srv/seed")

	cfg, err := testLoader(t).Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.OwnerTag != "devlab-env" {
		t.Errorf("Expected env owner tag, got %s", cfg.OwnerTag)
	}
	if len(cfg.Services) != 2 || cfg.Services[1] != "storage" {
		t.Errorf("Expected services from env, got %v", cfg.Services)
	}
	if cfg.SeedDir != "/srv/seed" {
		t.Errorf("Expected seed dir from env, got %s", cfg.SeedDir)
	}
}

func TestLoad_OverlappingNetworksRejected(t *testing.T) {
	dir := t.TempDir()
	doc := `
networks: [
	{name: "br-a", cidr: "172.24.4.1/24"},
	{name: "br-b", cidr: "172.24.4.128/25"},
]
`
	path := filepath.Join(dir, "devlab.cue")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := testLoader(t).Load(context.Background(), path); err == nil {
		t.Errorf("Expected overlapping networks to be rejected")
	}
}

func TestLoad_InvalidCUE(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.cue")
	if err := os.WriteFile(path, []byte("services: [unclosed"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := testLoader(t).Load(context.Background(), path); err == nil {
		t.Errorf("Expected broken CUE to be rejected")
	}
}

func TestLoad_Profile(t *testing.T) {
	dir := t.TempDir()
	profile := `
# Storage-heavy profile.
extra = ["object", "block"]
enable = extra + ["dashboard"]
disable = ["rabbit"]
`
	profilePath := filepath.Join(dir, "storage.star")
	if err := os.WriteFile(profilePath, []byte(profile), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	doc := `
services: ["base"]
profile: "` + profilePath + `"
`
	cuePath := filepath.Join(dir, "devlab.cue")
	if err := os.WriteFile(cuePath, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := testLoader(t).Load(context.Background(), cuePath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := map[string]bool{"base": true, "object": true, "block": true, "dashboard": true}
	if len(cfg.Services) != len(want) {
		t.Fatalf("Expected %d services, got %v", len(want), cfg.Services)
	}
	for _, s := range cfg.Services {
		if !want[s] {
			t.Errorf("Unexpected service %q", s)
		}
	}
	if len(cfg.Disabled) != 1 || cfg.Disabled[0] != "rabbit" {
		t.Errorf("Expected rabbit disabled by profile, got %v", cfg.Disabled)
	}
}

func TestEnvironment_IsSupported(t *testing.T) {
	env := EnvironmentConfig{
		Distro:           "ubuntu-24.04",
		SupportedDistros: []string{"ubuntu-22.04", "ubuntu-24.04"},
	}
	if !env.IsSupported() {
		t.Errorf("Expected ubuntu-24.04 to be supported")
	}

	env.Distro = "slackware-15"
	if env.IsSupported() {
		t.Errorf("Expected slackware-15 to be unsupported")
	}
}

func TestSSHConfig_Address(t *testing.T) {
	ssh := SSHConfig{Host: "10.0.0.5", User: "stack"}
	if got := ssh.Address(); got != "10.0.0.5:22" {
		t.Errorf("Expected default port 22, got %s", got)
	}

	ssh.Port = 2222
	if got := ssh.Address(); got != "10.0.0.5:2222" {
		t.Errorf("Expected explicit port, got %s", got)
	}
}
