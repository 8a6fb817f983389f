package config

import (
	"fmt"
	"net"
	"time"
)

// Config is the immutable configuration for one provisioning run. It is
// assembled once by the loader and passed by reference into every component;
// nothing mutates it after load.
type Config struct {
	// Services are the raw positive service tokens, including meta-groups.
	Services []string `json:"services" env:"DEVLAB_SERVICES" envSeparator:","`

	// Disabled are explicit negations applied after meta expansion.
	Disabled []string `json:"disabled" env:"DEVLAB_DISABLED" envSeparator:","`

	// Profile is an optional Starlark script that emits additional enable
	// and disable tokens.
	Profile string `json:"profile" env:"DEVLAB_PROFILE"`

	// Overrides are operator override flags consulted by preflight policies.
	Overrides map[string]bool `json:"overrides"`

	// OwnerTag scopes every destructive host operation to artifacts this
	// orchestrator created.
	OwnerTag string `json:"owner_tag" env:"DEVLAB_OWNER_TAG" validate:"required"`

	// SeedDir is a local directory of seed data files, pushed to a remote
	// target before the seed stage runs its import commands.
	SeedDir string `json:"seed_dir" env:"DEVLAB_SEED_DIR"`

	Environment EnvironmentConfig `json:"environment"`
	Ring        RingConfig        `json:"ring"`
	Health      HealthConfig      `json:"health"`
	Networks    []NetworkConfig   `json:"networks" validate:"dive"`
	Database    DatabaseConfig    `json:"database"`
	LoopFS      LoopFSConfig      `json:"loopfs"`
	Session     SessionConfig     `json:"session"`
	SSH         *SSHConfig        `json:"ssh,omitempty"`
	Telemetry   TelemetryConfig   `json:"telemetry"`
}

// EnvironmentConfig describes the target host.
type EnvironmentConfig struct {
	OS               string   `json:"os" env:"DEVLAB_OS"`
	Distro           string   `json:"distro" env:"DEVLAB_DISTRO"`
	SupportedDistros []string `json:"supported_distros"`
}

// IsSupported reports whether the distro is on the supported list.
func (e EnvironmentConfig) IsSupported() bool {
	for _, d := range e.SupportedDistros {
		if d == e.Distro {
			return true
		}
	}
	return false
}

// RingConfig parameterizes the storage partition ring.
type RingConfig struct {
	Power    uint     `json:"power" validate:"min=1,max=20"`
	Replicas int      `json:"replicas" validate:"min=1"`
	Devices  []string `json:"devices"`
	Path     string   `json:"path"`
}

// HealthConfig parameterizes health gate polling.
type HealthConfig struct {
	IntervalSeconds int `json:"interval_seconds" env:"DEVLAB_HEALTH_INTERVAL" validate:"min=1"`
	TimeoutSeconds  int `json:"timeout_seconds" env:"DEVLAB_HEALTH_TIMEOUT" validate:"min=1"`
}

// Interval returns the poll interval.
func (h HealthConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSeconds) * time.Second
}

// Timeout returns the cumulative timeout.
func (h HealthConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// NetworkConfig describes one virtual bridge network.
type NetworkConfig struct {
	Name string `json:"name" validate:"required"`
	CIDR string `json:"cidr" validate:"required,cidr"`
}

// DatabaseConfig holds the admin connection and per-database defaults.
type DatabaseConfig struct {
	AdminDSN     string `json:"admin_dsn" env:"DEVLAB_DB_ADMIN_DSN"`
	CharacterSet string `json:"character_set"`
	Collation    string `json:"collation"`
}

// LoopFSConfig describes the loopback-backed object store filesystem.
type LoopFSConfig struct {
	ImagePath  string `json:"image_path"`
	SizeMB     int    `json:"size_mb"`
	FSType     string `json:"fs_type"`
	MountPoint string `json:"mount_point"`
}

// SessionConfig names the supervision session and its artifacts.
type SessionConfig struct {
	Name      string `json:"name" env:"DEVLAB_SESSION" validate:"required"`
	LogDir    string `json:"log_dir" env:"DEVLAB_LOG_DIR"`
	StatePath string `json:"state_path" env:"DEVLAB_STATE_PATH"`
}

// SSHConfig targets a remote host instead of local exec.
type SSHConfig struct {
	Host    string `json:"host" validate:"required"`
	Port    int    `json:"port"`
	User    string `json:"user" validate:"required"`
	KeyPath string `json:"key_path"`
}

// Address returns the host:port dial address.
func (s SSHConfig) Address() string {
	port := s.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", s.Host, port)
}

// TelemetryConfig configures logging, metrics and tracing.
type TelemetryConfig struct {
	LogLevel       string `json:"log_level" env:"DEVLAB_LOG_LEVEL"`
	LogFormat      string `json:"log_format" env:"DEVLAB_LOG_FORMAT"`
	MetricsEnabled bool   `json:"metrics_enabled" env:"DEVLAB_METRICS"`
	MetricsAddress string `json:"metrics_address"`
	TracingEnabled bool   `json:"tracing_enabled" env:"DEVLAB_TRACING"`
	TracesEndpoint string `json:"traces_endpoint"`
}

// Default returns the baseline configuration before file and environment
// overrides are applied.
func Default() *Config {
	return &Config{
		Services: []string{"base"},
		OwnerTag: "devlab",
		Environment: EnvironmentConfig{
			OS:               "linux",
			SupportedDistros: []string{"ubuntu-22.04", "ubuntu-24.04", "debian-12", "fedora-40"},
		},
		Ring: RingConfig{
			Power:    10,
			Replicas: 3,
			Devices:  []string{"d1", "d2", "d3"},
			Path:     "/var/lib/devlab/object.ring.json",
		},
		Health: HealthConfig{
			IntervalSeconds: 1,
			TimeoutSeconds:  60,
		},
		Networks: []NetworkConfig{
			{Name: "br-devlab", CIDR: "172.24.4.1/24"},
		},
		Database: DatabaseConfig{
			CharacterSet: "utf8mb4",
		},
		LoopFS: LoopFSConfig{
			ImagePath:  "/var/lib/devlab/object.img",
			SizeMB:     1024,
			FSType:     "xfs",
			MountPoint: "/var/lib/devlab/object",
		},
		Session: SessionConfig{
			Name:      "devlab",
			LogDir:    "/var/log/devlab",
			StatePath: "/var/lib/devlab/registry.db",
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// checkNetworkOverlap rejects address ranges that overlap each other.
func checkNetworkOverlap(networks []NetworkConfig) error {
	parsed := make([]*net.IPNet, len(networks))
	for i, n := range networks {
		_, ipnet, err := net.ParseCIDR(n.CIDR)
		if err != nil {
			return fmt.Errorf("network %s has invalid CIDR %q: %w", n.Name, n.CIDR, err)
		}
		parsed[i] = ipnet
	}

	for i := 0; i < len(parsed); i++ {
		for j := i + 1; j < len(parsed); j++ {
			if parsed[i].Contains(parsed[j].IP) || parsed[j].Contains(parsed[i].IP) {
				return fmt.Errorf("networks %s and %s overlap", networks[i].Name, networks[j].Name)
			}
		}
	}

	return nil
}
