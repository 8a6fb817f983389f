package config

import (
	"context"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"

	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// Loader assembles the immutable run configuration: defaults, then the CUE
// document, then environment overrides, then the optional Starlark profile.
type Loader struct {
	ctx      *cue.Context
	profiles *ProfileEvaluator
	validate *validator.Validate
	logger   *telemetry.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *telemetry.Logger) *Loader {
	return &Loader{
		ctx:      cuecontext.New(),
		profiles: NewProfileEvaluator(0),
		validate: validator.New(),
		logger:   logger.NewComponentLogger("config"),
	}
}

// Load reads the CUE document at path and returns the finished Config. An
// empty path loads defaults plus environment overrides only.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := l.applyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if cfg.Profile != "" {
		if err := l.applyProfile(ctx, cfg); err != nil {
			return nil, err
		}
	}

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}

	l.logger.WithField("path", path).
		WithField("services", len(cfg.Services)).
		Debug("Configuration loaded")

	return cfg, nil
}

// applyFile unifies the CUE document over the defaults.
func (l *Loader) applyFile(cfg *Config, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	val := l.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile config %s: %w", path, err)
	}
	if err := val.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}

	if err := val.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	return nil
}

// applyProfile runs the Starlark profile and appends its tokens.
func (l *Loader) applyProfile(ctx context.Context, cfg *Config) error {
	result, err := l.profiles.EvaluateFile(ctx, cfg.Profile)
	if err != nil {
		return fmt.Errorf("failed to evaluate profile %s: %w", cfg.Profile, err)
	}

	cfg.Services = append(cfg.Services, result.Enable...)
	cfg.Disabled = append(cfg.Disabled, result.Disable...)

	l.logger.WithField("profile", cfg.Profile).
		WithField("enabled", len(result.Enable)).
		WithField("disabled", len(result.Disable)).
		Debug("Profile applied")

	return nil
}

// Validate checks struct constraints and network overlap.
func (l *Loader) Validate(cfg *Config) error {
	if err := l.validate.Struct(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := checkNetworkOverlap(cfg.Networks); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	return nil
}
