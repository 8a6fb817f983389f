package commands

import (
	"context"
	"fmt"

	"github.com/devlab-sh/devlab/pkg/config"
	"github.com/devlab-sh/devlab/pkg/health"
	"github.com/devlab-sh/devlab/pkg/orchestrator"
	"github.com/devlab-sh/devlab/pkg/policy"
	"github.com/devlab-sh/devlab/pkg/resources"
	"github.com/devlab-sh/devlab/pkg/stores"
	"github.com/devlab-sh/devlab/pkg/supervisor"
	"github.com/devlab-sh/devlab/pkg/telemetry"
	transport "github.com/devlab-sh/devlab/pkg/transports/ssh"
)

// app wires the full dependency graph for one command invocation.
type app struct {
	cfg     *config.Config
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	store   stores.Store
	sup     *supervisor.Supervisor
	orch    *orchestrator.Orchestrator

	sshClient *transport.Client
}

// newApp loads configuration and assembles every component a command needs.
func newApp(ctx context.Context, version string) (*app, error) {
	bootLogger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "info", Format: "console"})
	if err != nil {
		return nil, err
	}

	cfg, err := config.NewLoader(bootLogger).Load(ctx, configPath)
	if err != nil {
		return nil, orchestrator.NewPreflightError("configuration rejected", err)
	}

	telemetryCfg := telemetryConfig(cfg, version)
	if err := telemetryCfg.Validate(); err != nil {
		return nil, orchestrator.NewPreflightError("telemetry configuration rejected", err)
	}

	logger, err := telemetry.NewLogger(telemetryCfg.Logging)
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics(telemetryCfg.Metrics)
	if err != nil {
		return nil, err
	}

	tracer, err := telemetry.NewTracer(telemetryCfg.Tracing,
		telemetryCfg.ServiceName, telemetryCfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Session.StatePath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}

	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if len(policyPaths) > 0 {
		if err := engine.LoadPolicies(ctx, policyPaths); err != nil {
			return nil, orchestrator.NewPreflightError("policy load failed", err)
		}
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		store:   store,
		sup:     supervisor.New(store, logger, metrics, cfg.Session.LogDir),
	}

	var runner resources.Runner = &resources.LocalRunner{}
	var uploader orchestrator.SeedUploader
	if cfg.SSH != nil {
		client, err := newSSHRunner(ctx, cfg.SSH)
		if err != nil {
			return nil, err
		}
		a.sshClient = client
		runner = client
		uploader = transport.NewUploader(client)
	}

	a.orch = orchestrator.New(orchestrator.Params{
		Config:     cfg,
		Policies:   engine,
		Runner:     runner,
		Store:      store,
		Supervisor: a.sup,
		Gate:       health.NewGate(logger, metrics),
		Uploader:   uploader,
		SeedDir:    cfg.SeedDir,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
	})

	return a, nil
}

// telemetryConfig maps the run config's telemetry section onto the defaults.
func telemetryConfig(cfg *config.Config, version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version

	if cfg.Telemetry.LogLevel != "" {
		tc.Logging.Level = cfg.Telemetry.LogLevel
	}
	if cfg.Telemetry.LogFormat != "" {
		tc.Logging.Format = cfg.Telemetry.LogFormat
	}

	tc.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	if cfg.Telemetry.MetricsAddress != "" {
		tc.Metrics.ListenAddress = cfg.Telemetry.MetricsAddress
	}

	tc.Tracing.Enabled = cfg.Telemetry.TracingEnabled
	if cfg.Telemetry.TracesEndpoint != "" {
		tc.Tracing.Exporter = "otlp"
		tc.Tracing.Endpoint = cfg.Telemetry.TracesEndpoint
	}

	return tc
}

func newSSHRunner(ctx context.Context, cfg *config.SSHConfig) (*transport.Client, error) {
	sshCfg := transport.DefaultConfig(cfg.Host, cfg.User)
	if cfg.Port != 0 {
		sshCfg.Port = cfg.Port
	}
	if cfg.KeyPath != "" {
		sshCfg.PrivateKeyPath = cfg.KeyPath
	}

	client, err := transport.NewClient(sshCfg)
	if err != nil {
		return nil, err
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("ssh connection to %s failed: %w", sshCfg.Address(), err)
	}
	return client, nil
}

// Close releases the app's connections and flushes telemetry.
func (a *app) Close(ctx context.Context) {
	if a.sshClient != nil {
		_ = a.sshClient.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(ctx)
	}
	if a.metrics != nil {
		_ = a.metrics.Close()
	}
}
