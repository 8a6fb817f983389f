package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/devlab-sh/devlab/pkg/config"
	"github.com/devlab-sh/devlab/pkg/health"
	"github.com/devlab-sh/devlab/pkg/policy"
	"github.com/devlab-sh/devlab/pkg/resources"
	"github.com/devlab-sh/devlab/pkg/selection"
	"github.com/devlab-sh/devlab/pkg/stores"
	"github.com/devlab-sh/devlab/pkg/supervisor"
	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// Params collects the collaborators an Orchestrator is assembled from.
type Params struct {
	Config     *config.Config
	Policies   *policy.Engine
	Runner     resources.Runner
	Store      stores.Store
	Supervisor *supervisor.Supervisor
	Gate       *health.Gate

	// Uploader and SeedDir are set only for remote targets.
	Uploader SeedUploader
	SeedDir  string

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
}

// Orchestrator drives provisioning runs against one target host.
type Orchestrator struct {
	cfg      *config.Config
	policies *policy.Engine
	runner   resources.Runner
	store    stores.Store
	sup      *supervisor.Supervisor
	gate     *health.Gate
	uploader SeedUploader
	seedDir  string
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	stages   []Stage
}

// New assembles an orchestrator with the built-in stage sequence.
func New(p Params) *Orchestrator {
	return &Orchestrator{
		cfg:      p.Config,
		policies: p.Policies,
		runner:   p.Runner,
		store:    p.Store,
		sup:      p.Supervisor,
		gate:     p.Gate,
		uploader: p.Uploader,
		seedDir:  p.SeedDir,
		logger:   p.Logger.NewComponentLogger("orchestrator"),
		metrics:  p.Metrics,
		tracer:   p.Tracer,
		stages:   BuildStages(),
	}
}

// Resolve expands and freezes the configured service selection. Selection
// errors, including exclusion group violations, are preflight failures.
func (o *Orchestrator) Resolve() (*selection.SelectionSet, error) {
	selector := selection.NewSelector(selection.DefaultMetaGroups(), selection.DefaultExclusionGroups())

	for _, raw := range o.cfg.Services {
		if err := selector.Enable(selection.Token(raw)); err != nil {
			return nil, NewPreflightError(fmt.Sprintf("cannot enable %q", raw), err)
		}
	}
	for _, raw := range o.cfg.Disabled {
		if err := selector.Disable(selection.Token(raw)); err != nil {
			return nil, NewPreflightError(fmt.Sprintf("cannot disable %q", raw), err)
		}
	}

	set, err := selector.Resolve()
	if err != nil {
		return nil, NewPreflightError("service selection is invalid", err)
	}
	return set, nil
}

// Preflight resolves the selection and evaluates every enabled policy
// against it. A blocking violation yields a preflight error; the returned
// result carries warnings either way. Preflight never mutates the host.
func (o *Orchestrator) Preflight(ctx context.Context) (*policy.Result, *selection.SelectionSet, error) {
	set, err := o.Resolve()
	if err != nil {
		return nil, nil, err
	}

	input := &policy.Input{
		Services:  set.Strings(),
		Overrides: o.cfg.Overrides,
		Environment: policy.Environment{
			OS:        o.cfg.Environment.OS,
			Distro:    o.cfg.Environment.Distro,
			Supported: o.cfg.Environment.IsSupported(),
		},
	}

	result, err := o.policies.Preflight(ctx, input)
	if err != nil {
		return nil, set, NewPreflightError("policy evaluation failed", err)
	}
	if !result.Allowed {
		return result, set, NewPreflightError(violationSummary(result), nil)
	}
	return result, set, nil
}

// Up runs one full provisioning pass: preflight, session open, stages. It
// returns nil only if every stage and readiness gate succeeded.
func (o *Orchestrator) Up(ctx context.Context) error {
	runID := uuid.New().String()
	logger := o.logger.WithField("run_id", runID)

	result, set, err := o.Preflight(ctx)
	if err != nil {
		o.metrics.RecordError(string(ErrorClassPreflight))
		return err
	}
	for _, warning := range result.Warnings {
		logger.WithField("policy", warning.Policy).Warn(warning.Message)
	}
	logger.Infof("Selection resolved: %s", set)

	ctx, span := o.tracer.StartRunSpan(ctx, runID)
	defer span.End()

	session, err := o.sup.OpenSession(ctx, o.cfg.Session.Name, runID, o.cfg.OwnerTag)
	if err != nil {
		if errors.Is(err, supervisor.ErrSessionConflict) {
			o.metrics.RecordError(string(ErrorClassSessionConflict))
			conflictErr := NewSessionConflictError(
				fmt.Sprintf("session %q is already active; tear it down first", o.cfg.Session.Name), err)
			telemetry.RecordError(span, conflictErr)
			return conflictErr
		}
		stageErr := NewStageError("session open failed", err)
		telemetry.RecordError(span, stageErr)
		return stageErr
	}
	o.metrics.SetSessionActive(true)

	deps := &Deps{
		Config:     o.cfg,
		Selection:  set,
		Runner:     o.runner,
		Supervisor: o.sup,
		Gate:       o.gate,
		Uploader:   o.uploader,
		SeedDir:    o.seedDir,
		Logger:     logger,
		Metrics:    o.metrics,
		Session:    session.Name,
		RunID:      runID,
	}

	if err := o.runStages(ctx, deps, o.stages); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	telemetry.RecordSuccess(span)
	logger.Info("Provisioning complete")
	return nil
}

// Teardown stops the named session's tasks and removes every owned resource:
// tagged firewall rules and bridges, the loopback filesystem, the ring file,
// and service databases. An empty name tears down the configured session.
// Teardown is the supported path back to a state Up accepts.
func (o *Orchestrator) Teardown(ctx context.Context, name string) error {
	if name == "" {
		name = o.cfg.Session.Name
	}
	logger := o.logger.WithSession(name)

	_, err := o.store.GetSession(ctx, name)
	switch {
	case errors.Is(err, stores.ErrNotFound):
		logger.Info("No session recorded; removing resources only")
	case err != nil:
		return NewStageError("session lookup failed", err)
	default:
		if err := o.sup.StopSession(ctx, name); err != nil {
			return NewStageError("session stop failed", err)
		}
		o.metrics.SetSessionActive(false)
	}

	tag := o.cfg.OwnerTag
	bridges := resources.NewBridgeManager(o.runner, o.logger, o.metrics)
	for _, network := range o.cfg.Networks {
		key := resources.Key{Kind: resources.KindBridge, Name: network.Name, OwnerTag: tag}
		if err := bridges.EnsureAbsent(ctx, key); err != nil {
			return NewResourceError("bridge removal failed", err).WithResource(key.String())
		}
	}

	loopfs := resources.NewLoopFSManager(o.runner, o.logger, o.metrics)
	fsKey := resources.Key{Kind: resources.KindLoopFS, Name: o.cfg.LoopFS.ImagePath, OwnerTag: tag}
	if err := loopfs.EnsureAbsent(ctx, fsKey); err != nil {
		return NewResourceError("loopback filesystem removal failed", err).WithResource(fsKey.String())
	}

	rings := resources.NewRingManager(o.logger, o.metrics)
	ringKey := resources.Key{Kind: resources.KindRing, Name: o.cfg.Ring.Path, OwnerTag: tag}
	if err := rings.EnsureAbsent(ctx, ringKey); err != nil {
		return NewResourceError("ring removal failed", err).WithResource(ringKey.String())
	}

	if err := o.teardownDatabases(ctx); err != nil {
		return err
	}

	logger.Info("Teardown complete")
	return nil
}

func (o *Orchestrator) teardownDatabases(ctx context.Context) error {
	if o.cfg.Database.AdminDSN == "" {
		o.logger.Debug("No database admin DSN; skipping database teardown")
		return nil
	}

	set, err := o.Resolve()
	if err != nil {
		// An invalid selection must not block teardown of host resources.
		o.logger.WithError(err).Warn("Selection unresolvable; skipping database teardown")
		return nil
	}

	manager, err := resources.NewDatabaseManager(o.cfg.Database.AdminDSN, o.logger, o.metrics)
	if err != nil {
		return NewResourceError("database admin connection failed", err)
	}
	defer manager.Close()

	for _, spec := range enabledSpecs(set) {
		if spec.Database == "" {
			continue
		}
		key := resources.Key{Kind: resources.KindDatabase, Name: spec.Database, OwnerTag: o.cfg.OwnerTag}
		if err := manager.EnsureAbsent(ctx, key); err != nil {
			return NewResourceError("database drop failed", err).WithResource(key.String())
		}
	}
	return nil
}

func violationSummary(result *policy.Result) string {
	if len(result.Violations) == 0 {
		return "policy denied the run"
	}
	first := result.Violations[0]
	if len(result.Violations) == 1 {
		return fmt.Sprintf("policy %s: %s", first.Policy, first.Message)
	}
	return fmt.Sprintf("policy %s: %s (and %d more violations)",
		first.Policy, first.Message, len(result.Violations)-1)
}
