package orchestrator

import (
	"context"

	"github.com/devlab-sh/devlab/pkg/config"
	"github.com/devlab-sh/devlab/pkg/health"
	"github.com/devlab-sh/devlab/pkg/resources"
	"github.com/devlab-sh/devlab/pkg/selection"
	"github.com/devlab-sh/devlab/pkg/supervisor"
	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// SeedUploader pushes seed data files to the provisioning target. Satisfied
// by the SFTP uploader for remote targets; nil for local runs, where seed
// files are expected in place.
type SeedUploader interface {
	UploadDir(ctx context.Context, localDir, remoteDir string) error
}

// Deps carries everything a stage body may touch. It is assembled once per
// run and shared by all stages; Selection is frozen before the first stage.
type Deps struct {
	Config    *config.Config
	Selection *selection.SelectionSet

	// Runner executes host mutation commands, locally or over SSH.
	Runner resources.Runner

	Supervisor *supervisor.Supervisor
	Gate       *health.Gate

	// Uploader is non-nil only for remote targets.
	Uploader SeedUploader

	// SeedDir is the local directory of seed data files pushed to a remote
	// target before the seed stage runs its import commands.
	SeedDir string

	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics

	// Session is the supervision session opened for this run.
	Session string

	// RunID identifies this run in logs, traces, and the registry.
	RunID string
}

// Stage is one step of the fixed provisioning sequence. Enabled consults
// only the frozen selection; Run mutates the host. A nil Enabled means the
// stage always runs.
type Stage struct {
	Name    string
	Enabled func(set *selection.SelectionSet) bool
	Run     func(ctx context.Context, deps *Deps) error
}
