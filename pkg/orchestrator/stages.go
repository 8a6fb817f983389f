package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/devlab-sh/devlab/pkg/health"
	"github.com/devlab-sh/devlab/pkg/resources"
	"github.com/devlab-sh/devlab/pkg/selection"
)

// srcRoot is where service source trees are checked out on the target.
const srcRoot = "/opt/devlab/src"

// seedDataDir is where seed data files live on the target.
const seedDataDir = "/usr/share/devlab/seed"

// BuildStages returns the fixed provisioning sequence. Order is total and
// never changes; individual stages skip themselves via their predicate when
// the selection gives them nothing to do.
func BuildStages() []Stage {
	return []Stage{
		{Name: "packages", Run: runPackages},
		{Name: "source", Run: runSource},
		{Name: "clients", Run: runClients},
		{Name: "configs", Run: runConfigs},
		{Name: "databases", Enabled: anyDatabase, Run: runDatabases},
		{Name: "identity", Enabled: enabledPred(selection.TokenIdentity), Run: runIdentity},
		{Name: "start", Run: runStart},
		{Name: "verify", Run: runVerify},
		{Name: "seed", Enabled: enabledPred(selection.TokenSeed), Run: runSeed},
	}
}

func enabledPred(token selection.Token) func(*selection.SelectionSet) bool {
	return func(set *selection.SelectionSet) bool {
		return set.Enabled(token)
	}
}

func anyDatabase(set *selection.SelectionSet) bool {
	for _, spec := range enabledSpecs(set) {
		if spec.Database != "" {
			return true
		}
	}
	return false
}

// packageManager picks the install command for the configured distro.
func packageManager(distro string) []string {
	if strings.HasPrefix(distro, "fedora") {
		return []string{"dnf", "install", "-y"}
	}
	return []string{"apt-get", "install", "-y"}
}

func runPackages(ctx context.Context, deps *Deps) error {
	var packages []string
	seen := make(map[string]bool)
	for _, spec := range enabledSpecs(deps.Selection) {
		for _, pkg := range spec.Packages {
			if !seen[pkg] {
				seen[pkg] = true
				packages = append(packages, pkg)
			}
		}
	}
	if len(packages) == 0 {
		return nil
	}

	install := packageManager(deps.Config.Environment.Distro)
	args := append(install[1:], packages...)
	deps.Logger.Infof("Installing %d host packages", len(packages))
	if _, err := deps.Runner.Run(ctx, install[0], args...); err != nil {
		return NewStageError("package install failed", err)
	}
	return nil
}

func runSource(ctx context.Context, deps *Deps) error {
	for _, spec := range enabledSpecs(deps.Selection) {
		if spec.Repo == "" {
			continue
		}
		dir := fmt.Sprintf("%s/%s", srcRoot, spec.Token)
		logger := deps.Logger.WithService(string(spec.Token))

		// A prior checkout is updated in place; anything else is a fresh
		// shallow clone.
		if _, err := deps.Runner.Run(ctx, "test", "-d", dir); err == nil {
			logger.Debugf("Updating source tree %s", dir)
			if _, err := deps.Runner.Run(ctx, "git", "-C", dir, "pull", "--ff-only"); err != nil {
				return NewStageError(fmt.Sprintf("source update for %s failed", spec.Token), err)
			}
			continue
		}

		logger.Infof("Cloning %s", spec.Repo)
		if _, err := deps.Runner.Run(ctx, "git", "clone", "--depth", "1", spec.Repo, dir); err != nil {
			return NewStageError(fmt.Sprintf("source clone for %s failed", spec.Token), err)
		}
	}
	return nil
}

func runClients(ctx context.Context, deps *Deps) error {
	var packages []string
	seen := make(map[string]bool)
	for _, spec := range enabledSpecs(deps.Selection) {
		for _, pkg := range spec.ClientPackages {
			if !seen[pkg] {
				seen[pkg] = true
				packages = append(packages, pkg)
			}
		}
	}
	if len(packages) == 0 {
		return nil
	}

	install := packageManager(deps.Config.Environment.Distro)
	args := append(install[1:], packages...)
	if _, err := deps.Runner.Run(ctx, install[0], args...); err != nil {
		return NewStageError("client install failed", err)
	}
	return nil
}

// runConfigs materializes the run's host-level plumbing: virtual bridges
// with tagged firewall rules, the loopback filesystem backing the object
// store, and the partition ring file.
func runConfigs(ctx context.Context, deps *Deps) error {
	cfg := deps.Config
	bridges := resources.NewBridgeManager(deps.Runner, deps.Logger, deps.Metrics)

	for _, network := range cfg.Networks {
		key := resources.Key{Kind: resources.KindBridge, Name: network.Name, OwnerTag: cfg.OwnerTag}
		if _, err := bridges.EnsurePresent(ctx, key, resources.BridgeSpec{CIDR: network.CIDR}); err != nil {
			return NewResourceError("bridge setup failed", err).WithResource(key.String())
		}
	}

	if !deps.Selection.Enabled(selection.TokenObject) {
		return nil
	}

	loopfs := resources.NewLoopFSManager(deps.Runner, deps.Logger, deps.Metrics)
	fsKey := resources.Key{Kind: resources.KindLoopFS, Name: cfg.LoopFS.ImagePath, OwnerTag: cfg.OwnerTag}
	fsSpec := resources.LoopFSSpec{
		ImagePath:  cfg.LoopFS.ImagePath,
		SizeMB:     cfg.LoopFS.SizeMB,
		FSType:     cfg.LoopFS.FSType,
		MountPoint: cfg.LoopFS.MountPoint,
	}
	if _, err := loopfs.EnsurePresent(ctx, fsKey, fsSpec); err != nil {
		return NewResourceError("loopback filesystem setup failed", err).WithResource(fsKey.String())
	}

	rings := resources.NewRingManager(deps.Logger, deps.Metrics)
	ringKey := resources.Key{Kind: resources.KindRing, Name: cfg.Ring.Path, OwnerTag: cfg.OwnerTag}
	ringSpec := resources.RingSpec{
		Power:    cfg.Ring.Power,
		Replicas: cfg.Ring.Replicas,
		Devices:  cfg.Ring.Devices,
		Path:     cfg.Ring.Path,
	}
	if _, err := rings.EnsurePresent(ctx, ringKey, ringSpec); err != nil {
		return NewResourceError("partition ring build failed", err).WithResource(ringKey.String())
	}

	return nil
}

func runDatabases(ctx context.Context, deps *Deps) error {
	cfg := deps.Config
	if cfg.Database.AdminDSN == "" {
		return NewResourceError("database admin DSN is not configured", nil)
	}

	manager, err := resources.NewDatabaseManager(cfg.Database.AdminDSN, deps.Logger, deps.Metrics)
	if err != nil {
		return NewResourceError("database admin connection failed", err)
	}
	defer manager.Close()

	spec := resources.DatabaseSpec{
		CharacterSet: cfg.Database.CharacterSet,
		Collation:    cfg.Database.Collation,
	}
	for _, svc := range enabledSpecs(deps.Selection) {
		if svc.Database == "" {
			continue
		}
		key := resources.Key{Kind: resources.KindDatabase, Name: svc.Database, OwnerTag: cfg.OwnerTag}
		if _, err := manager.EnsurePresent(ctx, key, spec); err != nil {
			return NewResourceError("database recreate failed", err).WithResource(key.String())
		}
	}
	return nil
}

// runIdentity bootstraps the identity service and registers an endpoint for
// every enabled service with a network port.
func runIdentity(ctx context.Context, deps *Deps) error {
	if _, err := deps.Runner.Run(ctx, "devlab-identity-manage", "bootstrap"); err != nil {
		return NewStageError("identity bootstrap failed", err)
	}

	for _, spec := range enabledSpecs(deps.Selection) {
		if spec.Daemon == "" || spec.Port == 0 {
			continue
		}
		url := fmt.Sprintf("http://localhost:%d", spec.Port)
		_, err := deps.Runner.Run(ctx, "devlab-identity-manage", "endpoint-create",
			"--service", string(spec.Token), "--url", url)
		if err != nil {
			return NewStageError(fmt.Sprintf("endpoint registration for %s failed", spec.Token), err)
		}
	}
	return nil
}

// runStart launches every enabled daemon. Backing services owned by the init
// system are started through it; everything else becomes a supervised task
// that outlives this process.
func runStart(ctx context.Context, deps *Deps) error {
	for _, spec := range enabledSpecs(deps.Selection) {
		if spec.SystemUnit != "" {
			if _, err := deps.Runner.Run(ctx, "systemctl", "start", spec.SystemUnit); err != nil {
				return NewStageError(fmt.Sprintf("unit %s start failed", spec.SystemUnit), err)
			}
			continue
		}
		if spec.Daemon == "" {
			continue
		}
		task, err := deps.Supervisor.Spawn(ctx, deps.Session, string(spec.Token), spec.Daemon, spec.Args...)
		if err != nil {
			return NewStageError(fmt.Sprintf("spawn of %s failed", spec.Token), err)
		}
		deps.Logger.WithTask(task.Name).Infof("Spawned %s (pid %d)", spec.Daemon, task.PID)
	}
	return nil
}

// runVerify gates every network-facing service on TCP readiness, then marks
// its supervised task Running. A gate timeout is terminal.
func runVerify(ctx context.Context, deps *Deps) error {
	cfg := deps.Config
	tasks, err := deps.Supervisor.ListTasks(ctx, deps.Session)
	if err != nil {
		return NewStageError("task listing failed", err)
	}
	byName := make(map[string]int, len(tasks))
	for i, task := range tasks {
		byName[task.Name] = i
	}

	catalog := Catalog()
	for _, token := range deps.Selection.Tokens() {
		spec, ok := catalog[token]
		if !ok || spec.Port == 0 {
			continue
		}

		check := health.Check{
			Name:     string(token),
			Probe:    &health.TCPProbe{Address: fmt.Sprintf("localhost:%d", spec.Port)},
			Interval: cfg.Health.Interval(),
			Timeout:  cfg.Health.Timeout(),
		}
		if err := deps.Gate.Await(ctx, check); err != nil {
			return NewHealthTimeoutError(fmt.Sprintf("service %s never became ready", token), err)
		}

		if i, ok := byName[string(token)]; ok {
			if err := deps.Supervisor.MarkRunning(ctx, tasks[i]); err != nil {
				return NewStageError(fmt.Sprintf("state update for %s failed", token), err)
			}
		}
	}
	return nil
}

// runSeed loads example data. For remote targets the seed files are pushed
// over SFTP first; the import commands then run on the target.
func runSeed(ctx context.Context, deps *Deps) error {
	if deps.Uploader != nil && deps.SeedDir != "" {
		if err := deps.Uploader.UploadDir(ctx, deps.SeedDir, seedDataDir); err != nil {
			return NewStageError("seed upload failed", err)
		}
	}

	for _, spec := range enabledSpecs(deps.Selection) {
		if len(spec.SeedArgs) == 0 {
			continue
		}
		if _, err := deps.Runner.Run(ctx, spec.SeedArgs[0], spec.SeedArgs[1:]...); err != nil {
			return NewStageError(fmt.Sprintf("seed load for %s failed", spec.Token), err)
		}
	}
	return nil
}
