package resources

import (
	"context"
	"fmt"
	"strings"

	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// LoopFSSpec describes a loopback-backed filesystem.
type LoopFSSpec struct {
	ImagePath  string
	SizeMB     int
	FSType     string
	MountPoint string
}

// LoopFSManager manages a fixed-size loopback block device that is
// reformatted on every run.
type LoopFSManager struct {
	runner  Runner
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewLoopFSManager creates a loopback filesystem manager over the runner.
func NewLoopFSManager(runner Runner, logger *telemetry.Logger, metrics *telemetry.Metrics) *LoopFSManager {
	return &LoopFSManager{
		runner:  runner,
		logger:  logger.NewComponentLogger("resources.loopfs"),
		metrics: metrics,
	}
}

// EnsureAbsent unmounts the filesystem, detaches any loop device backed by
// the image file and removes the image.
func (m *LoopFSManager) EnsureAbsent(ctx context.Context, key Key) error {
	if key.Kind != KindLoopFS {
		return fmt.Errorf("expected %s key, got %s", KindLoopFS, key.Kind)
	}

	imagePath := key.Name

	// The mount may not exist on a fresh host; only a detach or remove
	// failure is fatal.
	if out, err := m.runner.Run(ctx, "findmnt", "-n", "-o", "TARGET", "-S", imagePath); err == nil {
		target := strings.TrimSpace(out)
		if target != "" {
			if _, err := m.runner.Run(ctx, "umount", target); err != nil {
				m.metrics.RecordResourceError(string(key.Kind))
				return fmt.Errorf("failed to unmount %s: %w", target, err)
			}
		}
	}

	if out, err := m.runner.Run(ctx, "losetup", "-j", imagePath); err == nil {
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			device, _, found := strings.Cut(line, ":")
			if !found {
				continue
			}
			if _, err := m.runner.Run(ctx, "losetup", "-d", strings.TrimSpace(device)); err != nil {
				m.metrics.RecordResourceError(string(key.Kind))
				return fmt.Errorf("failed to detach loop device %s: %w", device, err)
			}
		}
	}

	if _, err := m.runner.Run(ctx, "rm", "-f", imagePath); err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return fmt.Errorf("failed to remove image %s: %w", imagePath, err)
	}

	m.metrics.RecordResourceOp(string(key.Kind), "ensure_absent")
	m.logger.WithResource(key.String()).Debug("Loopback filesystem removed")
	return nil
}

// EnsurePresent recreates the image file, attaches it to a loop device,
// formats it and mounts it.
func (m *LoopFSManager) EnsurePresent(ctx context.Context, key Key, spec LoopFSSpec) (*Resource, error) {
	if err := m.EnsureAbsent(ctx, key); err != nil {
		return nil, err
	}
	if spec.SizeMB <= 0 {
		return nil, fmt.Errorf("loopfs %q requires a positive size", key.Name)
	}

	fsType := spec.FSType
	if fsType == "" {
		fsType = "xfs"
	}
	imagePath := spec.ImagePath
	if imagePath == "" {
		imagePath = key.Name
	}

	if _, err := m.runner.Run(ctx, "truncate", "-s", fmt.Sprintf("%dM", spec.SizeMB), imagePath); err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return nil, fmt.Errorf("failed to allocate image %s: %w", imagePath, err)
	}

	device, err := m.runner.Run(ctx, "losetup", "--find", "--show", imagePath)
	if err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return nil, fmt.Errorf("failed to attach loop device for %s: %w", imagePath, err)
	}
	device = strings.TrimSpace(device)

	if _, err := m.runner.Run(ctx, "mkfs."+fsType, device); err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return nil, fmt.Errorf("failed to format %s as %s: %w", device, fsType, err)
	}

	if spec.MountPoint != "" {
		if _, err := m.runner.Run(ctx, "mkdir", "-p", spec.MountPoint); err != nil {
			m.metrics.RecordResourceError(string(key.Kind))
			return nil, fmt.Errorf("failed to create mount point %s: %w", spec.MountPoint, err)
		}
		if _, err := m.runner.Run(ctx, "mount", device, spec.MountPoint); err != nil {
			m.metrics.RecordResourceError(string(key.Kind))
			return nil, fmt.Errorf("failed to mount %s at %s: %w", device, spec.MountPoint, err)
		}
	}

	m.metrics.RecordResourceOp(string(key.Kind), "ensure_present")
	m.logger.WithResource(key.String()).
		WithField("device", device).
		WithField("fs_type", fsType).
		Info("Loopback filesystem created")

	return &Resource{Key: key, State: StatePresent}, nil
}
