package resources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/devlab-sh/devlab/pkg/ring"
	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// RingSpec describes a storage partition ring to materialize on disk.
type RingSpec struct {
	Power    uint
	Replicas int
	Devices  []string
	Path     string
}

// RingManager builds partition rings and persists them as JSON files. The
// ring file is the handoff artifact the storage services read at start.
type RingManager struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewRingManager creates a ring manager.
func NewRingManager(logger *telemetry.Logger, metrics *telemetry.Metrics) *RingManager {
	return &RingManager{
		logger:  logger.NewComponentLogger("resources.ring"),
		metrics: metrics,
	}
}

// EnsureAbsent removes the ring file.
func (m *RingManager) EnsureAbsent(ctx context.Context, key Key) error {
	if key.Kind != KindRing {
		return fmt.Errorf("expected %s key, got %s", KindRing, key.Kind)
	}

	if err := os.Remove(key.Name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.metrics.RecordResourceError(string(key.Kind))
		return fmt.Errorf("failed to remove ring file %s: %w", key.Name, err)
	}

	m.metrics.RecordResourceOp(string(key.Kind), "ensure_absent")
	m.logger.WithResource(key.String()).Debug("Ring file removed")
	return nil
}

// EnsurePresent builds a fresh ring from the spec and writes it atomically.
// The build is deterministic: identical specs always produce an identical
// ring file.
func (m *RingManager) EnsurePresent(ctx context.Context, key Key, spec RingSpec) (*Resource, error) {
	if err := m.EnsureAbsent(ctx, key); err != nil {
		return nil, err
	}

	r, err := ring.Build(spec.Power, spec.Replicas, spec.Devices)
	if err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return nil, fmt.Errorf("failed to build ring: %w", err)
	}

	path := spec.Path
	if path == "" {
		path = key.Name
	}
	if err := m.writeRing(r, path); err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return nil, err
	}

	m.metrics.RecordResourceOp(string(key.Kind), "ensure_present")
	m.logger.WithResource(key.String()).
		WithField("partitions", r.Partitions()).
		WithField("devices", len(spec.Devices)).
		Info("Ring file written")

	return &Resource{Key: key, State: StatePresent}, nil
}

// Rebalance rewrites the ring file for a changed device list, moving only the
// partitions that load balance strictly requires.
func (m *RingManager) Rebalance(ctx context.Context, key Key, devices []string) (*Resource, error) {
	if key.Kind != KindRing {
		return nil, fmt.Errorf("expected %s key, got %s", KindRing, key.Kind)
	}

	prev, err := m.readRing(key.Name)
	if err != nil {
		return nil, err
	}

	r, err := ring.Rebalance(prev, devices)
	if err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return nil, fmt.Errorf("failed to rebalance ring: %w", err)
	}

	if err := m.writeRing(r, key.Name); err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return nil, err
	}

	m.metrics.RecordResourceOp(string(key.Kind), "rebalance")
	m.logger.WithResource(key.String()).WithField("devices", len(devices)).Info("Ring rebalanced")

	return &Resource{Key: key, State: StatePresent}, nil
}

func (m *RingManager) readRing(path string) (*ring.Ring, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ring file %s: %w", path, err)
	}

	r := &ring.Ring{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("failed to parse ring file %s: %w", path, err)
	}
	return r, nil
}

// writeRing writes via a temp file and rename so readers never observe a
// partially written ring.
func (m *RingManager) writeRing(r *ring.Ring, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ring: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create ring directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ring file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace ring file: %w", err)
	}

	return nil
}
