package resources

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// fakeRunner records every command and replies from canned outputs keyed by
// command prefix.
type fakeRunner struct {
	commands [][]string
	outputs  map[string]string
	failOn   map[string]error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	cmd := append([]string{name}, args...)
	f.commands = append(f.commands, cmd)

	joined := strings.Join(cmd, " ")
	for prefix, err := range f.failOn {
		if strings.HasPrefix(joined, prefix) {
			return "", err
		}
	}
	for prefix, out := range f.outputs {
		if strings.HasPrefix(joined, prefix) {
			return out, nil
		}
	}
	return "", nil
}

func (f *fakeRunner) ran(prefix string) bool {
	for _, cmd := range f.commands {
		if strings.HasPrefix(strings.Join(cmd, " "), prefix) {
			return true
		}
	}
	return false
}

func testTelemetry(t *testing.T) (*telemetry.Logger, *telemetry.Metrics) {
	t.Helper()

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "console"})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	return logger, metrics
}

func TestBridgeManager_EnsurePresent(t *testing.T) {
	logger, metrics := testTelemetry(t)
	runner := &fakeRunner{
		// Bridge does not exist yet.
		failOn: map[string]error{"ip link show": errors.New("does not exist")},
	}
	m := NewBridgeManager(runner, logger, metrics)

	key := Key{Kind: KindBridge, Name: "br-test", OwnerTag: "devlab"}
	res, err := m.EnsurePresent(context.Background(), key, BridgeSpec{CIDR: "172.24.4.1/24"})
	if err != nil {
		t.Fatalf("EnsurePresent failed: %v", err)
	}
	if res.State != StatePresent {
		t.Errorf("Expected present state, got %s", res.State)
	}

	for _, want := range []string{
		"ip link add br-test type bridge",
		"ip addr add 172.24.4.1/24 dev br-test",
		"ip link set br-test up",
		"iptables -t nat -A POSTROUTING",
		"iptables -A FORWARD -i br-test",
	} {
		if !runner.ran(want) {
			t.Errorf("Expected command %q to run", want)
		}
	}

	// Every firewall rule carries the owner tag.
	for _, cmd := range runner.commands {
		joined := strings.Join(cmd, " ")
		if strings.Contains(joined, "-A FORWARD") || strings.Contains(joined, "-A POSTROUTING") {
			if !strings.Contains(joined, "--comment devlab") {
				t.Errorf("Expected owner tag comment in %q", joined)
			}
		}
	}
}

func TestBridgeManager_EnsureAbsent_OnlyTaggedRules(t *testing.T) {
	logger, metrics := testTelemetry(t)
	runner := &fakeRunner{
		outputs: map[string]string{
			"iptables-save": `*nat
-A POSTROUTING -s 172.24.4.0/24 -j MASQUERADE -m comment --comment "devlab"
-A POSTROUTING -s 10.0.0.0/8 -j MASQUERADE -m comment --comment "other-tool"
COMMIT
*filter
-A FORWARD -i br-test -j ACCEPT -m comment --comment "devlab"
-A FORWARD -i docker0 -j ACCEPT
COMMIT`,
		},
		failOn: map[string]error{"ip link show": errors.New("does not exist")},
	}
	m := NewBridgeManager(runner, logger, metrics)

	key := Key{Kind: KindBridge, Name: "br-test", OwnerTag: "devlab"}
	if err := m.EnsureAbsent(context.Background(), key); err != nil {
		t.Fatalf("EnsureAbsent failed: %v", err)
	}

	var deletes []string
	for _, cmd := range runner.commands {
		joined := strings.Join(cmd, " ")
		if strings.Contains(joined, " -D ") {
			deletes = append(deletes, joined)
		}
	}
	if len(deletes) != 2 {
		t.Fatalf("Expected 2 rule deletions, got %d: %v", len(deletes), deletes)
	}
	for _, d := range deletes {
		if strings.Contains(d, "other-tool") || strings.Contains(d, "docker0") {
			t.Errorf("Deleted a foreign rule: %q", d)
		}
	}
	if !strings.Contains(deletes[0], "-t nat") {
		t.Errorf("Expected nat table deletion first, got %q", deletes[0])
	}
	if !strings.Contains(deletes[1], "-t filter") {
		t.Errorf("Expected filter table deletion, got %q", deletes[1])
	}
}

func TestBridgeManager_EnsureAbsent_DeletesExistingDevice(t *testing.T) {
	logger, metrics := testTelemetry(t)
	runner := &fakeRunner{}
	m := NewBridgeManager(runner, logger, metrics)

	key := Key{Kind: KindBridge, Name: "br-test", OwnerTag: "devlab"}
	if err := m.EnsureAbsent(context.Background(), key); err != nil {
		t.Fatalf("EnsureAbsent failed: %v", err)
	}
	if !runner.ran("ip link del br-test") {
		t.Errorf("Expected existing bridge device to be deleted")
	}
}

func TestBridgeManager_RequiresOwnerTag(t *testing.T) {
	logger, metrics := testTelemetry(t)
	m := NewBridgeManager(&fakeRunner{}, logger, metrics)

	key := Key{Kind: KindBridge, Name: "br-test"}
	if err := m.EnsureAbsent(context.Background(), key); err == nil {
		t.Errorf("Expected untagged bridge key to be rejected")
	}
}

func TestLoopFSManager_EnsurePresent(t *testing.T) {
	logger, metrics := testTelemetry(t)
	runner := &fakeRunner{
		outputs: map[string]string{
			"losetup --find --show": "/dev/loop3\n",
		},
		failOn: map[string]error{
			"findmnt":    errors.New("not mounted"),
			"losetup -j": errors.New("no such device"),
		},
	}
	m := NewLoopFSManager(runner, logger, metrics)

	key := Key{Kind: KindLoopFS, Name: "/srv/devlab/disk.img", OwnerTag: "devlab"}
	spec := LoopFSSpec{ImagePath: "/srv/devlab/disk.img", SizeMB: 512, FSType: "xfs", MountPoint: "/srv/devlab/data"}

	res, err := m.EnsurePresent(context.Background(), key, spec)
	if err != nil {
		t.Fatalf("EnsurePresent failed: %v", err)
	}
	if res.State != StatePresent {
		t.Errorf("Expected present state, got %s", res.State)
	}

	for _, want := range []string{
		"rm -f /srv/devlab/disk.img",
		"truncate -s 512M /srv/devlab/disk.img",
		"losetup --find --show /srv/devlab/disk.img",
		"mkfs.xfs /dev/loop3",
		"mount /dev/loop3 /srv/devlab/data",
	} {
		if !runner.ran(want) {
			t.Errorf("Expected command %q to run", want)
		}
	}
}

func TestLoopFSManager_EnsureAbsent_DetachesLoopDevices(t *testing.T) {
	logger, metrics := testTelemetry(t)
	runner := &fakeRunner{
		outputs: map[string]string{
			"findmnt":    "/srv/devlab/data\n",
			"losetup -j": "/dev/loop3: [2049]:12 (/srv/devlab/disk.img)\n",
		},
	}
	m := NewLoopFSManager(runner, logger, metrics)

	key := Key{Kind: KindLoopFS, Name: "/srv/devlab/disk.img", OwnerTag: "devlab"}
	if err := m.EnsureAbsent(context.Background(), key); err != nil {
		t.Fatalf("EnsureAbsent failed: %v", err)
	}

	for _, want := range []string{
		"umount /srv/devlab/data",
		"losetup -d /dev/loop3",
		"rm -f /srv/devlab/disk.img",
	} {
		if !runner.ran(want) {
			t.Errorf("Expected command %q to run", want)
		}
	}
}

func TestLoopFSManager_RejectsZeroSize(t *testing.T) {
	logger, metrics := testTelemetry(t)
	m := NewLoopFSManager(&fakeRunner{}, logger, metrics)

	key := Key{Kind: KindLoopFS, Name: "/srv/devlab/disk.img", OwnerTag: "devlab"}
	if _, err := m.EnsurePresent(context.Background(), key, LoopFSSpec{}); err == nil {
		t.Errorf("Expected zero-size spec to be rejected")
	}
}

func TestRingManager_EnsurePresent_Deterministic(t *testing.T) {
	logger, metrics := testTelemetry(t)
	m := NewRingManager(logger, metrics)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "object.ring.json")
	key := Key{Kind: KindRing, Name: path, OwnerTag: "devlab"}
	spec := RingSpec{Power: 4, Replicas: 2, Devices: []string{"d1", "d2", "d3"}}

	if _, err := m.EnsurePresent(ctx, key, spec); err != nil {
		t.Fatalf("EnsurePresent failed: %v", err)
	}
	first, err := m.readRing(path)
	if err != nil {
		t.Fatalf("readRing failed: %v", err)
	}

	// A second EnsurePresent with identical inputs converges on the same ring.
	if _, err := m.EnsurePresent(ctx, key, spec); err != nil {
		t.Fatalf("Second EnsurePresent failed: %v", err)
	}
	second, err := m.readRing(path)
	if err != nil {
		t.Fatalf("readRing failed: %v", err)
	}

	if len(first.Assignment) != len(second.Assignment) {
		t.Fatalf("Ring size changed between runs")
	}
	for p := range first.Assignment {
		for r := range first.Assignment[p] {
			if first.Assignment[p][r] != second.Assignment[p][r] {
				t.Fatalf("Assignment differs at partition %d replica %d", p, r)
			}
		}
	}
}

func TestRingManager_EnsureAbsent(t *testing.T) {
	logger, metrics := testTelemetry(t)
	m := NewRingManager(logger, metrics)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "object.ring.json")
	key := Key{Kind: KindRing, Name: path, OwnerTag: "devlab"}

	// Absent on a missing file is a no-op.
	if err := m.EnsureAbsent(ctx, key); err != nil {
		t.Fatalf("EnsureAbsent on missing file failed: %v", err)
	}

	spec := RingSpec{Power: 3, Replicas: 2, Devices: []string{"d1", "d2"}}
	if _, err := m.EnsurePresent(ctx, key, spec); err != nil {
		t.Fatalf("EnsurePresent failed: %v", err)
	}
	if err := m.EnsureAbsent(ctx, key); err != nil {
		t.Fatalf("EnsureAbsent failed: %v", err)
	}
	if _, err := m.readRing(path); err == nil {
		t.Errorf("Expected ring file to be removed")
	}
}

func TestRingManager_Rebalance(t *testing.T) {
	logger, metrics := testTelemetry(t)
	m := NewRingManager(logger, metrics)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "object.ring.json")
	key := Key{Kind: KindRing, Name: path, OwnerTag: "devlab"}

	spec := RingSpec{Power: 4, Replicas: 2, Devices: []string{"d1", "d2", "d3"}}
	if _, err := m.EnsurePresent(ctx, key, spec); err != nil {
		t.Fatalf("EnsurePresent failed: %v", err)
	}
	before, err := m.readRing(path)
	if err != nil {
		t.Fatalf("readRing failed: %v", err)
	}

	if _, err := m.Rebalance(ctx, key, []string{"d1", "d2", "d3", "d4"}); err != nil {
		t.Fatalf("Rebalance failed: %v", err)
	}
	after, err := m.readRing(path)
	if err != nil {
		t.Fatalf("readRing failed: %v", err)
	}

	loads := after.Loads()
	if loads["d4"] == 0 {
		t.Errorf("Expected new device to receive partitions")
	}

	// Surviving assignments move only where balance requires it.
	moved := 0
	for p := range before.Assignment {
		for r := range before.Assignment[p] {
			if before.Assignment[p][r] != after.Assignment[p][r] {
				moved++
			}
		}
	}
	if moved != loads["d4"] {
		t.Errorf("Expected exactly %d moved replicas, got %d", loads["d4"], moved)
	}
}

func TestDatabaseManager_RejectsInvalidName(t *testing.T) {
	logger, metrics := testTelemetry(t)
	m := &DatabaseManager{logger: logger.NewComponentLogger("resources.database"), metrics: metrics}

	bad := []string{"", "drop table", "a;b", "x`y"}
	for _, name := range bad {
		key := Key{Kind: KindDatabase, Name: name, OwnerTag: "devlab"}
		if err := m.EnsureAbsent(context.Background(), key); err == nil {
			t.Errorf("Expected name %q to be rejected", name)
		}
	}
}

func TestDatabaseManager_RejectsWrongKind(t *testing.T) {
	logger, metrics := testTelemetry(t)
	m := &DatabaseManager{logger: logger.NewComponentLogger("resources.database"), metrics: metrics}

	key := Key{Kind: KindBridge, Name: "identity", OwnerTag: "devlab"}
	if err := m.EnsureAbsent(context.Background(), key); err == nil {
		t.Errorf("Expected wrong kind to be rejected")
	}
}
