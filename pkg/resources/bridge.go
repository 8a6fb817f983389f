package resources

import (
	"context"
	"fmt"
	"strings"

	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// BridgeSpec describes a virtual network bridge and its firewall rules.
type BridgeSpec struct {
	// CIDR is the bridge address in CIDR notation, e.g. "172.24.4.1/24".
	CIDR string
}

// BridgeManager manages virtual bridges and the firewall rules attached to
// them. Rules are tagged with the owner tag via an iptables comment so that
// teardown removes only rules this orchestrator created, never foreign ones.
type BridgeManager struct {
	runner  Runner
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewBridgeManager creates a bridge manager over the given runner.
func NewBridgeManager(runner Runner, logger *telemetry.Logger, metrics *telemetry.Metrics) *BridgeManager {
	return &BridgeManager{
		runner:  runner,
		logger:  logger.NewComponentLogger("resources.bridge"),
		metrics: metrics,
	}
}

// EnsureAbsent deletes the bridge's owner-tagged firewall rules and the
// bridge device itself.
func (m *BridgeManager) EnsureAbsent(ctx context.Context, key Key) error {
	if key.Kind != KindBridge {
		return fmt.Errorf("expected %s key, got %s", KindBridge, key.Kind)
	}
	if key.OwnerTag == "" {
		return fmt.Errorf("bridge key %q has no owner tag", key.Name)
	}

	if err := m.deleteTaggedRules(ctx, key.OwnerTag); err != nil {
		m.metrics.RecordResourceError(string(key.Kind))
		return err
	}

	if _, err := m.runner.Run(ctx, "ip", "link", "show", key.Name); err == nil {
		if _, err := m.runner.Run(ctx, "ip", "link", "del", key.Name); err != nil {
			m.metrics.RecordResourceError(string(key.Kind))
			return fmt.Errorf("failed to delete bridge %q: %w", key.Name, err)
		}
	}

	m.metrics.RecordResourceOp(string(key.Kind), "ensure_absent")
	m.logger.WithResource(key.String()).Debug("Bridge removed")
	return nil
}

// EnsurePresent recreates the bridge with its address and tagged firewall
// rules.
func (m *BridgeManager) EnsurePresent(ctx context.Context, key Key, spec BridgeSpec) (*Resource, error) {
	if err := m.EnsureAbsent(ctx, key); err != nil {
		return nil, err
	}
	if spec.CIDR == "" {
		return nil, fmt.Errorf("bridge %q requires a CIDR", key.Name)
	}

	steps := [][]string{
		{"ip", "link", "add", key.Name, "type", "bridge"},
		{"ip", "addr", "add", spec.CIDR, "dev", key.Name},
		{"ip", "link", "set", key.Name, "up"},
		{"iptables", "-t", "nat", "-A", "POSTROUTING", "-s", spec.CIDR, "!", "-d", spec.CIDR, "-j", "MASQUERADE", "-m", "comment", "--comment", key.OwnerTag},
		{"iptables", "-A", "FORWARD", "-i", key.Name, "-j", "ACCEPT", "-m", "comment", "--comment", key.OwnerTag},
		{"iptables", "-A", "FORWARD", "-o", key.Name, "-j", "ACCEPT", "-m", "comment", "--comment", key.OwnerTag},
	}
	for _, step := range steps {
		if _, err := m.runner.Run(ctx, step[0], step[1:]...); err != nil {
			m.metrics.RecordResourceError(string(key.Kind))
			return nil, fmt.Errorf("failed to set up bridge %q: %w", key.Name, err)
		}
	}

	m.metrics.RecordResourceOp(string(key.Kind), "ensure_present")
	m.logger.WithResource(key.String()).WithField("cidr", spec.CIDR).Info("Bridge created")

	return &Resource{Key: key, State: StatePresent}, nil
}

// deleteTaggedRules removes every iptables rule carrying the owner tag
// comment. Rules without the tag are never touched.
func (m *BridgeManager) deleteTaggedRules(ctx context.Context, ownerTag string) error {
	dump, err := m.runner.Run(ctx, "iptables-save")
	if err != nil {
		return fmt.Errorf("failed to read firewall rules: %w", err)
	}

	table := "filter"
	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "*") {
			table = strings.TrimPrefix(line, "*")
			continue
		}
		if !strings.HasPrefix(line, "-A ") {
			continue
		}

		args := strings.Fields(line)
		args[0] = "-D"
		// Unquote values; iptables-save quotes the comment, the delete
		// command wants the raw string.
		for i := range args {
			args[i] = strings.Trim(args[i], `"`)
		}
		if !ruleHasComment(args, ownerTag) {
			continue
		}

		deleteArgs := append([]string{"-t", table}, args...)
		if _, err := m.runner.Run(ctx, "iptables", deleteArgs...); err != nil {
			return fmt.Errorf("failed to delete tagged rule %q: %w", line, err)
		}
	}

	return nil
}

func ruleHasComment(args []string, ownerTag string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--comment" && args[i+1] == ownerTag {
			return true
		}
	}
	return false
}
