package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// Loader reads policy definitions from disk. Bare .rego files become
// warning-severity policies named after the file; .yaml files carry full
// metadata (name, severity, enabled) alongside the inline Rego source.
type Loader struct {
	logger *telemetry.Logger
	cache  map[string]*Policy
	mu     sync.RWMutex
}

// NewLoader creates a new policy loader.
func NewLoader(logger *telemetry.Logger) *Loader {
	return &Loader{
		logger: logger.NewComponentLogger("policy.loader"),
		cache:  make(map[string]*Policy),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var allPolicies []Policy

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		allPolicies = append(allPolicies, policies...)
	}

	return allPolicies, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	policy, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}

	return []Policy{*policy}, nil
}

// loadFromDirectory loads every .rego and .yaml file under dirPath.
func (l *Loader) loadFromDirectory(_ context.Context, dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !isPolicyFile(path) {
			return nil
		}

		policy, err := l.loadFromFile(path)
		if err != nil {
			l.logger.WithError(err).WithField("path", path).Warn("Failed to load policy file")
			return nil
		}

		policies = append(policies, *policy)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") ||
		strings.HasSuffix(path, ".yaml") ||
		strings.HasSuffix(path, ".yml")
}

// loadFromFile loads a policy from a single file.
func (l *Loader) loadFromFile(filePath string) (*Policy, error) {
	l.mu.RLock()
	if cached, exists := l.cache[filePath]; exists {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policy *Policy
	if strings.HasSuffix(filePath, ".rego") {
		policy = l.parseRegoFile(filePath, data)
	} else {
		policy, err = l.parseYAMLFile(data)
		if err != nil {
			return nil, err
		}
	}

	l.mu.Lock()
	l.cache[filePath] = policy
	l.mu.Unlock()

	l.logger.WithField("path", filePath).WithField("policy", policy.Name).Debug("Policy loaded")
	return policy, nil
}

// parseRegoFile wraps a bare .rego source in a Policy named after the file.
func (l *Loader) parseRegoFile(filePath string, data []byte) *Policy {
	name := strings.TrimSuffix(filepath.Base(filePath), ".rego")

	return &Policy{
		Name:        name,
		Description: extractDescription(string(data)),
		Rego:        string(data),
		Severity:    SeverityWarning,
		Enabled:     true,
	}
}

// parseYAMLFile parses a YAML policy definition with inline Rego.
func (l *Loader) parseYAMLFile(data []byte) (*Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse YAML policy: %w", err)
	}

	if policy.Name == "" {
		return nil, fmt.Errorf("policy definition missing name")
	}
	if policy.Rego == "" {
		return nil, fmt.Errorf("policy %q has no rego source", policy.Name)
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}

	return &policy, nil
}

// extractDescription pulls the leading comment block out of Rego source.
func extractDescription(content string) string {
	var description strings.Builder

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
			if comment != "" && !strings.HasPrefix(comment, "package") {
				if description.Len() > 0 {
					description.WriteString(" ")
				}
				description.WriteString(comment)
			}
		} else if trimmed != "" && description.Len() > 0 {
			break
		}
	}

	return description.String()
}

// ClearCache clears the policy cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*Policy)
}
