// Package health implements bounded readiness polling for network-facing
// supervised tasks. A Gate polls a probe at a fixed interval until the probe
// succeeds or the configured timeout elapses; a timeout is terminal and the
// sequencer treats it as fatal.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/devlab-sh/devlab/pkg/telemetry"
)

// Probe checks whether a target is reachable and healthy.
type Probe interface {
	// Probe returns nil when the target is ready.
	Probe(ctx context.Context) error
}

// Check describes one readiness gate: a probe, a poll interval, and a total
// timeout.
type Check struct {
	// Name identifies the check in diagnostics and metrics.
	Name string

	// Probe is the readiness probe to poll.
	Probe Probe

	// Interval is the fixed delay between probe attempts.
	Interval time.Duration

	// Timeout bounds the cumulative wait across all attempts.
	Timeout time.Duration
}

// TimeoutError is returned when a check never succeeded within its timeout.
type TimeoutError struct {
	// Check is the name of the failed check.
	Check string

	// Timeout is the configured bound that was exceeded.
	Timeout time.Duration

	// LastErr is the probe error from the final attempt.
	LastErr error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("health check %q not ready within %s: %v", e.Check, e.Timeout, e.LastErr)
	}
	return fmt.Sprintf("health check %q not ready within %s", e.Check, e.Timeout)
}

// Unwrap returns the final probe error.
func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

// Gate awaits readiness checks.
type Gate struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewGate creates a health gate.
func NewGate(logger *telemetry.Logger, metrics *telemetry.Metrics) *Gate {
	return &Gate{
		logger:  logger.NewComponentLogger("health-gate"),
		metrics: metrics,
	}
}

// Await polls the check's probe until it succeeds or the timeout elapses.
// The wait is bounded by timeout + one interval; a probe that never succeeds
// yields a *TimeoutError, never an indefinite block.
func (g *Gate) Await(ctx context.Context, check Check) error {
	if check.Interval <= 0 {
		check.Interval = time.Second
	}
	if check.Timeout <= 0 {
		check.Timeout = 30 * time.Second
	}

	log := g.logger.WithField("check", check.Name)
	log.Debugf("awaiting readiness (interval=%s timeout=%s)", check.Interval, check.Timeout)

	start := time.Now()
	deadline := start.Add(check.Timeout)

	var lastErr error
	for {
		attemptCtx, cancel := context.WithTimeout(ctx, check.Interval)
		err := check.Probe.Probe(attemptCtx)
		cancel()

		if err == nil {
			wait := time.Since(start)
			g.metrics.RecordGateWait(check.Name, wait)
			log.Infof("ready after %s", wait.Round(time.Millisecond))
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Another attempt may only start before the deadline; capping the
		// sleep keeps the total wait under timeout + one interval even when
		// the final probe hangs for its full attempt window.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			g.metrics.RecordGateTimeout(check.Name)
			return &TimeoutError{Check: check.Name, Timeout: check.Timeout, LastErr: lastErr}
		}
		sleep := check.Interval
		if remaining < sleep {
			sleep = remaining
		}

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TCPProbe reports readiness when a TCP connection to the address succeeds.
type TCPProbe struct {
	// Address is the host:port to dial.
	Address string
}

// Probe dials the address once.
func (p *TCPProbe) Probe(ctx context.Context) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.Address, err)
	}
	return conn.Close()
}

// HTTPProbe reports readiness when an HTTP GET returns a status below 500.
type HTTPProbe struct {
	// URL is the endpoint to request.
	URL string

	// Client overrides the HTTP client; the default client relies on the
	// probe context for cancellation.
	Client *http.Client
}

// Probe issues a single GET request.
func (p *HTTPProbe) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := p.Client
	if client == nil {
		client = &http.Client{}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s returned status %d", p.URL, resp.StatusCode)
	}
	return nil
}
