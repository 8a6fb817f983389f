package ssh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// Client is the remote command runner. It satisfies resources.Runner, so
// resource managers mutate the remote host the same way they mutate the
// local one.
type Client struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	isConnected bool
	connectedAt time.Time
}

// NewClient creates an SSH client for the given config.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return fmt.Errorf("failed to build client config: %w", err)
	}

	address := c.config.Address()

	// ssh.Dial has no context support; race it against ctx.
	connCh := make(chan *ssh.Client, 1)
	errCh := make(chan error, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errCh <- err
			return
		}
		connCh <- client
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("connect to %s: %w", address, ctx.Err())
	case err := <-errCh:
		return fmt.Errorf("connect to %s: %w", address, err)
	case client := <-connCh:
		c.client = client
		c.isConnected = true
		c.connectedAt = time.Now()
		return nil
	}
}

// Close closes the SSH connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.client = nil
	c.isConnected = false
	return err
}

// IsConnected reports whether the transport has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// Run executes a command on the remote host and returns combined output.
// It implements resources.Runner.
func (c *Client) Run(ctx context.Context, name string, args ...string) (string, error) {
	client, err := c.getClient()
	if err != nil {
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	commandLine := buildCommandLine(name, args)

	type execResult struct {
		output []byte
		err    error
	}
	resultCh := make(chan execResult, 1)
	go func() {
		output, err := session.CombinedOutput(commandLine)
		resultCh <- execResult{output, err}
	}()

	select {
	case <-ctx.Done():
		// Best effort; the remote command may keep running.
		_ = session.Signal(ssh.SIGKILL)
		return "", fmt.Errorf("command %q: %w", commandLine, ctx.Err())
	case result := <-resultCh:
		if result.err != nil {
			return string(result.output), fmt.Errorf("command %q failed: %w: %s",
				commandLine, result.err, strings.TrimSpace(string(result.output)))
		}
		return string(result.output), nil
	}
}

// HealthCheck verifies the connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.Run(ctx, "true")
	return err
}

func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.client, nil
}

// buildCommandLine quotes arguments for the remote shell.
func buildCommandLine(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, arg := range args {
		parts = append(parts, shellQuote(arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[](){}<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
