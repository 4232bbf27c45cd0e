package inference

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Launcher runs a llama.cpp server process per loaded model. Loading a new
// model stops the previous process and waits for the new one to report healthy.
type Launcher struct {
	Command        string
	Args           []string
	URL            string
	StartupTimeout time.Duration

	health func(ctx context.Context) error

	mu  sync.Mutex
	cmd *exec.Cmd
}

var _ Loader = (*Launcher)(nil)

// NewLauncher creates a Launcher whose processes listen on the host and port of server.
func NewLauncher(command string, args []string, server *LlamaServer, startupTimeout time.Duration) *Launcher {
	return &Launcher{
		Command:        command,
		Args:           args,
		URL:            server.BaseURL,
		StartupTimeout: startupTimeout,
		health:         server.Health,
	}
}

// Load stops any running server and starts one serving path.
func (l *Launcher) Load(ctx context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()

	host, port, err := listenAddr(l.URL)
	if err != nil {
		return err
	}

	args := append([]string{}, l.Args...)
	args = append(args, "-m", path, "--host", host, "--port", port)
	cmd := exec.Command(l.Command, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", l.Command, err)
	}
	l.cmd = cmd

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if err := l.waitHealthy(ctx, exited); err != nil {
		l.stopLocked()
		return err
	}
	log.Printf("inference: backend pid %d serving %s", cmd.Process.Pid, path)
	return nil
}

func (l *Launcher) waitHealthy(ctx context.Context, exited <-chan error) error {
	timeout := l.StartupTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-exited:
			l.cmd = nil
			if err == nil {
				err = errors.New("exited")
			}
			return fmt.Errorf("backend exited during startup: %w", err)
		case <-ctx.Done():
			return fmt.Errorf("backend not healthy after %s: %w", timeout, ctx.Err())
		case <-ticker.C:
			if l.health(ctx) == nil {
				return nil
			}
		}
	}
}

// Close stops the running server, if any.
func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	return nil
}

func (l *Launcher) stopLocked() {
	if l.cmd == nil || l.cmd.Process == nil {
		l.cmd = nil
		return
	}
	_ = l.cmd.Process.Kill()
	l.cmd = nil
}

// listenAddr extracts host and port from the backend URL, defaulting the port
// from the scheme.
func listenAddr(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid backend url %q: %w", raw, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("invalid backend url %q: missing host", raw)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return host, port, nil
}
