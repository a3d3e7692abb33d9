// Package sandbox runs untrusted snippets in a separate, time-boxed process.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var ErrTimeout = errors.New("sandbox: execution timed out")

type Output struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
}

// Text joins both streams the way an interactive interpreter shows them.
func (o Output) Text() string {
	var b strings.Builder
	b.WriteString(o.Stdout)
	if o.Stderr != "" {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(o.Stderr)
	}
	if o.Truncated {
		b.WriteString("\n[output truncated]")
	}
	return b.String()
}

type Executor interface {
	Execute(ctx context.Context, code string) (Output, error)
}

type Config struct {
	PythonBin      string
	Timeout        time.Duration
	MaxOutputBytes int
}

// Python runs code with an isolated interpreter (-I) in a scratch directory.
type Python struct {
	cfg Config
}

func NewPython(cfg Config) *Python {
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 16 << 10
	}
	return &Python{cfg: cfg}
}

func (p *Python) Execute(ctx context.Context, code string) (Output, error) {
	if strings.TrimSpace(code) == "" {
		return Output{}, errors.New("sandbox: code is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "sandbox-*")
	if err != nil {
		return Output{}, fmt.Errorf("sandbox: workdir: %w", err)
	}
	defer os.RemoveAll(dir)

	stdout := newCappedBuffer(p.cfg.MaxOutputBytes)
	stderr := newCappedBuffer(p.cfg.MaxOutputBytes)

	cmd := exec.CommandContext(ctx, p.cfg.PythonBin, "-I", "-")
	cmd.Dir = dir
	cmd.Env = []string{"PATH=" + os.Getenv("PATH"), "HOME=" + dir, "PYTHONDONTWRITEBYTECODE=1", "PYTHONIOENCODING=utf-8"}
	cmd.Stdin = strings.NewReader(code)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()
	out := Output{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}

	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("%w after %s", ErrTimeout, p.cfg.Timeout)
		}
		return out, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if runErr != nil {
		return out, fmt.Errorf("sandbox: run: %w", runErr)
	}
	return out, nil
}

// cappedBuffer keeps the first max bytes and drops the rest.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated = c.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
