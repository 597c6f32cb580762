package system

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// outputTailLimit bounds how much command output is kept for error messages.
const outputTailLimit = 8 * 1024

// CommandRunner defines an interface for running system commands.
type CommandRunner interface {
	// Run executes name with args and the extra environment entries appended
	// to the current environment. It returns the tail of combined output.
	Run(ctx context.Context, env []string, name string, args ...string) (string, error)
}

// ExecCommandRunner executes commands using os/exec.
type ExecCommandRunner struct {
	// Output, when set, receives the command's live stdout and stderr.
	Output io.Writer
}

// NewCommandRunner returns a default command runner implementation.
func NewCommandRunner() CommandRunner {
	return &ExecCommandRunner{}
}

// NewStreamingCommandRunner returns a runner that also copies output to w.
func NewStreamingCommandRunner(w io.Writer) CommandRunner {
	return &ExecCommandRunner{Output: w}
}

// Run executes a command and returns its combined output. Cancelling ctx
// kills the process.
func (r *ExecCommandRunner) Run(ctx context.Context, env []string, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	tail := &tailBuffer{limit: outputTailLimit}
	var w io.Writer = tail
	if r.Output != nil {
		w = io.MultiWriter(tail, r.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()
	output := tail.String()
	if err == nil {
		return output, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, fmt.Errorf("%s interrupted: %w", name, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return output, fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), lastLine(output))
	}
	return output, fmt.Errorf("failed to run %s: %w", name, err)
}

// tailBuffer keeps only the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if len(p) > t.limit {
		p = p[len(p)-t.limit:]
	}
	if over := t.buf.Len() + len(p) - t.limit; over > 0 {
		t.buf.Next(over)
	}
	t.buf.Write(p)
	return n, nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}

func lastLine(output string) string {
	output = strings.TrimSpace(output)
	if i := strings.LastIndexByte(output, '\n'); i >= 0 {
		return output[i+1:]
	}
	return output
}
