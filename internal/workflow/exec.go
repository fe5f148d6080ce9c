package workflow

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Command is a child process invocation.
type Command struct {
	Step string
	Name string
	Args []string
	Dir  string
	Env  []string
}

// Output is the result of a finished command.
type Output struct {
	ExitCode int
	// Stdout holds the last lines the command printed, for version checks.
	Stdout string
}

// Executor runs child processes.
type Executor interface {
	// Exec runs the command to completion. A non-zero exit is reported in
	// Output.ExitCode with a nil error; err is set when the process could not
	// be started or was killed.
	Exec(ctx context.Context, cmd Command) (Output, error)
}

const (
	// maxCaptured bounds the stdout kept in Output.
	maxCaptured = 64 << 10
	maxLine     = 1 << 20
)

// ProcessExecutor runs commands with os/exec and streams their output into the
// logger line by line.
type ProcessExecutor struct {
	// WaitDelay bounds how long output pipes are drained after a kill.
	WaitDelay time.Duration
}

// NewProcessExecutor creates a ProcessExecutor.
func NewProcessExecutor() *ProcessExecutor {
	return &ProcessExecutor{WaitDelay: 5 * time.Second}
}

// Exec implements Executor.
func (p *ProcessExecutor) Exec(ctx context.Context, c Command) (Output, error) {
	log := zap.L().With(zap.String("component", "workflow"), zap.String("step", c.Step))

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = p.WaitDelay

	var captured tail
	stdout := &lineWriter{fn: func(line string) {
		log.Info(line, zap.String("stream", "stdout"))
		captured.add(line)
	}}
	stderr := &lineWriter{fn: func(line string) {
		log.Warn(line, zap.String("stream", "stderr"))
	}}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return Output{ExitCode: -1}, eris.Wrapf(err, "workflow: start %s", c.Name)
	}

	err := cmd.Wait()
	stdout.Flush()
	stderr.Flush()
	out := Output{Stdout: captured.String()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	out.ExitCode = -1
	if ctx.Err() != nil {
		return out, eris.Wrapf(ctx.Err(), "workflow: %s killed", c.Name)
	}
	return out, eris.Wrapf(err, "workflow: wait %s", c.Name)
}

// lineWriter splits written bytes into lines. Writes come from one goroutine
// per stream.
type lineWriter struct {
	buf []byte
	fn  func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.emit(w.buf)
		w.buf = w.buf[:0]
	}
	return len(p), nil
}

// Flush emits a trailing partial line.
func (w *lineWriter) Flush() {
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineWriter) emit(b []byte) {
	if line := strings.TrimRight(string(b), "\r"); line != "" {
		w.fn(line)
	}
}

// tail keeps the most recent maxCaptured bytes of lines.
type tail struct {
	mu    sync.Mutex
	lines []string
	size  int
}

func (t *tail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	t.size += len(line) + 1
	for t.size > maxCaptured && len(t.lines) > 1 {
		t.size -= len(t.lines[0]) + 1
		t.lines = t.lines[1:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
