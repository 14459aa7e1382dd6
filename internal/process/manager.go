package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the lifecycle of a one-shot process.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusFailed  Status = "failed"
)

// outputTailLines is how many trailing output lines are kept for the Result.
const outputTailLines = 20

// defaultGracefulTimeout is the SIGTERM to SIGKILL grace period.
const defaultGracefulTimeout = 10 * time.Second

// Config holds configuration for a one-shot subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	Args []string

	// Env are additional environment variables (key=value). Nil inherits.
	Env []string

	WorkDir string

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnExit is called once from the monitor goroutine when the process ends.
	OnExit func(Result)
}

// Result describes how a process ended.
type Result struct {
	// ExitCode is the process exit status, or -1 when it was killed by a
	// signal or could not be waited on.
	ExitCode int

	// Err is the raw wait error, nil for a zero exit.
	Err error

	Duration time.Duration

	// Output holds the last lines written to stdout and stderr.
	Output []string
}

// Logger defines the logging interface for the runner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner starts a subprocess once and reports its exit.
type Runner struct {
	config Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    Status
	startTime time.Time
	result    *Result
	tail      []string

	done chan struct{}
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg Config) *Runner {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	return &Runner{
		config: cfg,
		logger: noopLogger{},
		status: StatusIdle,
	}
}

// SetLogger sets the logger for the runner.
func (r *Runner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// Start launches the process and returns once it is running.
// Cancelling ctx kills the process. A Runner can only be started once.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.status != StatusIdle {
		r.mu.Unlock()
		return fmt.Errorf("process %s already started", r.config.Name)
	}
	r.status = StatusRunning
	r.done = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("starting process",
		"name", r.config.Name,
		"binary", r.config.Binary,
		"args", r.config.Args,
	)

	cmd := exec.CommandContext(ctx, r.config.Binary, r.config.Args...) //nolint:gosec // Binary comes from validated config

	// New process group so Stop can signal the updater's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if r.config.Env != nil {
		cmd.Env = append(os.Environ(), r.config.Env...)
	}
	if r.config.WorkDir != "" {
		cmd.Dir = r.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.failStart(fmt.Errorf("creating stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.failStart(fmt.Errorf("creating stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return r.failStart(fmt.Errorf("starting %s: %w", r.config.Name, err))
	}

	r.mu.Lock()
	r.cmd = cmd
	r.startTime = time.Now()
	r.mu.Unlock()

	r.logger.Info("process started", "name", r.config.Name, "pid", cmd.Process.Pid)

	var outputs sync.WaitGroup
	outputs.Add(2)
	go r.captureOutput("stdout", stdout, &outputs)
	go r.captureOutput("stderr", stderr, &outputs)

	go r.monitor(cmd, &outputs)

	return nil
}

func (r *Runner) failStart(err error) error {
	r.mu.Lock()
	r.status = StatusFailed
	r.result = &Result{ExitCode: -1, Err: err}
	close(r.done)
	r.mu.Unlock()
	return err
}

// captureOutput logs each output line and keeps a short tail of them.
func (r *Runner) captureOutput(stream string, rd io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		line := scanner.Text()
		r.logger.Info("process output",
			"name", r.config.Name,
			"stream", stream,
			"line", line,
		)
		r.mu.Lock()
		r.tail = append(r.tail, line)
		if len(r.tail) > outputTailLines {
			r.tail = r.tail[len(r.tail)-outputTailLines:]
		}
		r.mu.Unlock()
	}
}

// monitor waits for exit, records the Result and fires OnExit.
func (r *Runner) monitor(cmd *exec.Cmd, outputs *sync.WaitGroup) {
	// Pipes must be drained before Wait closes them.
	outputs.Wait()
	err := cmd.Wait()

	r.mu.Lock()
	res := Result{
		ExitCode: exitCode(err),
		Err:      err,
		Duration: time.Since(r.startTime),
		Output:   append([]string(nil), r.tail...),
	}
	r.result = &res
	r.status = StatusExited
	close(r.done)
	r.mu.Unlock()

	if res.ExitCode == 0 {
		r.logger.Info("process exited", "name", r.config.Name, "duration", res.Duration)
	} else {
		r.logger.Warn("process exited with error",
			"name", r.config.Name,
			"exit_code", res.ExitCode,
			"error", err,
		)
	}

	if r.config.OnExit != nil {
		r.config.OnExit(res)
	}
}

// exitCode maps a Wait error to an exit status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Stop sends SIGTERM to the process group, then SIGKILL after the grace period.
func (r *Runner) Stop() error {
	r.mu.RLock()
	cmd := r.cmd
	done := r.done
	running := r.status == StatusRunning
	r.mu.RUnlock()

	if !running || cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	r.logger.Info("stopping process", "name", r.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		r.logger.Warn("failed to send SIGTERM to process group", "name", r.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(r.config.GracefulTimeout):
		r.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", r.config.Name,
			"timeout", r.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", r.config.Name, err)
	}
	<-done
	return nil
}

// Stats is a JSON-friendly snapshot of a runner.
type Stats struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	PID      int           `json:"pid,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`
	ExitCode *int          `json:"exit_code,omitempty"`

	// Output is the tail of the combined stdout and stderr so far.
	Output []string `json:"output,omitempty"`
}

// Stats returns current statistics for the process.
func (r *Runner) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Name:   r.config.Name,
		Status: r.status,
	}
	if r.cmd != nil && r.cmd.Process != nil {
		stats.PID = r.cmd.Process.Pid
	}
	if r.status == StatusRunning {
		stats.Uptime = time.Since(r.startTime)
	}
	if r.result != nil {
		code := r.result.ExitCode
		stats.ExitCode = &code
	}
	if len(r.tail) > 0 {
		stats.Output = append([]string(nil), r.tail...)
	}
	return stats
}
