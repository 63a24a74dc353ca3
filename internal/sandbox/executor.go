// Package sandbox runs sanitized commands as an unprivileged identity,
// dropping privilege via sudo when available and falling back to local
// execution otherwise. Grounded on the Python prototype's
// agent_core/sandbox.py execute_command: the exact argv shape and the
// FileNotFoundError -> local-fallback semantics are ported verbatim.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/terminusdev/terminus/internal/sanitize"
)

// RejectedExitCode is returned (with no subprocess spawned) when the
// sanitizer rejects a candidate command.
const RejectedExitCode = -2

// SpawnFailureExitCode is returned when the executor itself fails to spawn
// or run the child process.
const SpawnFailureExitCode = -1

// Result is the outcome of executing one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Latency  time.Duration
}

// Executor runs commands under a dropped-privilege identity when possible.
type Executor struct {
	// User is the identity to drop to via `sudo -u <User>`.
	User string
	// ForceLocal bypasses the privilege-drop wrapper entirely, running the
	// login shell directly. Mirrors SANDBOX_FORCE_LOCAL.
	ForceLocal bool
	// SanitizeOpts gates every candidate command before it is spawned.
	SanitizeOpts sanitize.Options

	// lookSudo is overridable in tests to simulate sudo being unavailable.
	lookSudo func() (string, error)
}

// New builds an Executor for the given sandbox user.
func New(user string, forceLocal bool, opts sanitize.Options) *Executor {
	return &Executor{
		User:         user,
		ForceLocal:   forceLocal,
		SanitizeOpts: opts,
		lookSudo:     func() (string, error) { return exec.LookPath("sudo") },
	}
}

// Execute runs cmd synchronously and returns its Result. The sanitizer runs
// first; on rejection, no subprocess is spawned.
func (e *Executor) Execute(ctx context.Context, cmd string) Result {
	start := time.Now()

	if ok, reason := sanitize.Check(cmd, e.SanitizeOpts); !ok {
		return Result{
			Stdout:   "",
			Stderr:   "Rejected: " + reason,
			ExitCode: RejectedExitCode,
			Latency:  time.Since(start),
		}
	}

	argv := e.buildArgv(cmd)
	res := e.run(ctx, argv)
	res.Latency = time.Since(start)
	return res
}

// ExecuteAsync runs cmd without blocking the calling goroutine's scheduler
// thread during the child's lifetime; the result arrives on the returned
// channel exactly once, after which the channel is closed.
func (e *Executor) ExecuteAsync(ctx context.Context, cmd string) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		out <- e.Execute(ctx, cmd)
		close(out)
	}()
	return out
}

// buildArgv picks [sudo, -u, user, bash, -lc, cmd] when the wrapper is
// available and not forced off, else [bash, -lc, cmd].
func (e *Executor) buildArgv(cmd string) []string {
	if e.ForceLocal {
		return []string{"bash", "-lc", cmd}
	}
	sudoPath, err := e.lookSudo()
	if err != nil || sudoPath == "" {
		return []string{"bash", "-lc", cmd}
	}
	return []string{sudoPath, "-u", e.User, "bash", "-lc", cmd}
}

func (e *Executor) run(ctx context.Context, argv []string) Result {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitErr.ExitCode()}
	}

	if errors.Is(err, exec.ErrNotFound) {
		return Result{
			Stdout:   "",
			Stderr:   fmt.Sprintf("The %q command is not available in the current environment.", argv[0]),
			ExitCode: SpawnFailureExitCode,
		}
	}

	return Result{Stdout: "", Stderr: err.Error(), ExitCode: SpawnFailureExitCode}
}
