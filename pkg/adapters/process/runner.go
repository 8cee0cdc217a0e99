// Package process runs allow-listed local commands as worker capabilities.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/aretw0/relay/pkg/domain"
	"github.com/aretw0/relay/pkg/ports"
)

// ExitRateLimited is the exit status a tool uses to report quota exhaustion (EX_TEMPFAIL).
const ExitRateLimited = 75

// ErrToolNotRegistered is returned when a tool name is not in the allow-list.
var ErrToolNotRegistered = errors.New("process tool not registered")

// Runner executes local processes.
// It follows a strict registry pattern: only registered commands can run.
type Runner struct {
	registry map[string]RegisteredProcess
	baseDir  string
}

// RegisteredProcess defines an allowed command execution.
type RegisteredProcess struct {
	Command string
	Args    []string
	Env     map[string]string
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(tools map[string]ProcessConfig) RunnerOption {
	return func(r *Runner) {
		for name, tool := range tools {
			r.registry[name] = RegisteredProcess{
				Command: tool.Command,
				Args:    tool.Args,
				Env:     tool.Environment,
			}
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// NewRunner creates a new process runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]RegisteredProcess),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = RegisteredProcess{
		Command: command,
		Args:    args,
	}
}

// Capability binds a registered tool to a worker id.
func (r *Runner) Capability(worker, tool string) (ports.Capability, error) {
	proc, ok := r.registry[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotRegistered, tool)
	}
	return ports.CapabilityFunc(func(ctx context.Context, task string, view []domain.Message) (domain.Message, error) {
		out, err := r.run(ctx, proc, task, view)
		if err != nil {
			return domain.Message{}, err
		}
		return domain.Message{Role: domain.RoleTool, Producer: worker, Content: out}, nil
	}), nil
}

// run executes the process. The task is written to stdin and exposed as RELAY_TASK;
// it is never passed as a command flag.
func (r *Runner) run(ctx context.Context, proc RegisteredProcess, task string, view []domain.Message) (string, error) {
	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = r.baseDir
	cmd.Stdin = strings.NewReader(task)

	env := cmd.Environ()
	for k, v := range proc.Env {
		env = append(env, k+"="+v)
	}
	env = append(env,
		"RELAY_TASK="+task,
		"RELAY_HISTORY_LEN="+strconv.Itoa(len(view)),
	)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == ExitRateLimited {
			return "", fmt.Errorf("%w: %s", domain.ErrRateLimited, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("execution failed: %v. Stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}
