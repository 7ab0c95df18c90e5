// Package tools wraps the external binaries used to inspect shared
// libraries: cuobjdump for embedded device code and patchelf for ELF
// dynamic-section metadata.
package tools

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/matzehuels/cudaredist/pkg/errors"
)

// Result is the captured outcome of one subprocess run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner executes a command. A non-zero exit is reported through
// Result.ExitCode, not as an error; the error is reserved for commands that
// could not be started or were cancelled.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.AsError(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, errors.Wrap(errors.ErrCodeExternalTool, err, "start %s", name)
}

// toolError classifies a non-zero exit.
func toolError(name string, args []string, res Result) error {
	msg := strings.TrimSpace(string(res.Stderr))
	if msg == "" {
		msg = "no output"
	}
	return errors.New(errors.ErrCodeExternalTool, "%s %s exited with status %d: %s", name, strings.Join(args, " "), res.ExitCode, msg)
}

func orExec(r Runner) Runner {
	if r == nil {
		return ExecRunner{}
	}
	return r
}
