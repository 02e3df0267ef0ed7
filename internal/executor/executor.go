// Package executor runs external programs synchronously and reports their
// exit status together with captured output.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command describes one program invocation.
type Command struct {
	Program string
	Args    []string
	// Stdin is fed to the process when non-empty.
	Stdin string
	Dir   string
	// Env is appended to the current environment.
	Env map[string]string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Program + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished process.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr.
func (r *Result) Combined() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner is the program execution boundary. A non-zero exit is not an
// error: it is reported through Result.ExitCode. Errors mean the process
// could not be started or was interrupted.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Executor runs commands on the local host.
type Executor struct {
	// Echo, when set, receives a copy of stdout and stderr as they are written.
	Echo io.Writer
}

// New returns an Executor that only captures output.
func New() *Executor {
	return &Executor{}
}

// Run executes cmd and waits for it to exit. No timeout is applied here;
// callers layer deadlines through ctx.
func (e *Executor) Run(ctx context.Context, c Command) (*Result, error) {
	cmd := exec.CommandContext(ctx, c.Program, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range c.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	var stdout, stderr bytes.Buffer
	if e.Echo != nil {
		cmd.Stdout = io.MultiWriter(&stdout, e.Echo)
		cmd.Stderr = io.MultiWriter(&stderr, e.Echo)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return res, nil
	case errors.As(err, &exitErr) && ctx.Err() == nil:
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	default:
		res.ExitCode = -1
		return res, fmt.Errorf("run %s: %w", c, err)
	}
}

// Shell runs commandLine through `sh -c`.
func Shell(ctx context.Context, r Runner, commandLine string, dir string) (*Result, error) {
	return r.Run(ctx, Command{Program: "sh", Args: []string{"-c", commandLine}, Dir: dir})
}
