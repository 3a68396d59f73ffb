// Package format runs the external formatter and linter over generated
// templates. Neither changes what the generator decided: the formatter only
// rewrites whitespace and the linter only reports.
package format

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultLintTimeout bounds one linter run.
const DefaultLintTimeout = 300 * time.Second

// Formatter rewrites a generated template before it is written.
type Formatter interface {
	Format(ctx context.Context, src string) (string, error)
}

// Linter inspects a written template and returns one line per issue.
type Linter interface {
	Lint(ctx context.Context, path string) ([]string, error)
}

// CommandFormatter pipes the template through Argv, stdin to stdout. An empty
// Argv leaves the template unchanged.
type CommandFormatter struct {
	Argv []string
}

func (f CommandFormatter) Format(ctx context.Context, src string) (string, error) {
	if len(f.Argv) == 0 {
		return src, nil
	}
	cmd := exec.CommandContext(ctx, f.Argv[0], f.Argv[1:]...)
	cmd.Stdin = strings.NewReader(src)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", commandError("format", f.Argv[0], err, stderr.String())
	}
	return stdout.String(), nil
}

// waitDelay bounds how long a killed command's children may keep its output
// pipes open.
const waitDelay = time.Second

// CommandLinter runs Argv with the file path appended. Every non-empty line
// the command prints is an issue. A non-zero exit status with output is the
// usual way linters report issues and is not an error.
type CommandLinter struct {
	Argv    []string
	Timeout time.Duration
}

func (l CommandLinter) Lint(ctx context.Context, path string) ([]string, error) {
	if len(l.Argv) == 0 {
		return nil, nil
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultLintTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, l.Argv[1:]...), path)
	cmd := exec.CommandContext(ctx, l.Argv[0], args...)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("format: lint %s: %w", path, ctx.Err())
	}
	issues := splitLines(stdout.String())
	var exitErr *exec.ExitError
	if err != nil && !(errors.As(err, &exitErr) && len(issues) > 0) {
		return nil, commandError("lint", l.Argv[0], err, stderr.String())
	}
	return issues, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, " \t\r"); strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func commandError(stage, name string, err error, stderr string) error {
	if msg := strings.TrimSpace(stderr); msg != "" {
		return fmt.Errorf("format: %s with %s: %w: %s", stage, name, err, msg)
	}
	return fmt.Errorf("format: %s with %s: %w", stage, name, err)
}
