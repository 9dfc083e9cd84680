package hostexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes a command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Host is a Runner that can also read and write files.
type Host interface {
	Runner
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm os.FileMode) error
	Remove(path string) error
	LookPath(name string) (string, error)
}

// CommandError is returned when a command exits unsuccessfully.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	out := lastLines(e.Output, 5)
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, out)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode extracts the exit status from err, or -1 when err is not a
// CommandError carrying one.
func ExitCode(err error) int {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return -1
}

// Local runs commands with os/exec on the current machine.
type Local struct {
	// Env is appended to the process environment for every command.
	Env []string
}

// NewLocal returns a Local host configured for unattended package operations.
func NewLocal() *Local {
	return &Local{Env: []string{
		"DEBIAN_FRONTEND=noninteractive",
		"NEEDRESTART_MODE=a",
	}}
}

// Run implements Runner.
func (l *Local) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 - commands come from compiled-in actions
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), l.Env...)

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := buf.Bytes()
	if err == nil {
		return out, nil
	}

	cmdErr := &CommandError{
		Command:  strings.Join(append([]string{name}, args...), " "),
		ExitCode: -1,
		Output:   string(out),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		cmdErr.Err = ctxErr
	}
	return out, cmdErr
}

// ReadFile implements Host.
func (l *Local) ReadFile(path string) ([]byte, error) {
	// #nosec G304
	return os.ReadFile(path)
}

// WriteFile writes data through a temp file and rename, creating parent
// directories as needed.
func (l *Local) WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return os.Rename(tmpName, path)
}

// Remove deletes path. A missing file is not an error.
func (l *Local) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LookPath implements Host.
func (l *Local) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
