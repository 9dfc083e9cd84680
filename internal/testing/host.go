package testing

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/imamik/gpuprep/internal/hostexec"
)

// Call is one recorded command invocation.
type Call struct {
	Name string
	Args []string
}

// String renders the call as a shell-like command line.
func (c Call) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

type response struct {
	prefix string
	output string
	err    error
	times  int // 0 means unlimited
}

// FakeHost is a scripted hostexec.Host. Commands succeed with empty output
// unless a response matching their command-line prefix was registered; the
// most recently registered match wins. Files live in memory.
type FakeHost struct {
	mu        sync.Mutex
	calls     []Call
	responses []*response
	files     map[string][]byte
	perms     map[string]os.FileMode
	missing   map[string]bool
}

// NewFakeHost creates a FakeHost with no scripted responses.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		files:   map[string][]byte{},
		perms:   map[string]os.FileMode{},
		missing: map[string]bool{},
	}
}

// On scripts every command starting with prefix.
func (h *FakeHost) On(prefix, output string, err error) *FakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, &response{prefix: prefix, output: output, err: err})
	return h
}

// Once scripts the next command starting with prefix only.
func (h *FakeHost) Once(prefix, output string, err error) *FakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, &response{prefix: prefix, output: output, err: err, times: 1})
	return h
}

// Fail scripts every command starting with prefix to exit with code.
func (h *FakeHost) Fail(prefix string, code int, output string) *FakeHost {
	return h.On(prefix, output, CommandFailure(prefix, code, output))
}

// Missing makes LookPath fail for the named binaries.
func (h *FakeHost) Missing(names ...string) *FakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, n := range names {
		h.missing[n] = true
	}
	return h
}

// Run implements hostexec.Runner.
func (h *FakeHost) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	call := Call{Name: name, Args: slices.Clone(args)}
	line := call.String()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)

	for i := len(h.responses) - 1; i >= 0; i-- {
		r := h.responses[i]
		if !strings.HasPrefix(line, r.prefix) {
			continue
		}
		if r.times > 0 {
			r.times--
			if r.times == 0 {
				h.responses = slices.Delete(h.responses, i, i+1)
			}
		}
		return []byte(r.output), r.err
	}
	return nil, nil
}

// ReadFile implements hostexec.Host.
func (h *FakeHost) ReadFile(path string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return slices.Clone(data), nil
}

// WriteFile implements hostexec.Host.
func (h *FakeHost) WriteFile(path string, data []byte, perm os.FileMode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = slices.Clone(data)
	h.perms[path] = perm
	return nil
}

// Remove implements hostexec.Host.
func (h *FakeHost) Remove(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.files, path)
	delete(h.perms, path)
	return nil
}

// LookPath implements hostexec.Host.
func (h *FakeHost) LookPath(name string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.missing[name] {
		return "", fmt.Errorf("exec: %q: %w", name, errors.New("executable file not found in $PATH"))
	}
	return "/usr/bin/" + name, nil
}

// Commands returns every recorded command line in order.
func (h *FakeHost) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.calls))
	for i, c := range h.calls {
		out[i] = c.String()
	}
	return out
}

// Ran reports whether a command starting with prefix was run.
func (h *FakeHost) Ran(prefix string) bool {
	for _, c := range h.Commands() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// File returns the content written to path.
func (h *FakeHost) File(path string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[path]
	return string(data), ok
}

// Perm returns the mode path was written with.
func (h *FakeHost) Perm(path string) os.FileMode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.perms[path]
}

// SetFile seeds an existing file.
func (h *FakeHost) SetFile(path, content string) *FakeHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[path] = []byte(content)
	h.perms[path] = 0o644
	return h
}

// CommandFailure builds the error hostexec returns for a non-zero exit.
func CommandFailure(command string, code int, output string) error {
	return &hostexec.CommandError{
		Command:  command,
		ExitCode: code,
		Output:   output,
		Err:      fmt.Errorf("exit status %d", code),
	}
}

var _ hostexec.Host = (*FakeHost)(nil)
