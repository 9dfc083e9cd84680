package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

const ownerFile = "owner.json"

var (
	// ErrTimeout is returned when the lock could not be acquired in time.
	ErrTimeout = errors.New("timed out waiting for deployment lock")

	// ErrNotHeld is returned by operations that require holding the lock.
	ErrNotHeld = errors.New("deployment lock not held")
)

// Owner is the holder record stored inside the lock directory.
type Owner struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname,omitempty"`
	BootID     string    `json:"bootId,omitempty"`
	RunID      string    `json:"runId"`
	AcquiredAt time.Time `json:"acquiredAt"`
}

// Manager acquires and releases the deployment lock for one process.
type Manager struct {
	dir          string
	guardPath    string
	pollInterval time.Duration

	pid    int
	runID  string
	alive  func(pid int) bool
	bootID func() string
	now    func() time.Time

	mu   sync.Mutex
	held bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithPollInterval sets the delay between acquisition attempts.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithRunID sets the run id recorded in the owner record.
func WithRunID(id string) Option {
	return func(m *Manager) {
		m.runID = id
	}
}

// WithPID overrides the pid recorded as holder.
func WithPID(pid int) Option {
	return func(m *Manager) {
		m.pid = pid
	}
}

// WithLivenessProbe overrides the check used to decide whether a recorded
// holder process still exists.
func WithLivenessProbe(alive func(pid int) bool) Option {
	return func(m *Manager) {
		m.alive = alive
	}
}

// WithBootID overrides the source of the current boot id.
func WithBootID(bootID func() string) Option {
	return func(m *Manager) {
		m.bootID = bootID
	}
}

// New returns a Manager for the lock directory at dir.
func New(dir string, opts ...Option) *Manager {
	m := &Manager{
		dir:          dir,
		guardPath:    filepath.Clean(dir) + ".guard",
		pollInterval: 2 * time.Second,
		pid:          os.Getpid(),
		runID:        uuid.NewString(),
		alive:        processAlive,
		bootID:       currentBootID,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dir returns the lock directory path.
func (m *Manager) Dir() string {
	return m.dir
}

// RunID returns the id this manager records as holder.
func (m *Manager) RunID() string {
	return m.runID
}

// Acquire polls until the lock is taken, timeout elapses or ctx is done.
// Stale locks found along the way are broken.
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		ok, holder, err := m.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !time.Now().Before(deadline) {
			if holder != nil {
				return fmt.Errorf("%w after %v: held by pid %d (run %s) since %s",
					ErrTimeout, timeout, holder.PID, holder.RunID, holder.AcquiredAt.Format(time.RFC3339))
			}
			return fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for deployment lock: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// TryAcquire makes a single attempt. When the lock is held by a live
// process it returns false and the current holder.
func (m *Manager) TryAcquire() (bool, *Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held {
		return true, nil, nil
	}

	var acquired bool
	var holder *Owner
	err := m.withGuard(func() error {
		owner, err := m.readOwner()
		switch {
		case errors.Is(err, fs.ErrNotExist):
			// no lock directory at all
		case err != nil:
			return err
		case owner != nil && !m.isStale(owner):
			holder = owner
			return nil
		}

		// Either free, stale, or an orphaned directory with no owner
		// record. Nobody else is inside the guard, so breaking is safe.
		if err := os.RemoveAll(m.dir); err != nil {
			return fmt.Errorf("remove stale lock: %w", err)
		}
		if err := os.Mkdir(m.dir, 0o700); err != nil {
			return fmt.Errorf("create lock dir: %w", err)
		}
		if err := m.writeOwner(); err != nil {
			_ = os.RemoveAll(m.dir)
			return err
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	m.held = acquired
	return acquired, holder, nil
}

// Release removes the lock if this manager holds it. It is a no-op
// otherwise and safe to call on every exit path.
func (m *Manager) Release() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.held {
		return nil
	}
	err := m.withGuard(func() error {
		owner, err := m.readOwner()
		if err != nil || owner == nil {
			return nil
		}
		if owner.PID != m.pid || owner.RunID != m.runID {
			return nil
		}
		return os.RemoveAll(m.dir)
	})
	m.held = false
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// ForceRelease removes the lock regardless of holder. Used by reset.
func (m *Manager) ForceRelease() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.withGuard(func() error {
		return os.RemoveAll(m.dir)
	})
	m.held = false
	if err != nil {
		return fmt.Errorf("force release lock: %w", err)
	}
	return nil
}

// Holder returns the current owner record, or nil if the lock is free.
func (m *Manager) Holder() (*Owner, error) {
	owner, err := m.readOwner()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return owner, err
}

// IsStale reports whether owner would be broken by the next acquirer.
func (m *Manager) IsStale(owner *Owner) bool {
	return m.isStale(owner)
}

func (m *Manager) isStale(owner *Owner) bool {
	if current := m.bootID(); owner.BootID != "" && current != "" && owner.BootID != current {
		return true
	}
	return !m.alive(owner.PID)
}

// readOwner returns fs.ErrNotExist if the lock directory does not exist,
// and (nil, nil) for a directory without a readable owner record.
func (m *Manager) readOwner() (*Owner, error) {
	if _, err := os.Stat(m.dir); err != nil {
		return nil, err
	}
	// #nosec G304
	data, err := os.ReadFile(filepath.Join(m.dir, ownerFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lock owner: %w", err)
	}
	var owner Owner
	if err := json.Unmarshal(data, &owner); err != nil || owner.PID <= 0 {
		return nil, nil
	}
	return &owner, nil
}

func (m *Manager) writeOwner() error {
	hostname, _ := os.Hostname()
	owner := Owner{
		PID:        m.pid,
		Hostname:   hostname,
		BootID:     m.bootID(),
		RunID:      m.runID,
		AcquiredAt: m.now(),
	}
	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal lock owner: %w", err)
	}
	path := filepath.Join(m.dir, ownerFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write lock owner: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write lock owner: %w", err)
	}
	return nil
}

// withGuard runs fn while holding an exclusive flock on the guard file.
// The kernel drops the flock if the process dies, so the guard itself can
// never go stale.
func (m *Manager) withGuard(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(m.guardPath), 0o755); err != nil {
		return fmt.Errorf("create lock parent dir: %w", err)
	}
	// #nosec G304
	f, err := os.OpenFile(m.guardPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock guard: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("flock lock guard: %w", err)
	}
	defer func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }()

	return fn()
}
