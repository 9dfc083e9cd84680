package lock

import (
	"errors"
	"os"
	"strings"

	"golang.org/x/sys/unix"
)

const bootIDPath = "/proc/sys/kernel/random/boot_id"

// processAlive reports whether pid exists. EPERM means it exists but
// belongs to another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// currentBootID returns the kernel's per-boot random id, or "" when it is
// unavailable (non-Linux, restricted /proc).
func currentBootID() string {
	data, err := os.ReadFile(bootIDPath)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
