package state

import (
	"bufio"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// osReleasePath is a variable so tests can point it at a fixture.
var osReleasePath = "/etc/os-release"

// CollectSystemInfo gathers a best-effort snapshot of host facts. Missing
// facts are left empty; collection never fails.
func CollectSystemInfo() SystemInfo {
	info := SystemInfo{CollectedAt: time.Now().UTC()}

	if h, err := os.Hostname(); err == nil {
		info.Hostname = h
	}
	info.Addresses = hostAddresses()
	info.OSVersion = osPrettyName(osReleasePath)

	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		info.Kernel = unix.ByteSliceToString(uts.Release[:])
	}

	return info
}

// hostAddresses returns global unicast addresses, skipping loopback and
// link-local ones.
func hostAddresses() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || !ipNet.IP.IsGlobalUnicast() {
			continue
		}
		out = append(out, ipNet.IP.String())
	}
	return out
}

func osPrettyName(path string) string {
	// #nosec G304
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if ok && key == "PRETTY_NAME" {
			return strings.Trim(value, `"`)
		}
	}
	return ""
}
