// Package netutil waits for outbound network connectivity before stages that
// download packages run.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrTimeout is returned when no host became reachable in time.
var ErrTimeout = errors.New("network not reachable")

const dialTimeout = 2 * time.Second

// dial is swapped in tests.
var dial = func(ctx context.Context, address string) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// WaitForNetwork polls every interval until one of hosts (host:port) accepts a
// TCP connection. It checks immediately before the first tick. An empty host
// list returns at once.
func WaitForNetwork(ctx context.Context, hosts []string, timeout, interval time.Duration) error {
	if len(hosts) == 0 {
		return nil
	}
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if anyReachable(ctx, hosts) {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w after %v (tried %s)", ErrTimeout, timeout, strings.Join(hosts, ", "))
			}
			return ctx.Err()
		case <-ticker.C:
			if anyReachable(ctx, hosts) {
				return nil
			}
		}
	}
}

// WaitForPort waits for a TCP port to be open on the target host.
func WaitForPort(ctx context.Context, host string, port int, timeout time.Duration) error {
	return WaitForNetwork(ctx, []string{net.JoinHostPort(host, fmt.Sprintf("%d", port))}, timeout, time.Second)
}

func anyReachable(ctx context.Context, hosts []string) bool {
	for _, h := range hosts {
		if dial(ctx, h) == nil {
			return true
		}
	}
	return false
}
