package actions

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/imamik/gpuprep/internal/stage"
	"github.com/imamik/gpuprep/internal/util/netutil"
)

const (
	sshdDropIn = "/etc/ssh/sshd_config.d/60-gpuprep.conf"
	sshdLocal  = "127.0.0.1"
	sshdPort   = 22
)

var (
	// sshdWait bounds how long the stage waits for sshd to accept
	// connections after a reload.
	sshdWait = 30 * time.Second

	waitForPort = netutil.WaitForPort
)

const sshdHardening = `# Managed by gpuprep
PasswordAuthentication no
KbdInteractiveAuthentication no
PermitRootLogin prohibit-password
`

// homeDir returns the home directory of user.
func homeDir(user string) string {
	if user == "root" {
		return "/root"
	}
	return path.Join("/home", user)
}

// parseAuthorizedKeys validates every configured key and returns them in
// canonical authorized_keys form.
func parseAuthorizedKeys(keys []string) ([]string, error) {
	var out []string
	for i, raw := range keys {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		pub, comment, _, _, err := ssh.ParseAuthorizedKey([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("ssh_authorized_keys[%d]: %w", i, err)
		}
		line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
		if comment != "" {
			line += " " + comment
		}
		out = append(out, line)
	}
	return out, nil
}

// authorizedKeySet returns the wire encoding of every key in an
// authorized_keys file. Unparseable lines are skipped.
func authorizedKeySet(data []byte) map[string]bool {
	set := map[string]bool{}
	rest := data
	for len(rest) > 0 {
		pub, _, _, next, err := ssh.ParseAuthorizedKey(rest)
		if err != nil {
			break
		}
		set[string(pub.Marshal())] = true
		rest = next
	}
	return set
}

// mergeAuthorizedKeys appends keys that existing does not contain yet. Keys
// are compared by type and blob, ignoring comments and options.
func mergeAuthorizedKeys(existing []byte, keys []string) ([]byte, int) {
	seen := authorizedKeySet(existing)

	var buf bytes.Buffer
	buf.Write(existing)
	if buf.Len() > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	added := 0
	for _, k := range keys {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(k))
		if err != nil || seen[string(pub.Marshal())] {
			continue
		}
		seen[string(pub.Marshal())] = true
		buf.WriteString(k)
		buf.WriteByte('\n')
		added++
	}
	return buf.Bytes(), added
}

// SSHHardening installs the configured authorized keys and disables
// password logins. Password auth is only disabled when at least one key is
// present, so the host can never lock its operator out.
type SSHHardening struct{}

// Execute implements stage.Action.
func (a *SSHHardening) Execute(ctx context.Context, env *stage.Env) stage.Result {
	obs := env.Observer
	cfg := env.Config

	keys, err := parseAuthorizedKeys(cfg.SSHAuthorizedKeys)
	if err != nil {
		return stage.Failedf("invalid authorized key: %v", err)
	}

	home := homeDir(cfg.SSHUser)
	keyFile := path.Join(home, ".ssh", "authorized_keys")
	existing, err := env.Host.ReadFile(keyFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return stage.Failedf("read %s: %v", keyFile, err)
	}

	if len(keys) > 0 {
		owner := cfg.SSHUser + ":" + cfg.SSHUser
		if _, err := env.Host.Run(ctx, "install", "-d", "-m", "0700", "-o", cfg.SSHUser, "-g", cfg.SSHUser, path.Join(home, ".ssh")); err != nil {
			return stage.Failedf("create %s/.ssh: %v", home, err)
		}
		merged, added := mergeAuthorizedKeys(existing, keys)
		if err := env.Host.WriteFile(keyFile, merged, 0o600); err != nil {
			return stage.Failedf("write %s: %v", keyFile, err)
		}
		if _, err := env.Host.Run(ctx, "chown", owner, keyFile); err != nil {
			return stage.Failedf("chown %s: %v", keyFile, err)
		}
		obs.Printf("[%s] Installed %d new authorized key(s) for %s", StageSSHHardening, added, cfg.SSHUser)
		existing = merged
	}

	if cfg.SSHDisablePasswordAuth {
		if len(authorizedKeySet(existing)) == 0 {
			return stage.Failed("refusing to disable password authentication: no authorized keys installed")
		}
		if err := applySSHDropIn(ctx, env); err != nil {
			return stage.FromError(err)
		}
		obs.Printf("[%s] Password authentication disabled", StageSSHHardening)
	}

	if err := waitForPort(ctx, sshdLocal, sshdPort, sshdWait); err != nil {
		return stage.Failedf("sshd not reachable after reload: %v", err)
	}
	return stage.Succeeded()
}

// applySSHDropIn writes the hardening drop-in, validates the full sshd
// configuration and reloads the daemon. An invalid configuration is rolled
// back before sshd ever reads it.
func applySSHDropIn(ctx context.Context, env *stage.Env) error {
	if err := env.Host.WriteFile(sshdDropIn, []byte(sshdHardening), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", sshdDropIn, err)
	}
	if _, err := env.Host.Run(ctx, "sshd", "-t"); err != nil {
		_ = env.Host.Remove(sshdDropIn)
		return fmt.Errorf("sshd rejected configuration: %w", err)
	}
	if _, err := env.Host.Run(ctx, "systemctl", "reload", "ssh"); err != nil {
		return fmt.Errorf("reload sshd: %w", err)
	}
	return nil
}
