package bootsvc

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"text/template"

	"github.com/imamik/gpuprep/internal/hostexec"
)

// UnitName is the systemd unit that resumes the deployment at boot.
const UnitName = "gpuprep-resume.service"

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Resume GPU host provisioning after reboot
Wants=network-online.target
After=network-online.target
ConditionPathExists={{ .StatePath }}

[Service]
Type=oneshot
ExecStart={{ .BinaryPath }} --resume --config {{ .ConfigPath }}
RemainAfterExit=no
StandardOutput=journal+console
StandardError=journal+console

[Install]
WantedBy=multi-user.target
`))

// Options locate the binary, config and state the unit refers to.
type Options struct {
	UnitDir    string
	BinaryPath string
	ConfigPath string
	StatePath  string
}

// Trigger arms and disarms the boot-time resume unit.
type Trigger struct {
	host hostexec.Host
	opts Options
}

// New returns a Trigger that manages the unit through host.
func New(host hostexec.Host, opts Options) *Trigger {
	return &Trigger{host: host, opts: opts}
}

// UnitPath returns where the unit file is written.
func (t *Trigger) UnitPath() string {
	return filepath.Join(t.opts.UnitDir, UnitName)
}

// Render returns the unit file content.
func (t *Trigger) Render() ([]byte, error) {
	var buf bytes.Buffer
	if err := unitTemplate.Execute(&buf, t.opts); err != nil {
		return nil, fmt.Errorf("render %s: %w", UnitName, err)
	}
	return buf.Bytes(), nil
}

// Arm writes the unit and enables it. It is idempotent.
func (t *Trigger) Arm(ctx context.Context) error {
	content, err := t.Render()
	if err != nil {
		return err
	}
	if existing, err := t.host.ReadFile(t.UnitPath()); err != nil || !bytes.Equal(existing, content) {
		if err := t.host.WriteFile(t.UnitPath(), content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", t.UnitPath(), err)
		}
		if _, err := t.host.Run(ctx, "systemctl", "daemon-reload"); err != nil {
			return fmt.Errorf("systemctl daemon-reload: %w", err)
		}
	}
	if _, err := t.host.Run(ctx, "systemctl", "enable", UnitName); err != nil {
		return fmt.Errorf("enable %s: %w", UnitName, err)
	}
	return nil
}

// Disarm disables and removes the unit. It is idempotent.
func (t *Trigger) Disarm(ctx context.Context) error {
	if _, err := t.host.ReadFile(t.UnitPath()); err != nil {
		return nil
	}
	if _, err := t.host.Run(ctx, "systemctl", "disable", UnitName); err != nil {
		return fmt.Errorf("disable %s: %w", UnitName, err)
	}
	if err := t.host.Remove(t.UnitPath()); err != nil {
		return fmt.Errorf("remove %s: %w", t.UnitPath(), err)
	}
	if _, err := t.host.Run(ctx, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("systemctl daemon-reload: %w", err)
	}
	return nil
}

// Armed reports whether the unit file is installed.
func (t *Trigger) Armed() bool {
	_, err := t.host.ReadFile(t.UnitPath())
	return err == nil
}
