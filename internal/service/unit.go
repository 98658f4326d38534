// Package service bridges instances to the host service manager. On
// Linux that is a systemd user unit per instance; on Windows there is
// no service integration and only the autoupdate flag is persisted.
package service

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bedrockmgr/bedrock-server-manager/internal/server"
)

// UnitName returns the systemd user unit name for an instance.
func UnitName(instance string) string {
	return "bedrock-" + instance + ".service"
}

// DefaultUnitDir returns ~/.config/systemd/user, where user units live.
func DefaultUnitDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "systemd", "user"), nil
}

// renderUnit produces the unit file body. The unit wraps the same
// screen invocation the direct launcher uses, so a unit-started server
// is reachable through the same command channel.
func renderUnit(inst server.Instance, selfExe string, autoupdate bool) string {
	unit := fmt.Sprintf(`[Unit]
Description=Minecraft Bedrock server %s
After=network.target

[Service]
Type=forking
WorkingDirectory=%s
`, inst.Name, inst.InstallDir)

	if autoupdate {
		unit += fmt.Sprintf("ExecStartPre=%s update --server %s\n", selfExe, inst.Name)
	}

	launch := fmt.Sprintf("cd %q && LD_LIBRARY_PATH=. ./bedrock_server 2>&1 | tee -a %q", inst.InstallDir, inst.OutputLog())
	unit += fmt.Sprintf(`ExecStart=/usr/bin/screen -dmS %s /bin/bash -c '%s'
ExecStop=%s stop --server %s
Restart=no

[Install]
WantedBy=default.target
`, inst.SessionName(), launch, selfExe, inst.Name)

	return unit
}
