package daemon

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultUnitPath is where InstallSystemdService writes by default
const DefaultUnitPath = "/etc/systemd/system/cinelinkd.service"

// ServiceOptions describes the generated unit
type ServiceOptions struct {
	BinaryPath string
	User       string
	ConfigPath string
	LogLevel   string
}

// GenerateSystemdService creates the cinelinkd unit file
func GenerateSystemdService(opts ServiceOptions) (string, error) {
	if opts.BinaryPath == "" {
		return "", fmt.Errorf("binary path is required")
	}
	if !filepath.IsAbs(opts.BinaryPath) {
		return "", fmt.Errorf("binary path must be absolute: %s", opts.BinaryPath)
	}

	execStart := opts.BinaryPath
	if opts.ConfigPath != "" {
		execStart += " --config " + opts.ConfigPath
	}
	if opts.LogLevel != "" {
		execStart += " --log-level " + opts.LogLevel
	}

	var user string
	if opts.User != "" {
		user = fmt.Sprintf("User=%s\n", opts.User)
	}

	unit := fmt.Sprintf(`[Unit]
Description=cinelink media symlink sync daemon
After=network-online.target local-fs.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=10
%s
[Install]
WantedBy=multi-user.target
`, execStart, user)

	return unit, nil
}

// InstallSystemdService writes the unit file to path
func InstallSystemdService(opts ServiceOptions, path string) error {
	unit, err := GenerateSystemdService(opts)
	if err != nil {
		return err
	}
	if path == "" {
		path = DefaultUnitPath
	}

	if err := os.WriteFile(path, []byte(unit), 0644); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}
	return nil
}
