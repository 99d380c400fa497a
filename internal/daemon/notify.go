package daemon

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/Nomadcxx/cinelink/internal/reporter"
)

// NotifyUser shows a desktop notification summarizing report
func NotifyUser(report reporter.Report) error {
	notifyPath, err := exec.LookPath("notify-send")
	if err != nil {
		return fmt.Errorf("notify-send not found: %w", err)
	}

	title := "cinelink scan finished"
	body := fmt.Sprintf("%d linked, %d already synced, %d failed",
		report.Counts["linked"], report.Counts["already_synced"], len(report.Failures))

	urgency := "normal"
	if len(report.Failures) > 0 {
		urgency = "critical"
	}

	cmd := exec.Command(notifyPath, "--app-name=cinelink", "--urgency="+urgency, title, body)

	// Pass the session variables through explicitly
	env := os.Environ()
	for _, key := range []string{"DISPLAY", "WAYLAND_DISPLAY", "XDG_RUNTIME_DIR", "DBUS_SESSION_BUS_ADDRESS"} {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}
	cmd.Env = env

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch notify-send: %w", err)
	}

	// reap in the background
	go func() { _ = cmd.Wait() }()
	return nil
}
