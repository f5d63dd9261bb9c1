package actions

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// Launcher starts programs and opens URLs on the desktop.
type Launcher interface {
	OpenURL(ctx context.Context, url string) error
	OpenApp(ctx context.Context, command string) error
}

// SystemLauncher uses the platform opener: xdg-open, open or start.
type SystemLauncher struct {
	GOOS string
}

func NewSystemLauncher() *SystemLauncher {
	return &SystemLauncher{GOOS: runtime.GOOS}
}

func (l *SystemLauncher) OpenURL(ctx context.Context, url string) error {
	name, args := l.opener(url)
	return start(name, args...)
}

// OpenApp runs command directly when it names an executable, otherwise it
// hands it to the platform opener.
func (l *SystemLauncher) OpenApp(ctx context.Context, command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return errors.New("empty command")
	}

	if path, err := exec.LookPath(fields[0]); err == nil {
		return start(path, fields[1:]...)
	}

	switch l.GOOS {
	case "darwin":
		return start("open", "-a", command)
	case "windows":
		return start("cmd", "/c", "start", "", command)
	default:
		return fmt.Errorf("%s: not found in PATH", fields[0])
	}
}

func (l *SystemLauncher) opener(target string) (string, []string) {
	switch l.GOOS {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "cmd", []string{"/c", "start", "", target}
	default:
		return "xdg-open", []string{target}
	}
}

// start launches a detached process and does not wait for it.
func start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	log.Debug("Launched", "cmd", name, "args", args, "pid", cmd.Process.Pid)
	go func() {
		if err := cmd.Wait(); err != nil {
			log.Debug("Launched process exited", "cmd", name, "err", err)
		}
	}()
	return nil
}
