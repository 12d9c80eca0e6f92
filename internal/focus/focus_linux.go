//go:build linux

package focus

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// lookupTimeout bounds each helper invocation.
const lookupTimeout = 300 * time.Millisecond

// xdotoolProvider asks X11 for the active window via xdotool and resolves
// the owning process name from /proc.
type xdotoolProvider struct {
	display string
	run     func(args ...string) (string, error)
	procDir string
}

func newPlatformProvider() Provider {
	return &xdotoolProvider{
		display: detectDisplayServer(),
		run:     runXdotool,
		procDir: "/proc",
	}
}

// detectDisplayServer determines whether we're running X11 or Wayland.
// XWayland counts as X11 since xdotool works against it.
func detectDisplayServer() string {
	wayland := os.Getenv("WAYLAND_DISPLAY") != ""
	x11 := os.Getenv("DISPLAY") != ""
	switch {
	case x11:
		return "x11"
	case wayland:
		return "wayland"
	default:
		return "unknown"
	}
}

func runXdotool(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "xdotool", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (p *xdotoolProvider) Available() (bool, string) {
	switch p.display {
	case "x11":
	case "wayland":
		return false, "wayland compositors do not expose the focused window"
	default:
		return false, "no display server detected"
	}
	if _, err := exec.LookPath("xdotool"); err != nil {
		return false, "xdotool not found in PATH"
	}
	return true, "x11 via xdotool"
}

func (p *xdotoolProvider) Lookup() (Info, error) {
	if p.display != "x11" {
		return Info{}, ErrNoFocus
	}

	windowID, err := p.run("getactivewindow")
	if err != nil || windowID == "" {
		return Info{}, fmt.Errorf("%w: %v", ErrNoFocus, err)
	}

	var info Info
	if title, err := p.run("getwindowname", windowID); err == nil {
		info.Title = title
	}
	if out, err := p.run("getwindowpid", windowID); err == nil {
		if pid, err := strconv.Atoi(out); err == nil && pid > 0 {
			info.PID = pid
			info.AppID = p.procName(pid)
		}
	}
	return info, nil
}

// procName reads the executable name of pid.
func (p *xdotoolProvider) procName(pid int) string {
	data, err := os.ReadFile(fmt.Sprintf("%s/%d/comm", p.procDir, pid))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
