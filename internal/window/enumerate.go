package window

import (
	"bufio"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/vikthevar/Heimdall/internal/command"
	"github.com/vikthevar/Heimdall/pkg/types"
)

// CommandEnumerator enumerates windows by shelling out to the platform tool
type CommandEnumerator struct {
	goos string
	run  command.Runner
}

// NewCommandEnumerator creates an enumerator for the running platform
func NewCommandEnumerator(run command.Runner) *CommandEnumerator {
	return NewCommandEnumeratorFor(runtime.GOOS, run)
}

// NewCommandEnumeratorFor creates an enumerator for a specific platform
func NewCommandEnumeratorFor(goos string, run command.Runner) *CommandEnumerator {
	if run == nil {
		run = command.Exec
	}
	return &CommandEnumerator{goos: goos, run: run}
}

const darwinScript = `tell application "System Events"
	set out to ""
	repeat with p in (every process whose background only is false)
		repeat with w in (every window of p)
			set out to out & (unix id of p) & "|" & (name of p) & "|" & (name of w) & linefeed
		end repeat
	end repeat
	return out
end tell`

const windowsScript = `Get-Process | Where-Object { $_.MainWindowTitle } | ForEach-Object { "{0}|{1}|{2}|{3}" -f $_.MainWindowHandle, $_.Id, $_.ProcessName, $_.MainWindowTitle }`

// EnumerateWindows lists top-level windows
func (e *CommandEnumerator) EnumerateWindows(ctx context.Context) ([]types.WindowHandle, error) {
	switch e.goos {
	case "linux":
		out, err := e.run(ctx, "wmctrl", "-lp")
		if err != nil {
			return nil, fmt.Errorf("wmctrl failed: %w", err)
		}
		return ParseWmctrl(string(out)), nil
	case "darwin":
		out, err := e.run(ctx, "osascript", "-e", darwinScript)
		if err != nil {
			return nil, fmt.Errorf("osascript failed: %w", err)
		}
		return ParseDarwin(string(out)), nil
	case "windows":
		out, err := e.run(ctx, "powershell", "-NoProfile", "-Command", windowsScript)
		if err != nil {
			return nil, fmt.Errorf("powershell failed: %w", err)
		}
		return ParseWindows(string(out)), nil
	default:
		return nil, fmt.Errorf("window enumeration not supported on %s", e.goos)
	}
}

// ParseWmctrl parses `wmctrl -lp` output:
// 0x03a00003  0 12345  host Window title words
func ParseWmctrl(out string) []types.WindowHandle {
	var handles []types.WindowHandle
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		pid, _ := strconv.Atoi(fields[2])
		title := ""
		if len(fields) > 4 {
			title = strings.Join(fields[4:], " ")
		}
		handles = append(handles, types.WindowHandle{ID: fields[0], PID: pid, Title: title})
	}
	return handles
}

// ParseDarwin parses "pid|app|title" lines produced by the AppleScript above
func ParseDarwin(out string) []types.WindowHandle {
	var handles []types.WindowHandle
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
		if len(parts) != 3 {
			continue
		}
		pid, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
		handles = append(handles, types.WindowHandle{
			ID:    fmt.Sprintf("%s:%s", parts[1], parts[2]),
			PID:   pid,
			App:   parts[1],
			Title: parts[2],
		})
	}
	return handles
}

// ParseWindows parses "hwnd|pid|process|title" lines produced by PowerShell
func ParseWindows(out string) []types.WindowHandle {
	var handles []types.WindowHandle
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(strings.TrimRight(line, "\r"), "|", 4)
		if len(parts) != 4 {
			continue
		}
		pid, _ := strconv.Atoi(parts[1])
		handles = append(handles, types.WindowHandle{
			ID:    parts[0],
			PID:   pid,
			App:   parts[2],
			Title: parts[3],
		})
	}
	return handles
}
