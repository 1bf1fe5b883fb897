// Package privilege detects elevated privileges and prepares the one-shot
// relaunch used to obtain them. The relaunch itself is executed by the CLI
// front-end; the core never replaces its own process.
package privilege

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"macshift/pkg/models"
)

// ElevationToken marks a relaunched child process. If the privilege check
// still fails while the token is present, elevation is not retried; without
// this guard a misconfigured sudo or UAC policy would spawn children forever.
const ElevationToken = "MACSHIFT_ELEVATED"

// Relaunch describes the elevated process the CLI should start in place of
// itself. Env holds additions to the child environment.
type Relaunch struct {
	Path string
	Args []string
	Env  []string
}

// Elevator checks and requests privilege elevation.
type Elevator struct {
	goos      string
	elevated  func() bool
	tokenSeen func() bool
}

// NewElevator builds the platform elevator for the current OS.
func NewElevator() *Elevator {
	return &Elevator{
		goos:     runtime.GOOS,
		elevated: isElevated,
		tokenSeen: func() bool {
			// SUDO_UID covers the POSIX relaunch path where the token
			// environment may be stripped by sudoers env_reset.
			return os.Getenv(ElevationToken) != "" || os.Getenv("SUDO_UID") != ""
		},
	}
}

// IsElevated reports whether the process already holds administrator/root
// privileges.
func (e *Elevator) IsElevated() bool {
	return e.elevated()
}

// RequestElevation prepares a relaunch of originalArgs with elevated
// privileges. consent must be collected by the caller before this point;
// non-interactive callers must not call this at all and should fail with
// privilege-required instead.
func (e *Elevator) RequestElevation(originalArgs []string, consent bool) (*Relaunch, error) {
	if !consent {
		return nil, models.NewFault(models.KindElevationDeclined, "", nil)
	}
	if e.tokenSeen() {
		// Already relaunched once and still not elevated.
		return nil, models.NewFault(models.KindElevationLoopDetected, "",
			fmt.Errorf("relaunch token already present"))
	}

	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve executable path: %w", err)
	}

	token := ElevationToken + "=1"
	switch e.goos {
	case "windows":
		// Start-Process -Verb RunAs triggers the UAC prompt, but the
		// elevated child gets a fresh environment block, so the loop-guard
		// token travels in-band: the child is "cmd /c set TOKEN=1 && exe".
		return &Relaunch{
			Path: "powershell",
			Args: []string{"-NoProfile", "-Command", windowsElevateCommand(exe, originalArgs)},
			Env:  []string{token},
		}, nil
	default:
		return &Relaunch{
			Path: "sudo",
			Args: append([]string{"--preserve-env=" + ElevationToken, exe}, originalArgs...),
			Env:  []string{token},
		}, nil
	}
}

// windowsElevateCommand builds the single PowerShell command string for the
// elevated relaunch. -ArgumentList gets one quoted string so interface names
// with spaces survive both the PowerShell and the cmd parse.
func windowsElevateCommand(exe string, originalArgs []string) string {
	parts := make([]string, 0, len(originalArgs)+1)
	parts = append(parts, `"`+exe+`"`)
	for _, arg := range originalArgs {
		parts = append(parts, `"`+arg+`"`)
	}
	inner := fmt.Sprintf("/c set %s=1 && %s", ElevationToken, strings.Join(parts, " "))
	return "Start-Process -Verb RunAs -FilePath cmd.exe -ArgumentList '" +
		strings.ReplaceAll(inner, "'", "''") + "'"
}
