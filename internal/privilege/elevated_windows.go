//go:build windows

package privilege

import "golang.org/x/sys/windows"

// isElevated reports whether the process token carries administrator
// elevation.
func isElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
