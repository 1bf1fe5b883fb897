//go:build !windows

package privilege

import "os"

// isElevated reports effective UID 0.
func isElevated() bool {
	return os.Geteuid() == 0
}
