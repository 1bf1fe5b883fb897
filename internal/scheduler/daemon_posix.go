//go:build !windows

package scheduler

import (
	"os"
	"syscall"
)

// detachAttr puts the daemon in its own session so it survives the parent's
// terminal closing.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
