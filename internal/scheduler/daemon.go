package scheduler

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// PIDFilePath returns the scheduler daemon pid file path.
func PIDFilePath(stateDir string) string {
	return filepath.Join(stateDir, pidFileName)
}

// StopFilePath returns the stop sentinel path watched by the running loop.
func StopFilePath(stateDir string) string {
	return filepath.Join(stateDir, stopFileName)
}

func writePIDFile(stateDir string) error {
	return os.WriteFile(PIDFilePath(stateDir), []byte(strconv.Itoa(os.Getpid())), 0644)
}

func removePIDFile(stateDir string) {
	os.Remove(PIDFilePath(stateDir))
}

// readPID returns the recorded daemon pid, 0 when absent or unreadable.
func readPID(stateDir string) int {
	data, err := os.ReadFile(PIDFilePath(stateDir))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// StartDaemon launches the scheduler loop as a detached background process
// running "<self> scheduler-run". A live pid file refuses a second instance;
// two loops over the same persisted state are unsupported.
func StartDaemon(stateDir, logFile string) error {
	if pid := readPID(stateDir); pid != 0 {
		if processAlive(pid) {
			return fmt.Errorf("scheduler already running (PID %d)", pid)
		}
		log.Warnf("Removing stale pid file for dead PID %d", pid)
		removePIDFile(stateDir)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open daemon log file: %w", err)
	}
	defer logF.Close()

	cmd := exec.Command(exe, "scheduler-run")
	cmd.Stdout = logF
	cmd.Stderr = logF
	cmd.SysProcAttr = detachAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler daemon: %w", err)
	}
	pid := cmd.Process.Pid
	log.WithFields(log.Fields{
		"pid": pid,
		"log": logFile,
	}).Info("Scheduler daemon started")

	// Catch immediate startup failures instead of reporting false success.
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("scheduler daemon exited immediately: %w (check %s)", err, logFile)
		}
		return fmt.Errorf("scheduler daemon exited immediately (check %s)", logFile)
	case <-time.After(500 * time.Millisecond):
		if !processAlive(pid) {
			return fmt.Errorf("scheduler daemon died during startup (check %s)", logFile)
		}
		go func() { <-done }() // reap when it eventually exits
		return nil
	}
}

// RequestStop asks a running scheduler loop to shut down by dropping the
// stop sentinel its watcher waits on. Works the same whether the loop runs
// in the foreground or as a daemon, on every platform.
func RequestStop(stateDir string) error {
	pid := readPID(stateDir)
	if pid == 0 {
		return fmt.Errorf("no scheduler pid file in %s; is the scheduler running?", stateDir)
	}
	if !processAlive(pid) {
		log.Warnf("Removing stale pid file for dead PID %d", pid)
		removePIDFile(stateDir)
		return fmt.Errorf("scheduler process %d is not running", pid)
	}

	if err := os.WriteFile(StopFilePath(stateDir), []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return fmt.Errorf("failed to write stop sentinel: %w", err)
	}

	// Wait briefly for the loop to notice and exit.
	for i := 0; i < 20; i++ {
		if !processAlive(pid) {
			log.WithFields(log.Fields{"pid": pid}).Info("Scheduler stopped")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("scheduler (PID %d) did not stop in time", pid)
}
