// Package scheduler drives timed MAC changes: a single-threaded loop with
// persisted configuration and run state, gated by a daily active-hours
// window.
package scheduler

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"macshift/internal/changelog"
	"macshift/internal/config"
	"macshift/internal/ifctl"
	"macshift/internal/mac"
	"macshift/pkg/models"
)

// Phase is the scheduler's state-machine state.
type Phase int

const (
	// PhaseIdle means no loop is executing.
	PhaseIdle Phase = iota
	// PhaseActive means the loop runs inside the active-hours window.
	PhaseActive
	// PhaseWaiting means the loop runs outside the window; no changes occur.
	PhaseWaiting
	// PhaseStopping means shutdown was requested.
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseWaiting:
		return "waiting"
	case PhaseStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// defaultTickInterval is how often the loop wakes to evaluate the schedule.
const defaultTickInterval = 30 * time.Second

// Scheduler owns the change loop. Not safe for concurrent use; the design
// has a single logical thread of control.
type Scheduler struct {
	appCfg *config.Config
	ctrl   ifctl.Controller
	clog   *changelog.Log

	conf  *Config
	state *RunState
	phase Phase

	rng       *rand.Rand
	tickEvery time.Duration
}

// New creates a scheduler over the given controller and change log.
func New(appCfg *config.Config, ctrl ifctl.Controller, clog *changelog.Log) *Scheduler {
	return &Scheduler{
		appCfg:    appCfg,
		ctrl:      ctrl,
		clog:      clog,
		phase:     PhaseIdle,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		tickEvery: defaultTickInterval,
	}
}

// Phase returns the current state-machine phase.
func (s *Scheduler) Phase() Phase {
	return s.phase
}

// Start validates privileges and configuration and transitions Idle to
// Active or Waiting. The scheduler never self-elevates; callers without
// privileges get privilege-required immediately.
func (s *Scheduler) Start(elevated bool) error {
	if !elevated {
		return models.NewFault(models.KindPrivilegeRequired, "", nil)
	}

	conf, err := LoadConfig(s.appCfg.StateDir)
	if err != nil {
		return err
	}
	if !conf.Enabled {
		return &models.Fault{Kind: models.KindConfigInvalid, Detail: "scheduler is not enabled"}
	}

	state, err := LoadRunState(s.appCfg.StateDir)
	if err != nil {
		return err
	}

	now := time.Now()
	s.conf = conf
	s.state = state
	s.state.Running = true
	s.state.PID = os.Getpid()
	if s.state.NextChange.IsZero() {
		// First run: change on the first in-window tick.
		s.state.NextChange = now
	}
	if s.state.OriginalMAC != "" {
		// Carry the backup across restarts so restore keeps working.
		if addr, err := mac.Parse(s.state.OriginalMAC); err == nil {
			ifctl.SeedOriginal(s.ctrl, conf.Interface, addr)
		}
	}

	if conf.InActiveWindow(now) {
		s.phase = PhaseActive
	} else {
		s.phase = PhaseWaiting
	}
	s.persist()

	log.WithFields(log.Fields{
		"interface": conf.Interface,
		"mode":      string(conf.Mode),
		"phase":     s.phase.String(),
	}).Info("Scheduler started")
	return nil
}

// Tick evaluates the schedule at the given instant. Exposed with an explicit
// clock so the state machine is testable without sleeping.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	if s.phase == PhaseIdle || s.phase == PhaseStopping {
		return
	}

	// Active-hours boundary crossings flip the phase without touching the
	// next-change timestamp.
	if s.conf.InActiveWindow(now) {
		if s.phase == PhaseWaiting {
			s.phase = PhaseActive
			log.Info("Entered active-hours window")
		}
	} else {
		if s.phase == PhaseActive {
			s.phase = PhaseWaiting
			log.Info("Left active-hours window")
		}
		s.persist()
		return
	}

	if now.Before(s.state.NextChange) {
		s.persist()
		return
	}

	if s.change(ctx, now) {
		s.state.NextChange = now.Add(s.nextInterval())
		log.WithFields(log.Fields{
			"next": s.state.NextChange.Format(time.RFC3339),
		}).Info("Next change scheduled")
	}
	s.persist()
}

// change performs one MAC change attempt and records its outcome. Returns
// true on success; failures are retried at the next regular tick.
func (s *Scheduler) change(ctx context.Context, now time.Time) bool {
	entry := models.ChangeLogEntry{
		Timestamp: now,
		Interface: s.conf.Interface,
	}

	previous, err := s.ctrl.CurrentMAC(ctx, s.conf.Interface)
	if err == nil {
		entry.Previous = previous.String()
		if s.state.OriginalMAC == "" {
			s.state.OriginalMAC = previous.String()
		}
	}

	addr, err := mac.Random()
	if err == nil {
		entry.New = addr.String()
		err = s.ctrl.Apply(ctx, s.conf.Interface, addr)
	}

	if err != nil {
		entry.Success = false
		entry.Reason = models.KindOf(err).String()
		s.state.Failures++
		log.WithFields(log.Fields{
			"interface": s.conf.Interface,
			"reason":    entry.Reason,
		}).Warnf("Scheduled MAC change failed: %v", err)
	} else {
		entry.Success = true
		s.state.Successes++
		s.state.LastChange = now
		s.state.LastMAC = addr.String()
	}

	if s.clog != nil {
		if err := s.clog.Append(entry); err != nil {
			log.Warnf("Failed to append change log entry: %v", err)
		}
	}
	return entry.Success
}

// nextInterval computes the wait until the following change.
func (s *Scheduler) nextInterval() time.Duration {
	if s.conf.Mode == ModeRandom {
		span := s.conf.MaxMinutes - s.conf.MinMinutes
		minutes := s.conf.MinMinutes
		if span > 0 {
			minutes += s.rng.Intn(span + 1)
		}
		return time.Duration(minutes) * time.Minute
	}
	return time.Duration(s.conf.IntervalMinutes) * time.Minute
}

// Stop transitions to Stopping, persists the final run state and settles in
// Idle. Safe to call from any phase; an in-flight change completes first
// because the loop is single-threaded.
func (s *Scheduler) Stop() {
	if s.phase == PhaseIdle {
		return
	}
	s.phase = PhaseStopping
	if s.state != nil {
		s.state.Running = false
		s.state.PID = 0
		s.persist()
	}
	s.phase = PhaseIdle
	log.Info("Scheduler stopped")
}

func (s *Scheduler) persist() {
	if err := SaveRunState(s.appCfg.StateDir, s.state); err != nil {
		log.Warnf("Failed to persist run state: %v", err)
	}
}

// Run executes the change loop until the context is cancelled or a stop
// sentinel appears in the state directory. The sentinel gives scheduler-stop
// a portable signal path that works without POSIX signals.
func (s *Scheduler) Run(ctx context.Context) error {
	stopFile := filepath.Join(s.appCfg.StateDir, stopFileName)
	os.Remove(stopFile) // stale sentinel from an earlier run

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.appCfg.StateDir); err != nil {
		return err
	}

	if err := writePIDFile(s.appCfg.StateDir); err != nil {
		log.Warnf("Failed to write pid file: %v", err)
	}
	defer removePIDFile(s.appCfg.StateDir)

	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	s.Tick(ctx, time.Now())
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx, time.Now())

		case event, ok := <-watcher.Events:
			if !ok {
				s.Stop()
				return nil
			}
			if event.Name == stopFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				log.Info("Stop requested")
				os.Remove(stopFile)
				s.Stop()
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				s.Stop()
				return nil
			}
			log.Warnf("State directory watcher error: %v", err)

		case <-ctx.Done():
			s.Stop()
			return nil
		}
	}
}

// Status reads the persisted records without requiring a running scheduler
// process.
func Status(appCfg *config.Config) (*Config, *RunState, error) {
	conf, err := LoadConfig(appCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	state, err := LoadRunState(appCfg.StateDir)
	if err != nil {
		return conf, nil, err
	}
	return conf, state, nil
}
