package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"macshift/pkg/models"
)

// Mode selects how the next change interval is computed.
type Mode string

const (
	// ModeFixed waits a constant number of minutes between changes.
	ModeFixed Mode = "fixed"
	// ModeRandom draws the wait uniformly from [MinMinutes, MaxMinutes].
	ModeRandom Mode = "random"
)

// File names inside the state directory.
const (
	configFileName   = "scheduler.ini"
	runStateFileName = "scheduler-state.ini"
	pidFileName      = "scheduler.pid"
	stopFileName     = "scheduler.stop"
)

// Config is the persisted scheduler configuration record.
type Config struct {
	Interface       string
	Mode            Mode
	IntervalMinutes int
	MinMinutes      int
	MaxMinutes      int
	ActiveStart     string
	ActiveEnd       string
	Enabled         bool
}

// DefaultSchedulerConfig returns a configuration covering the whole day with
// a half-hour fixed interval.
func DefaultSchedulerConfig() *Config {
	return &Config{
		Mode:            ModeFixed,
		IntervalMinutes: 30,
		MinMinutes:      15,
		MaxMinutes:      60,
		ActiveStart:     "00:00",
		ActiveEnd:       "23:59",
		Enabled:         false,
	}
}

// Validate checks the invariants of the record.
func (c *Config) Validate() error {
	invalid := func(detail string) error {
		return &models.Fault{Kind: models.KindConfigInvalid, Detail: detail}
	}

	if c.Interface == "" {
		return invalid("interface name is required")
	}
	switch c.Mode {
	case ModeFixed:
		if c.IntervalMinutes <= 0 {
			return invalid("fixed interval must be positive")
		}
	case ModeRandom:
		if c.MinMinutes <= 0 {
			return invalid("random interval minimum must be positive")
		}
		if c.MinMinutes > c.MaxMinutes {
			return invalid("random interval minimum exceeds maximum")
		}
	default:
		return invalid(fmt.Sprintf("unknown mode %q", c.Mode))
	}
	if _, err := parseClock(c.ActiveStart); err != nil {
		return invalid(fmt.Sprintf("active-hours start: %v", err))
	}
	if _, err := parseClock(c.ActiveEnd); err != nil {
		return invalid(fmt.Sprintf("active-hours end: %v", err))
	}
	return nil
}

// parseClock converts "HH:MM" local time into minutes since midnight.
func parseClock(text string) (int, error) {
	parts := strings.Split(text, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", text)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", text)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", text)
	}
	return hour*60 + minute, nil
}

// InActiveWindow reports whether now falls inside the active-hours window.
// A start later than the end wraps past midnight (22:00-06:00 spans two
// calendar days). Both bounds are inclusive.
func (c *Config) InActiveWindow(now time.Time) bool {
	start, err := parseClock(c.ActiveStart)
	if err != nil {
		return false
	}
	end, err := parseClock(c.ActiveEnd)
	if err != nil {
		return false
	}
	minute := now.Hour()*60 + now.Minute()

	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

// ConfigPath returns the scheduler config record path under a state dir.
func ConfigPath(stateDir string) string {
	return filepath.Join(stateDir, configFileName)
}

// LoadConfig reads the persisted scheduler configuration.
func LoadConfig(stateDir string) (*Config, error) {
	path := ConfigPath(stateDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, &models.Fault{Kind: models.KindConfigMissing, Detail: path}
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, &models.Fault{Kind: models.KindConfigInvalid, Err: err}
	}

	cfg := DefaultSchedulerConfig()
	section := file.Section("scheduler")
	cfg.Interface = section.Key("interface").MustString(cfg.Interface)
	cfg.Mode = Mode(section.Key("mode").MustString(string(cfg.Mode)))
	cfg.IntervalMinutes = section.Key("interval_minutes").MustInt(cfg.IntervalMinutes)
	cfg.MinMinutes = section.Key("min_minutes").MustInt(cfg.MinMinutes)
	cfg.MaxMinutes = section.Key("max_minutes").MustInt(cfg.MaxMinutes)
	cfg.ActiveStart = section.Key("active_start").MustString(cfg.ActiveStart)
	cfg.ActiveEnd = section.Key("active_end").MustString(cfg.ActiveEnd)
	cfg.Enabled = section.Key("enabled").MustBool(cfg.Enabled)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes the scheduler configuration record.
func SaveConfig(stateDir string, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	file := ini.Empty()
	section := file.Section("scheduler")
	section.Key("interface").SetValue(cfg.Interface)
	section.Key("mode").SetValue(string(cfg.Mode))
	section.Key("interval_minutes").SetValue(strconv.Itoa(cfg.IntervalMinutes))
	section.Key("min_minutes").SetValue(strconv.Itoa(cfg.MinMinutes))
	section.Key("max_minutes").SetValue(strconv.Itoa(cfg.MaxMinutes))
	section.Key("active_start").SetValue(cfg.ActiveStart)
	section.Key("active_end").SetValue(cfg.ActiveEnd)
	section.Key("enabled").SetValue(strconv.FormatBool(cfg.Enabled))

	if err := file.SaveTo(ConfigPath(stateDir)); err != nil {
		return fmt.Errorf("failed to save scheduler config: %w", err)
	}
	return nil
}

// RunState is the persisted run-state record, overwritten each tick and only
// mutated by the scheduler loop.
type RunState struct {
	Running     bool
	PID         int
	LastChange  time.Time
	NextChange  time.Time
	LastMAC     string
	OriginalMAC string
	Successes   int
	Failures    int
}

// RunStatePath returns the run-state record path under a state dir.
func RunStatePath(stateDir string) string {
	return filepath.Join(stateDir, runStateFileName)
}

// LoadRunState reads the persisted run state, returning a zero state when
// none has been written yet.
func LoadRunState(stateDir string) (*RunState, error) {
	path := RunStatePath(stateDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &RunState{}, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load run state: %w", err)
	}

	state := &RunState{}
	section := file.Section("state")
	state.Running = section.Key("running").MustBool(false)
	state.PID = section.Key("pid").MustInt(0)
	state.LastMAC = section.Key("last_mac").String()
	state.OriginalMAC = section.Key("original_mac").String()
	state.Successes = section.Key("successes").MustInt(0)
	state.Failures = section.Key("failures").MustInt(0)
	if v := section.Key("last_change").String(); v != "" {
		state.LastChange, _ = time.Parse(time.RFC3339, v)
	}
	if v := section.Key("next_change").String(); v != "" {
		state.NextChange, _ = time.Parse(time.RFC3339, v)
	}
	return state, nil
}

// SaveRunState overwrites the run-state record.
func SaveRunState(stateDir string, state *RunState) error {
	file := ini.Empty()
	section := file.Section("state")
	section.Key("running").SetValue(strconv.FormatBool(state.Running))
	section.Key("pid").SetValue(strconv.Itoa(state.PID))
	section.Key("last_mac").SetValue(state.LastMAC)
	section.Key("original_mac").SetValue(state.OriginalMAC)
	section.Key("successes").SetValue(strconv.Itoa(state.Successes))
	section.Key("failures").SetValue(strconv.Itoa(state.Failures))
	if !state.LastChange.IsZero() {
		section.Key("last_change").SetValue(state.LastChange.Format(time.RFC3339))
	}
	if !state.NextChange.IsZero() {
		section.Key("next_change").SetValue(state.NextChange.Format(time.RFC3339))
	}

	if err := file.SaveTo(RunStatePath(stateDir)); err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}
