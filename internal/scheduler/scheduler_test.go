package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macshift/internal/changelog"
	"macshift/internal/config"
	"macshift/internal/mac"
	"macshift/pkg/models"
)

// stubController records calls and simulates an adapter whose MAC changes on
// Apply.
type stubController struct {
	current  mac.Addr
	applied  []mac.Addr
	applyErr error
	restored []string
}

func (s *stubController) List(context.Context) ([]models.NetworkInterface, error) {
	return []models.NetworkInterface{{Name: "eth0", MAC: s.current.String()}}, nil
}

func (s *stubController) CurrentMAC(_ context.Context, name string) (mac.Addr, error) {
	if name != "eth0" {
		return mac.Addr{}, models.NewFault(models.KindInterfaceNotFound, name, nil)
	}
	return s.current, nil
}

func (s *stubController) Apply(_ context.Context, name string, addr mac.Addr) error {
	s.applied = append(s.applied, addr)
	if s.applyErr != nil {
		return s.applyErr
	}
	s.current = addr
	return nil
}

func (s *stubController) Restore(_ context.Context, name string) error {
	s.restored = append(s.restored, name)
	return nil
}

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.ChangeLogFile = filepath.Join(cfg.StateDir, "changes.log")
	return cfg
}

func testScheduler(t *testing.T, conf *Config) (*Scheduler, *stubController) {
	t.Helper()
	appCfg := testAppConfig(t)
	original, err := mac.Parse("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	ctrl := &stubController{current: original}
	s := New(appCfg, ctrl, changelog.New(appCfg.ChangeLogFile))
	s.conf = conf
	s.state = &RunState{Running: true}
	s.phase = PhaseActive
	return s, ctrl
}

func allDayConfig() *Config {
	return &Config{
		Interface:       "eth0",
		Mode:            ModeFixed,
		IntervalMinutes: 30,
		ActiveStart:     "00:00",
		ActiveEnd:       "23:59",
		Enabled:         true,
	}
}

func nightConfig() *Config {
	conf := allDayConfig()
	conf.ActiveStart = "22:00"
	conf.ActiveEnd = "06:00"
	return conf
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 14, hour, minute, 0, 0, time.Local)
}

func TestStartRequiresElevation(t *testing.T) {
	appCfg := testAppConfig(t)
	s := New(appCfg, &stubController{}, nil)

	err := s.Start(false)
	require.Error(t, err)
	assert.Equal(t, models.KindPrivilegeRequired, models.KindOf(err))
	assert.Equal(t, PhaseIdle, s.Phase())
}

func TestStartConfigMissing(t *testing.T) {
	appCfg := testAppConfig(t)
	s := New(appCfg, &stubController{}, nil)

	err := s.Start(true)
	require.Error(t, err)
	assert.Equal(t, models.KindConfigMissing, models.KindOf(err))
}

func TestStartDisabledConfig(t *testing.T) {
	appCfg := testAppConfig(t)
	conf := allDayConfig()
	conf.Enabled = false
	require.NoError(t, SaveConfig(appCfg.StateDir, conf))

	s := New(appCfg, &stubController{}, nil)
	err := s.Start(true)
	require.Error(t, err)
	assert.Equal(t, models.KindConfigInvalid, models.KindOf(err))
}

func TestStartTransitionsAndPersists(t *testing.T) {
	appCfg := testAppConfig(t)
	require.NoError(t, SaveConfig(appCfg.StateDir, allDayConfig()))

	original, err := mac.Parse("AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	s := New(appCfg, &stubController{current: original}, nil)
	require.NoError(t, s.Start(true))
	assert.Equal(t, PhaseActive, s.Phase())

	state, err := LoadRunState(appCfg.StateDir)
	require.NoError(t, err)
	assert.True(t, state.Running)
	assert.False(t, state.NextChange.IsZero())

	s.Stop()
	assert.Equal(t, PhaseIdle, s.Phase())

	state, err = LoadRunState(appCfg.StateDir)
	require.NoError(t, err)
	assert.False(t, state.Running)
}

func TestTickAppliesInsideWindow(t *testing.T) {
	s, ctrl := testScheduler(t, allDayConfig())
	s.state.NextChange = at(12, 0)

	s.Tick(context.Background(), at(12, 0))
	require.Len(t, ctrl.applied, 1)
	assert.Equal(t, 1, s.state.Successes)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", s.state.OriginalMAC)
	assert.Equal(t, ctrl.applied[0].String(), s.state.LastMAC)
}

func TestTickNeverAppliesOutsideWindow(t *testing.T) {
	s, ctrl := testScheduler(t, nightConfig())
	s.state.NextChange = at(0, 0)

	// 10:00 is outside 22:00-06:00 even though the change is overdue.
	s.Tick(context.Background(), at(10, 0))
	assert.Empty(t, ctrl.applied)
	assert.Equal(t, PhaseWaiting, s.Phase())
}

func TestTickMidnightWrappingWindow(t *testing.T) {
	s, ctrl := testScheduler(t, nightConfig())
	s.state.NextChange = at(0, 0)

	s.Tick(context.Background(), at(23, 30))
	require.Len(t, ctrl.applied, 1, "23:30 is inside 22:00-06:00")

	s.state.NextChange = at(1, 0)
	s.Tick(context.Background(), at(2, 0))
	require.Len(t, ctrl.applied, 2, "02:00 is inside 22:00-06:00")
}

func TestFixedIntervalScenario(t *testing.T) {
	s, ctrl := testScheduler(t, allDayConfig())
	start := at(9, 0)
	s.state.NextChange = start

	s.Tick(context.Background(), start)
	require.Len(t, ctrl.applied, 1)
	assert.Equal(t, start.Add(30*time.Minute), s.state.NextChange)

	s.Tick(context.Background(), start.Add(29*time.Minute))
	assert.Len(t, ctrl.applied, 1, "no change before the interval elapses")

	s.Tick(context.Background(), start.Add(31*time.Minute))
	assert.Len(t, ctrl.applied, 2)
	assert.Equal(t, start.Add(61*time.Minute), s.state.NextChange)
}

func TestRandomIntervalBounds(t *testing.T) {
	conf := allDayConfig()
	conf.Mode = ModeRandom
	conf.MinMinutes = 10
	conf.MaxMinutes = 20
	s, _ := testScheduler(t, conf)

	for i := 0; i < 1000; i++ {
		interval := s.nextInterval()
		assert.GreaterOrEqual(t, interval, 10*time.Minute)
		assert.LessOrEqual(t, interval, 20*time.Minute)
	}
}

func TestFailureRetriesNextTick(t *testing.T) {
	s, ctrl := testScheduler(t, allDayConfig())
	ctrl.applyErr = &models.Fault{Kind: models.KindVerificationFailed, Interface: "eth0"}
	start := at(9, 0)
	s.state.NextChange = start

	s.Tick(context.Background(), start)
	assert.Equal(t, 1, s.state.Failures)
	assert.Equal(t, start, s.state.NextChange, "failures must not reschedule")

	s.Tick(context.Background(), start.Add(time.Minute))
	assert.Equal(t, 2, s.state.Failures)
	require.Len(t, ctrl.applied, 2)

	entries, err := s.clog.Tail(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Success)
	assert.Equal(t, "verification-failed", entries[0].Reason)
}

func TestBoundaryCrossingKeepsNextChange(t *testing.T) {
	s, _ := testScheduler(t, nightConfig())
	next := at(23, 0)
	s.state.NextChange = next

	s.Tick(context.Background(), at(12, 0))
	assert.Equal(t, PhaseWaiting, s.Phase())
	assert.Equal(t, next, s.state.NextChange)

	s.Tick(context.Background(), at(22, 30))
	assert.Equal(t, PhaseActive, s.Phase())
}

func TestChangeLogRecordsTransitions(t *testing.T) {
	s, ctrl := testScheduler(t, allDayConfig())
	s.state.NextChange = at(9, 0)
	s.Tick(context.Background(), at(9, 0))

	entries, err := s.clog.Tail(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "eth0", entries[0].Interface)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", entries[0].Previous)
	assert.Equal(t, ctrl.applied[0].String(), entries[0].New)
	assert.True(t, entries[0].Success)
}

func TestStatusWithoutRunningProcess(t *testing.T) {
	appCfg := testAppConfig(t)
	require.NoError(t, SaveConfig(appCfg.StateDir, allDayConfig()))
	require.NoError(t, SaveRunState(appCfg.StateDir, &RunState{
		Running:   false,
		LastMAC:   "02:11:22:33:44:55",
		Successes: 7,
	}))

	conf, state, err := Status(appCfg)
	require.NoError(t, err)
	assert.Equal(t, "eth0", conf.Interface)
	assert.Equal(t, 7, state.Successes)
	assert.False(t, state.Running)
}

func TestRunStopsOnSentinel(t *testing.T) {
	appCfg := testAppConfig(t)
	s := New(appCfg, &stubController{}, nil)
	s.tickEvery = 50 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	// Give the watcher a moment, then drop the sentinel.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(StopFilePath(appCfg.StateDir), []byte("1"), 0644))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler loop did not stop on sentinel")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	appCfg := testAppConfig(t)
	s := New(appCfg, &stubController{}, nil)
	s.tickEvery = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler loop did not stop on context cancel")
	}
}

func TestStartRestoresPersistedState(t *testing.T) {
	appCfg := testAppConfig(t)
	require.NoError(t, SaveConfig(appCfg.StateDir, allDayConfig()))
	next := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	require.NoError(t, SaveRunState(appCfg.StateDir, &RunState{
		OriginalMAC: "AA:BB:CC:DD:EE:FF",
		NextChange:  next,
		Successes:   3,
	}))

	s := New(appCfg, &stubController{}, nil)
	require.NoError(t, s.Start(true))
	assert.Equal(t, 3, s.state.Successes)
	assert.True(t, s.state.NextChange.Equal(next),
		"a persisted next-change timestamp must survive restarts")
}
