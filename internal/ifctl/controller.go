// Package ifctl controls network interfaces through the platform's native
// tooling. One variant exists per supported OS; all of them share the same
// lookup, backup, apply and verification flow.
package ifctl

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"macshift/internal/config"
	"macshift/internal/mac"
	"macshift/pkg/models"
)

// Controller is the interface-control capability consumed by the CLI and the
// scheduler. Implementations never terminate the process; every failure is
// returned as a classified fault.
type Controller interface {
	// List enumerates adapters and their current MAC. Read-only; an empty
	// system yields an empty slice, not an error.
	List(ctx context.Context) ([]models.NetworkInterface, error)

	// CurrentMAC reads the present hardware address of one interface.
	CurrentMAC(ctx context.Context, name string) (mac.Addr, error)

	// Apply sets the interface's MAC and verifies the change took effect by
	// re-reading it. Records the interface's original address before its
	// first change so Restore remains possible.
	Apply(ctx context.Context, name string, addr mac.Addr) error

	// Restore re-applies the original MAC recorded before the first Apply in
	// this process. Fails with no-backup-available when none was recorded.
	Restore(ctx context.Context, name string) error
}

// platform is the per-OS strategy behind the shared controller flow.
type platform interface {
	// list enumerates adapters, trying the platform's fallback query tool
	// before giving up.
	list(ctx context.Context, r Runner) ([]models.NetworkInterface, error)

	// apply performs the OS command sequence that sets the address. It does
	// not verify; the controller does.
	apply(ctx context.Context, r Runner, iface models.NetworkInterface, addr mac.Addr) error

	// matchName reports whether an enumerated name satisfies the requested
	// one. POSIX variants match exactly; Windows also accepts a
	// case-insensitive match.
	matchName(want, have string) bool
}

type controller struct {
	platform platform
	runner   Runner
	settle   time.Duration

	mu        sync.Mutex
	originals map[string]mac.Addr
}

// New selects the variant for the current OS once at startup. Callers never
// branch on platform afterwards.
func New(cfg *config.Config) (Controller, error) {
	return newForOS(runtime.GOOS, cfg)
}

func newForOS(goos string, cfg *config.Config) (Controller, error) {
	var p platform
	switch goos {
	case "linux":
		p = &linuxPlatform{settle: cfg.SettleDelay}
	case "darwin":
		p = &darwinPlatform{settle: cfg.SettleDelay}
	case "windows":
		p = &windowsPlatform{settle: cfg.SettleDelay}
	default:
		return nil, fmt.Errorf("unsupported operating system: %s", goos)
	}

	return &controller{
		platform:  p,
		runner:    NewRunner(cfg.CommandTimeout),
		settle:    cfg.SettleDelay,
		originals: make(map[string]mac.Addr),
	}, nil
}

func (c *controller) List(ctx context.Context) ([]models.NetworkInterface, error) {
	ifaces, err := c.platform.list(ctx, c.runner)
	if err != nil {
		return nil, &models.Fault{Kind: models.KindEnumerationError, Err: err}
	}
	return ifaces, nil
}

// lookup finds one enumerated interface by name.
func (c *controller) lookup(ctx context.Context, name string) (models.NetworkInterface, error) {
	ifaces, err := c.List(ctx)
	if err != nil {
		return models.NetworkInterface{}, err
	}

	// Exact match wins over any platform-specific relaxed match.
	for _, iface := range ifaces {
		if iface.Name == name {
			return iface, nil
		}
	}
	for _, iface := range ifaces {
		if c.platform.matchName(name, iface.Name) {
			return iface, nil
		}
	}

	return models.NetworkInterface{}, models.NewFault(models.KindInterfaceNotFound, name, nil)
}

func (c *controller) CurrentMAC(ctx context.Context, name string) (mac.Addr, error) {
	iface, err := c.lookup(ctx, name)
	if err != nil {
		return mac.Addr{}, err
	}

	addr, err := mac.Parse(iface.MAC)
	if err != nil {
		return mac.Addr{}, &models.Fault{
			Kind:      models.KindEnumerationError,
			Interface: name,
			Err:       fmt.Errorf("unparsable MAC %q: %w", iface.MAC, err),
		}
	}
	return addr, nil
}

func (c *controller) Apply(ctx context.Context, name string, addr mac.Addr) error {
	iface, err := c.lookup(ctx, name)
	if err != nil {
		return err
	}

	current, err := mac.Parse(iface.MAC)
	if err == nil {
		c.recordOriginal(iface.Name, current)
	}

	log.WithFields(log.Fields{
		"interface": iface.Name,
		"current":   iface.MAC,
		"target":    addr.String(),
	}).Info("Changing MAC address")

	if err := c.platform.apply(ctx, c.runner, iface, addr); err != nil {
		var f *models.Fault
		if errors.As(err, &f) {
			if f.Interface == "" {
				f.Interface = iface.Name
			}
			return err
		}
		return &models.Fault{Kind: models.KindUnknown, Interface: iface.Name, Err: err}
	}

	// The adapter needs a moment before the OS reports the new address.
	c.wait(ctx)

	observed, err := c.CurrentMAC(ctx, iface.Name)
	if err != nil {
		return &models.Fault{
			Kind:      models.KindVerificationFailed,
			Interface: iface.Name,
			Err:       fmt.Errorf("post-change read failed: %w", err),
		}
	}
	if observed != addr {
		return &models.Fault{
			Kind:      models.KindVerificationFailed,
			Interface: iface.Name,
			Observed:  observed.String(),
		}
	}

	log.WithFields(log.Fields{
		"interface": iface.Name,
		"mac":       addr.String(),
	}).Info("MAC address changed and verified")
	return nil
}

func (c *controller) Restore(ctx context.Context, name string) error {
	original, ok := c.original(name)
	if !ok {
		return models.NewFault(models.KindNoBackupAvailable, name, nil)
	}

	log.WithFields(log.Fields{
		"interface": name,
		"original":  original.String(),
	}).Info("Restoring original MAC address")
	return c.Apply(ctx, name, original)
}

// recordOriginal stores the first MAC seen for an interface; later calls are
// no-ops so the backup survives repeated changes.
func (c *controller) recordOriginal(name string, addr mac.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.originals[name]; !ok {
		c.originals[name] = addr
	}
}

func (c *controller) original(name string) (mac.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	addr, ok := c.originals[name]
	return addr, ok
}

// SeedOriginal pre-loads a backup address, used by the scheduler when its
// persisted run state carries the interface's original MAC across restarts.
func SeedOriginal(ctrl Controller, name string, addr mac.Addr) {
	if c, ok := ctrl.(*controller); ok {
		c.recordOriginal(name, addr)
	}
}

func (c *controller) wait(ctx context.Context) {
	if c.settle <= 0 {
		return
	}
	select {
	case <-time.After(c.settle):
	case <-ctx.Done():
	}
}
