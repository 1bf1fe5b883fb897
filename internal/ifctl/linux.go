package ifctl

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"macshift/internal/mac"
	"macshift/pkg/models"
)

// linuxPlatform drives interfaces with the ip tool, falling back to the
// legacy ifconfig when ip is not installed.
type linuxPlatform struct {
	settle time.Duration
}

var (
	ipLinkHeaderRe = regexp.MustCompile(`^\d+:\s+([^:@]+)`)
	linkEtherRe    = regexp.MustCompile(`link/ether\s+([0-9A-Fa-f:]{17})`)
)

func (p *linuxPlatform) list(ctx context.Context, r Runner) ([]models.NetworkInterface, error) {
	output, err := r.Run(ctx, "ip", "link", "show")
	if err == nil {
		return parseIPLink(string(output)), nil
	}
	if !models.IsKind(err, models.KindCommandNotFound) {
		return nil, err
	}

	log.Debug("ip not found, falling back to ifconfig")
	output, err = r.Run(ctx, "ifconfig", "-a")
	if err != nil {
		return nil, err
	}
	return parseIfconfig(string(output)), nil
}

// parseIPLink extracts name/MAC pairs from "ip link show" output. Interface
// headers start at column zero; the link/ether line follows indented.
func parseIPLink(output string) []models.NetworkInterface {
	ifaces := []models.NetworkInterface{}
	current := ""
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, " ") {
			if m := ipLinkHeaderRe.FindStringSubmatch(line); m != nil {
				current = strings.TrimSpace(m[1])
			}
			continue
		}
		if current == "" {
			continue
		}
		if m := linkEtherRe.FindStringSubmatch(line); m != nil {
			ifaces = append(ifaces, models.NetworkInterface{
				Name:     current,
				MAC:      mac.Normalize(m[1]),
				Wireless: isLinuxWireless(current),
			})
			current = ""
		}
	}
	return ifaces
}

// parseIfconfig extracts name/MAC pairs from ifconfig output on Linux and
// macOS. Both "ether" (modern) and "HWaddr" (legacy) markers occur.
func parseIfconfig(output string) []models.NetworkInterface {
	ifaces := []models.NetworkInterface{}
	current := ""
	macRe := regexp.MustCompile(`(?:ether|HWaddr)\s+([0-9A-Fa-f:]{17})`)
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			name := line
			if idx := strings.IndexAny(line, ": "); idx > 0 {
				name = line[:idx]
			}
			current = name
			continue
		}
		if current == "" {
			continue
		}
		if m := macRe.FindStringSubmatch(line); m != nil {
			ifaces = append(ifaces, models.NetworkInterface{
				Name:     current,
				MAC:      mac.Normalize(m[1]),
				Wireless: isLinuxWireless(current),
			})
			current = ""
		}
	}
	return ifaces
}

func isLinuxWireless(name string) bool {
	return strings.HasPrefix(name, "wl")
}

func (p *linuxPlatform) apply(ctx context.Context, r Runner, iface models.NetworkInterface, addr mac.Addr) error {
	lower := strings.ToLower(addr.String())

	// Primary: ip link down / set address / up.
	sequence := [][]string{
		{"ip", "link", "set", "dev", iface.Name, "down"},
		{"ip", "link", "set", "dev", iface.Name, "address", lower},
		{"ip", "link", "set", "dev", iface.Name, "up"},
	}
	err := p.runSequence(ctx, r, sequence)
	if err == nil {
		return nil
	}
	if !models.IsKind(err, models.KindCommandNotFound) {
		return err
	}

	// Fallback: legacy ifconfig.
	log.Debug("ip not found, applying with ifconfig")
	sequence = [][]string{
		{"ifconfig", iface.Name, "down"},
		{"ifconfig", iface.Name, "hw", "ether", lower},
		{"ifconfig", iface.Name, "up"},
	}
	return p.runSequence(ctx, r, sequence)
}

func (p *linuxPlatform) runSequence(ctx context.Context, r Runner, sequence [][]string) error {
	for i, cmd := range sequence {
		if _, err := r.Run(ctx, cmd[0], cmd[1:]...); err != nil {
			if i > 0 && i < len(sequence)-1 && !models.IsKind(err, models.KindCommandNotFound) {
				recoverUp(ctx, r, sequence[len(sequence)-1])
			}
			return fmt.Errorf("%s failed: %w", strings.Join(cmd, " "), err)
		}
		pause(ctx, p.settle)
	}
	return nil
}

// recoverUp retries the final up step after a mid-sequence failure; the down
// step already ran, so returning without it strands the interface offline.
func recoverUp(ctx context.Context, r Runner, up []string) {
	if _, err := r.Run(ctx, up[0], up[1:]...); err != nil {
		log.Warnf("Failed to bring interface back up after failed MAC set: %v", err)
	}
}

func (p *linuxPlatform) matchName(want, have string) bool {
	// Linux interface names are case-sensitive.
	return want == have
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
