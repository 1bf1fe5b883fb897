package ifctl

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"macshift/internal/mac"
	"macshift/pkg/models"
)

// airportTool disassociates the Wi-Fi radio; changing the MAC of an
// associated wireless adapter fails silently on most macOS releases.
const airportTool = "/System/Library/PrivateFrameworks/Apple80211.framework/Versions/Current/Resources/airport"

// darwinPlatform drives interfaces with ifconfig's ether subcommand.
type darwinPlatform struct {
	settle time.Duration
}

func (p *darwinPlatform) list(ctx context.Context, r Runner) ([]models.NetworkInterface, error) {
	output, err := r.Run(ctx, "ifconfig", "-a")
	if err != nil {
		return nil, err
	}

	ifaces := parseIfconfig(string(output))
	for i := range ifaces {
		ifaces[i].Wireless = isDarwinWireless(ifaces[i].Name)
	}
	return ifaces, nil
}

// isDarwinWireless marks en* adapters, which covers the built-in Wi-Fi
// interface on Mac hardware. Wired thunderbolt adapters also match; the
// extra disconnect is harmless for those.
func isDarwinWireless(name string) bool {
	return strings.HasPrefix(name, "en")
}

func (p *darwinPlatform) apply(ctx context.Context, r Runner, iface models.NetworkInterface, addr mac.Addr) error {
	if iface.Wireless {
		// Best effort; older releases ship without the airport tool.
		if _, err := r.Run(ctx, airportTool, "-z"); err != nil {
			log.WithFields(log.Fields{
				"interface": iface.Name,
			}).Debugf("Wi-Fi disassociate skipped: %v", err)
		} else {
			pause(ctx, p.settle)
		}
	}

	lower := strings.ToLower(addr.String())
	sequence := [][]string{
		{"ifconfig", iface.Name, "down"},
		{"ifconfig", iface.Name, "ether", lower},
		{"ifconfig", iface.Name, "up"},
	}
	for i, cmd := range sequence {
		if _, err := r.Run(ctx, cmd[0], cmd[1:]...); err != nil {
			if i > 0 && i < len(sequence)-1 {
				recoverUp(ctx, r, sequence[len(sequence)-1])
			}
			return fmt.Errorf("%s failed: %w", strings.Join(cmd, " "), err)
		}
		pause(ctx, p.settle)
	}
	return nil
}

func (p *darwinPlatform) matchName(want, have string) bool {
	// BSD interface names are case-sensitive.
	return want == have
}
