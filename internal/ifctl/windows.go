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

// windowsPlatform drives adapters through PowerShell's NetAdapter cmdlets.
// Enumeration falls back to ipconfig when PowerShell yields nothing.
type windowsPlatform struct {
	settle time.Duration
}

const listAdaptersScript = `Get-NetAdapter | Where-Object {$_.MacAddress} | ForEach-Object { "$($_.Name)|$($_.MacAddress)|$($_.PhysicalMediaType)" }`

func (p *windowsPlatform) list(ctx context.Context, r Runner) ([]models.NetworkInterface, error) {
	output, psErr := r.Run(ctx, "powershell", "-NoProfile", "-Command", listAdaptersScript)
	if psErr == nil {
		if ifaces := parseNetAdapterList(string(output)); len(ifaces) > 0 {
			return ifaces, nil
		}
	}

	log.Debug("Get-NetAdapter yielded nothing, falling back to ipconfig")
	output, err := r.Run(ctx, "ipconfig", "/all")
	if err != nil {
		if psErr != nil {
			return nil, fmt.Errorf("powershell and ipconfig both failed: %w", psErr)
		}
		return nil, err
	}
	return parseIpconfigAll(string(output)), nil
}

// parseNetAdapterList reads "Name|MacAddress|PhysicalMediaType" lines.
func parseNetAdapterList(output string) []models.NetworkInterface {
	ifaces := []models.NetworkInterface{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, "|") {
			continue
		}
		fields := strings.SplitN(line, "|", 3)
		if len(fields) < 2 {
			continue
		}
		name := strings.TrimSpace(fields[0])
		addr := mac.Normalize(strings.TrimSpace(fields[1]))
		if name == "" || len(addr) != 17 {
			continue
		}
		wireless := len(fields) == 3 && strings.Contains(fields[2], "802.11")
		ifaces = append(ifaces, models.NetworkInterface{
			Name:     name,
			MAC:      addr,
			Wireless: wireless,
		})
	}
	return ifaces
}

var (
	ipconfigAdapterRe  = regexp.MustCompile(`(?i)adapter\s+(.+):\s*$`)
	ipconfigPhysicalRe = regexp.MustCompile(`Physical Address[ .]*:\s*([0-9A-Fa-f-]{17})`)
)

// parseIpconfigAll reads adapter headers and their Physical Address lines
// from "ipconfig /all" output.
func parseIpconfigAll(output string) []models.NetworkInterface {
	ifaces := []models.NetworkInterface{}
	current := ""
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if m := ipconfigAdapterRe.FindStringSubmatch(line); m != nil {
			current = strings.TrimSpace(m[1])
			continue
		}
		if current == "" {
			continue
		}
		if m := ipconfigPhysicalRe.FindStringSubmatch(line); m != nil {
			ifaces = append(ifaces, models.NetworkInterface{
				Name:     current,
				MAC:      mac.Normalize(m[1]),
				Wireless: strings.Contains(strings.ToLower(current), "wi-fi") || strings.Contains(strings.ToLower(current), "wireless"),
			})
			current = ""
		}
	}
	return ifaces
}

// manualChangeHint is surfaced when the adapter rejects the property method.
const manualChangeHint = "adapter does not accept the NetAdapter MAC property; " +
	"set the 'Network Address' value manually in Device Manager " +
	"(adapter Properties > Advanced) and restart the adapter"

func (p *windowsPlatform) apply(ctx context.Context, r Runner, iface models.NetworkInterface, addr mac.Addr) error {
	quoted := fmt.Sprintf("%q", iface.Name)

	disable := fmt.Sprintf("Disable-NetAdapter -Name %s -Confirm:$false", quoted)
	set := fmt.Sprintf("Set-NetAdapter -Name %s -MacAddress %q -Confirm:$false", quoted, addr.Dashed())
	enable := fmt.Sprintf("Enable-NetAdapter -Name %s -Confirm:$false", quoted)

	if _, err := r.Run(ctx, "powershell", "-NoProfile", "-Command", disable); err != nil {
		return fmt.Errorf("disable adapter failed: %w", err)
	}
	pause(ctx, p.settle)

	if _, setErr := r.Run(ctx, "powershell", "-NoProfile", "-Command", set); setErr != nil {
		// Re-enable before reporting; leaving the adapter down strands the
		// machine offline.
		if _, err := r.Run(ctx, "powershell", "-NoProfile", "-Command", enable); err != nil {
			log.WithFields(log.Fields{
				"interface": iface.Name,
			}).Warnf("Failed to re-enable adapter after failed MAC set: %v", err)
		}
		return &models.Fault{
			Kind:      models.KindOf(setErr),
			Interface: iface.Name,
			Detail:    manualChangeHint,
			Err:       setErr,
		}
	}
	pause(ctx, p.settle)

	if _, err := r.Run(ctx, "powershell", "-NoProfile", "-Command", enable); err != nil {
		return fmt.Errorf("enable adapter failed: %w", err)
	}
	pause(ctx, p.settle)
	return nil
}

// matchName accepts a case-insensitive match; Windows adapter names are not
// case-sensitive in practice. The controller prefers exact matches first.
func (p *windowsPlatform) matchName(want, have string) bool {
	return strings.EqualFold(want, have)
}
