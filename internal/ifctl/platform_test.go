package ifctl

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macshift/internal/config"
	"macshift/internal/mac"
	"macshift/pkg/models"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SettleDelay = 0
	return cfg
}

const netAdapterFixture = `Ethernet|00-1A-2B-3C-4D-5E|802.3
Wi-Fi|AA-BB-CC-DD-EE-FF|Native 802.11

`

const ipconfigFixture = `Windows IP Configuration

   Host Name . . . . . . . . . . . . : desktop

Ethernet adapter Ethernet:

   Connection-specific DNS Suffix  . :
   Physical Address. . . . . . . . . : 00-1A-2B-3C-4D-5E
   DHCP Enabled. . . . . . . . . . . : Yes

Wireless LAN adapter Wi-Fi:

   Physical Address. . . . . . . . . : AA-BB-CC-DD-EE-FF
`

func TestParseNetAdapterList(t *testing.T) {
	ifaces := parseNetAdapterList(netAdapterFixture)
	require.Len(t, ifaces, 2)
	assert.Equal(t, "Ethernet", ifaces[0].Name)
	assert.Equal(t, "00:1A:2B:3C:4D:5E", ifaces[0].MAC)
	assert.False(t, ifaces[0].Wireless)
	assert.Equal(t, "Wi-Fi", ifaces[1].Name)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", ifaces[1].MAC)
	assert.True(t, ifaces[1].Wireless)
}

func TestParseIpconfigAll(t *testing.T) {
	ifaces := parseIpconfigAll(ipconfigFixture)
	require.Len(t, ifaces, 2)
	assert.Equal(t, "Ethernet", ifaces[0].Name)
	assert.Equal(t, "00:1A:2B:3C:4D:5E", ifaces[0].MAC)
	assert.Equal(t, "Wi-Fi", ifaces[1].Name)
	assert.True(t, ifaces[1].Wireless)
}

func TestWindowsListFallsBackToIpconfig(t *testing.T) {
	runner := &fakeRunner{handler: func(name string, args []string) ([]byte, error) {
		if name == "powershell" {
			return []byte(""), nil
		}
		require.Equal(t, "ipconfig", name)
		return []byte(ipconfigFixture), nil
	}}
	ctrl := newTestController(&windowsPlatform{}, runner)

	ifaces, err := ctrl.List(context.Background())
	require.NoError(t, err)
	require.Len(t, ifaces, 2)
}

func TestWindowsNameMatchIsCaseInsensitive(t *testing.T) {
	runner := &fakeRunner{handler: func(name string, args []string) ([]byte, error) {
		return []byte(netAdapterFixture), nil
	}}
	ctrl := newTestController(&windowsPlatform{}, runner)

	addr, err := ctrl.CurrentMAC(context.Background(), "wi-fi")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", addr.String())
}

func TestWindowsApplyReenablesAdapterOnSetFailure(t *testing.T) {
	var sawEnable bool
	runner := &fakeRunner{handler: func(name string, args []string) ([]byte, error) {
		script := args[len(args)-1]
		switch {
		case strings.HasPrefix(script, "Get-NetAdapter"):
			return []byte(netAdapterFixture), nil
		case strings.HasPrefix(script, "Set-NetAdapter"):
			return nil, &models.Fault{Kind: models.KindUnknown}
		case strings.HasPrefix(script, "Enable-NetAdapter"):
			sawEnable = true
		}
		return nil, nil
	}}
	ctrl := newTestController(&windowsPlatform{}, runner)

	target, err := mac.Parse("02:11:22:33:44:55")
	require.NoError(t, err)
	err = ctrl.Apply(context.Background(), "Ethernet", target)
	require.Error(t, err)
	assert.True(t, sawEnable, "adapter must be re-enabled after a failed MAC set")

	var fault *models.Fault
	require.ErrorAs(t, err, &fault)
	assert.Contains(t, fault.Detail, "Device Manager")
}

// darwinState models a Mac whose Wi-Fi adapter accepts the ether command.
type darwinState struct {
	mac        string
	airportHit bool
}

func (s *darwinState) handler(name string, args []string) ([]byte, error) {
	if name == airportTool {
		s.airportHit = true
		return nil, nil
	}
	if name == "ifconfig" && len(args) == 1 && args[0] == "-a" {
		out := "en0: flags=8863<UP,BROADCAST,SMART,RUNNING> mtu 1500\n\tether " + s.mac + "\n"
		return []byte(out), nil
	}
	if name == "ifconfig" && len(args) == 3 && args[1] == "ether" {
		s.mac = args[2]
	}
	return nil, nil
}

func TestDarwinApplyDisconnectsWiFiFirst(t *testing.T) {
	state := &darwinState{mac: "aa:bb:cc:dd:ee:ff"}
	runner := &fakeRunner{handler: state.handler}
	ctrl := newTestController(&darwinPlatform{}, runner)

	target, err := mac.Parse("02:11:22:33:44:55")
	require.NoError(t, err)
	require.NoError(t, ctrl.Apply(context.Background(), "en0", target))

	assert.True(t, state.airportHit, "wireless apply must disassociate first")
	assert.Equal(t, "02:11:22:33:44:55", state.mac)
}

func TestDarwinApplyFailureBringsInterfaceBackUp(t *testing.T) {
	runner := &fakeRunner{handler: func(name string, args []string) ([]byte, error) {
		if name == "ifconfig" && len(args) == 1 && args[0] == "-a" {
			return []byte("bridge0: flags=8863<UP,BROADCAST> mtu 1500\n\tether aa:bb:cc:dd:ee:ff\n"), nil
		}
		if name == "ifconfig" && len(args) == 3 && args[1] == "ether" {
			return nil, classifyCommandError("ifconfig", assert.AnError, nil,
				"ifconfig: ioctl (SIOCAIFADDR): permission denied")
		}
		return nil, nil
	}}
	ctrl := newTestController(&darwinPlatform{}, runner)

	target, err := mac.Parse("02:11:22:33:44:55")
	require.NoError(t, err)
	err = ctrl.Apply(context.Background(), "bridge0", target)
	require.Error(t, err)

	lines := runner.commandLines()
	assert.Equal(t, "ifconfig bridge0 up", lines[len(lines)-1])
}

func TestDarwinApplySkipsAirportForWired(t *testing.T) {
	hit := false
	current := "aa:bb:cc:dd:ee:ff"
	runner := &fakeRunner{handler: func(name string, args []string) ([]byte, error) {
		if name == airportTool {
			hit = true
			return nil, nil
		}
		if name == "ifconfig" && len(args) == 1 {
			out := "bridge0: flags=8863<UP,BROADCAST> mtu 1500\n\tether " + current + "\n"
			return []byte(out), nil
		}
		if name == "ifconfig" && len(args) == 3 && args[1] == "ether" {
			current = args[2]
		}
		return nil, nil
	}}
	ctrl := newTestController(&darwinPlatform{}, runner)

	target, err := mac.Parse("02:11:22:33:44:55")
	require.NoError(t, err)
	require.NoError(t, ctrl.Apply(context.Background(), "bridge0", target))
	assert.False(t, hit)
}
