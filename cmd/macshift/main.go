package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"

	"macshift/internal/changelog"
	"macshift/internal/config"
	"macshift/internal/ifctl"
	"macshift/internal/mac"
	"macshift/internal/privilege"
	"macshift/internal/scheduler"
	"macshift/pkg/models"
)

const configFile = "macshift.ini"

var (
	sha1ver   string
	buildTime string
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

Commands:
  list                       List network interfaces and their MAC addresses
  current -i <interface>     Show the current MAC of an interface
  set -i <interface> -m <mac>
                             Set an explicit MAC address
  randomize -i <interface>   Set a random locally-administered MAC
  restore -i <interface>     Restore the original MAC recorded this run
  log [-n <count>]           Show the most recent MAC change attempts
  scheduler-config [options] Show or update the scheduler configuration
  scheduler-start [-daemon]  Start the change scheduler
  scheduler-stop             Stop a running scheduler
  scheduler-status           Show scheduler configuration and run state
`, os.Args[0])
}

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return models.ExitFailure
	}

	cfg, err := config.New(configFile)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		return models.ExitFailure
	}
	if cfg.Debug {
		log.SetLevel(log.TraceLevel)
	}
	log.Debugf("macshift build %s, time %s", sha1ver, buildTime)

	command := os.Args[1]
	args := os.Args[2:]

	err = dispatch(cfg, command, args)
	if err != nil {
		log.Error(err)
	}
	return models.ExitCode(err)
}

func dispatch(cfg *config.Config, command string, args []string) error {
	switch command {
	case "list":
		return cmdList(cfg)
	case "current":
		return cmdCurrent(cfg, args)
	case "set":
		return cmdSet(cfg, args)
	case "randomize":
		return cmdRandomize(cfg, args)
	case "restore":
		return cmdRestore(cfg, args)
	case "log":
		return cmdLog(cfg, args)
	case "scheduler-config":
		return cmdSchedulerConfig(cfg, args)
	case "scheduler-start":
		return cmdSchedulerStart(cfg, args)
	case "scheduler-run":
		return cmdSchedulerRun(cfg)
	case "scheduler-stop":
		return scheduler.RequestStop(cfg.StateDir)
	case "scheduler-status":
		return cmdSchedulerStatus(cfg)
	case "help", "-h", "--help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func interfaceFlag(name string, args []string) (string, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	iface := fs.String("i", "", "Network interface name")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *iface == "" {
		return "", fmt.Errorf("%s: -i <interface> is required", name)
	}
	return *iface, nil
}

func cmdList(cfg *config.Config) error {
	ctrl, err := ifctl.New(cfg)
	if err != nil {
		return err
	}
	ifaces, err := ctrl.List(context.Background())
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("Network interfaces")
	t.AppendHeader(table.Row{"#", "Name", "MAC Address", "Wireless"})
	for i, iface := range ifaces {
		t.AppendRow(table.Row{i + 1, iface.Name, iface.MAC, iface.Wireless})
	}
	t.Render()
	return nil
}

func cmdCurrent(cfg *config.Config, args []string) error {
	iface, err := interfaceFlag("current", args)
	if err != nil {
		return err
	}
	ctrl, err := ifctl.New(cfg)
	if err != nil {
		return err
	}
	addr, err := ctrl.CurrentMAC(context.Background(), iface)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", iface, addr)
	return nil
}

func cmdSet(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	iface := fs.String("i", "", "Network interface name")
	macText := fs.String("m", "", "New MAC address (XX:XX:XX:XX:XX:XX)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *iface == "" || *macText == "" {
		return fmt.Errorf("set: -i <interface> and -m <mac> are required")
	}

	addr, err := mac.Parse(*macText)
	if err != nil {
		return err
	}
	return withElevation(func() error {
		ctrl, err := ifctl.New(cfg)
		if err != nil {
			return err
		}
		if err := ctrl.Apply(context.Background(), *iface, addr); err != nil {
			return err
		}
		fmt.Printf("MAC address of %s changed to %s\n", *iface, addr)
		return nil
	})
}

func cmdRandomize(cfg *config.Config, args []string) error {
	iface, err := interfaceFlag("randomize", args)
	if err != nil {
		return err
	}
	addr, err := mac.Random()
	if err != nil {
		return err
	}
	return withElevation(func() error {
		ctrl, err := ifctl.New(cfg)
		if err != nil {
			return err
		}
		if err := ctrl.Apply(context.Background(), iface, addr); err != nil {
			return err
		}
		fmt.Printf("MAC address of %s changed to %s\n", iface, addr)
		return nil
	})
}

func cmdRestore(cfg *config.Config, args []string) error {
	iface, err := interfaceFlag("restore", args)
	if err != nil {
		return err
	}
	return withElevation(func() error {
		ctrl, err := ifctl.New(cfg)
		if err != nil {
			return err
		}
		if err := ctrl.Restore(context.Background(), iface); err != nil {
			return err
		}
		fmt.Printf("Original MAC address of %s restored\n", iface)
		return nil
	})
}

func cmdLog(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("log", flag.ContinueOnError)
	count := fs.Int("n", 20, "Number of entries to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := changelog.New(cfg.ChangeLogFile).Tail(*count)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No MAC changes recorded yet")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("MAC change history")
	t.AppendHeader(table.Row{"Time", "Interface", "Previous", "New", "Result"})
	for _, entry := range entries {
		result := "ok"
		if !entry.Success {
			result = entry.Reason
		}
		t.AppendRow(table.Row{
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			entry.Interface, entry.Previous, entry.New, result,
		})
	}
	t.Render()
	return nil
}

// withElevation runs op when already elevated, otherwise asks for consent
// and relaunches the whole invocation with privileges. The relaunch carries
// a one-shot token so a failing elevation cannot loop.
func withElevation(op func() error) error {
	elevator := privilege.NewElevator()
	if elevator.IsElevated() {
		return op()
	}

	fmt.Fprintln(os.Stderr, "Administrator/root privileges are required for this operation.")
	fmt.Fprint(os.Stderr, "Restart with elevated privileges? (y/N): ")
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	consent := false
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		consent = true
	}

	relaunch, err := elevator.RequestElevation(os.Args[1:], consent)
	if err != nil {
		return err
	}

	cmd := exec.Command(relaunch.Path, relaunch.Args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), relaunch.Env...)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		return fmt.Errorf("elevated relaunch failed: %w", err)
	}
	os.Exit(models.ExitOK)
	return nil
}

func cmdSchedulerConfig(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("scheduler-config", flag.ContinueOnError)
	iface := fs.String("i", "", "Network interface name")
	mode := fs.String("mode", "", "Interval mode: fixed or random")
	interval := fs.Int("interval", 0, "Fixed interval in minutes")
	minMinutes := fs.Int("min", 0, "Random interval minimum in minutes")
	maxMinutes := fs.Int("max", 0, "Random interval maximum in minutes")
	start := fs.String("start", "", "Active hours start (HH:MM)")
	end := fs.String("end", "", "Active hours end (HH:MM)")
	enabled := fs.String("enabled", "", "Enable the scheduler: true or false")
	if err := fs.Parse(args); err != nil {
		return err
	}

	conf, err := scheduler.LoadConfig(cfg.StateDir)
	if models.IsKind(err, models.KindConfigMissing) {
		conf = scheduler.DefaultSchedulerConfig()
	} else if err != nil {
		return err
	}

	changed := false
	if *iface != "" {
		conf.Interface = *iface
		changed = true
	}
	if *mode != "" {
		conf.Mode = scheduler.Mode(*mode)
		changed = true
	}
	if *interval != 0 {
		conf.IntervalMinutes = *interval
		changed = true
	}
	if *minMinutes != 0 {
		conf.MinMinutes = *minMinutes
		changed = true
	}
	if *maxMinutes != 0 {
		conf.MaxMinutes = *maxMinutes
		changed = true
	}
	if *start != "" {
		conf.ActiveStart = *start
		changed = true
	}
	if *end != "" {
		conf.ActiveEnd = *end
		changed = true
	}
	if *enabled != "" {
		conf.Enabled = *enabled == "true"
		changed = true
	}

	if changed {
		if err := scheduler.SaveConfig(cfg.StateDir, conf); err != nil {
			return err
		}
		fmt.Println("Scheduler configuration saved")
	}

	printSchedulerConfig(conf)
	return nil
}

func printSchedulerConfig(conf *scheduler.Config) {
	fmt.Printf("interface:     %s\n", conf.Interface)
	fmt.Printf("mode:          %s\n", conf.Mode)
	if conf.Mode == scheduler.ModeRandom {
		fmt.Printf("interval:      %d-%d minutes\n", conf.MinMinutes, conf.MaxMinutes)
	} else {
		fmt.Printf("interval:      %d minutes\n", conf.IntervalMinutes)
	}
	fmt.Printf("active hours:  %s-%s\n", conf.ActiveStart, conf.ActiveEnd)
	fmt.Printf("enabled:       %t\n", conf.Enabled)
}

func cmdSchedulerStart(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("scheduler-start", flag.ContinueOnError)
	daemon := fs.Bool("daemon", false, "Run in the background")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// The scheduler never self-elevates; fail fast before forking anything.
	if !privilege.NewElevator().IsElevated() {
		return models.NewFault(models.KindPrivilegeRequired, "", nil)
	}
	if _, err := scheduler.LoadConfig(cfg.StateDir); err != nil {
		return err
	}

	if *daemon {
		return scheduler.StartDaemon(cfg.StateDir, cfg.LogFile)
	}
	return cmdSchedulerRun(cfg)
}

func cmdSchedulerRun(cfg *config.Config) error {
	ctrl, err := ifctl.New(cfg)
	if err != nil {
		return err
	}

	s := scheduler.New(cfg, ctrl, changelog.New(cfg.ChangeLogFile))
	if err := s.Start(privilege.NewElevator().IsElevated()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

func cmdSchedulerStatus(cfg *config.Config) error {
	conf, state, err := scheduler.Status(cfg)
	if err != nil {
		return err
	}

	printSchedulerConfig(conf)
	fmt.Println()
	fmt.Printf("running:       %t\n", state.Running)
	if state.PID != 0 {
		fmt.Printf("pid:           %d\n", state.PID)
	}
	if !state.LastChange.IsZero() {
		fmt.Printf("last change:   %s\n", state.LastChange.Format("2006-01-02 15:04:05"))
	}
	if !state.NextChange.IsZero() {
		fmt.Printf("next change:   %s\n", state.NextChange.Format("2006-01-02 15:04:05"))
	}
	if state.LastMAC != "" {
		fmt.Printf("last MAC:      %s\n", state.LastMAC)
	}
	if state.OriginalMAC != "" {
		fmt.Printf("original MAC:  %s\n", state.OriginalMAC)
	}
	fmt.Printf("successes:     %d\n", state.Successes)
	fmt.Printf("failures:      %d\n", state.Failures)
	return nil
}
