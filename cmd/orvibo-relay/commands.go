package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/muurk/orvibo-relay/internal/config"
	"github.com/muurk/orvibo-relay/internal/coordinator"
	"github.com/muurk/orvibo-relay/internal/devstate"
	"github.com/muurk/orvibo-relay/internal/feed"
	"github.com/muurk/orvibo-relay/internal/logging"
	"go.uber.org/zap"
)

// Command flags
var (
	feedAddr   string
	jsonOutput bool
	stateWait  time.Duration
	acMode     string
	acTemp     float64
	acFan      string

	savePassword bool
)

func init() {
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(switchCmd)
	rootCmd.AddCommand(acCmd)
	rootCmd.AddCommand(ventCmd)
	rootCmd.AddCommand(hashPasswordCmd)
}

// watchCmd prints pushed device state until interrupted
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch device state pushed by the relay",
	Long: `Log in to the relay and print every device state change it pushes.

With --feed-addr the same changes are also served as JSON over a websocket
(path /ws) for other programs to consume.`,
	Example: `  # Print state changes
  orvibo-relay watch

  # Also serve them on ws://127.0.0.1:8765/ws
  orvibo-relay watch --feed-addr 127.0.0.1:8765

  # One JSON object per line
  orvibo-relay watch --json`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&feedAddr, "feed-addr", "", "Serve state changes on this address as a websocket feed")
	watchCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print events as JSON lines")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	var mu sync.Mutex
	s.coord.OnChange(func(ev coordinator.Event) {
		mu.Lock()
		defer mu.Unlock()
		if jsonOutput {
			_ = json.NewEncoder(out).Encode(ev)
			return
		}
		printEvent(out, ev)
	})

	addr := feedAddr
	if addr == "" {
		addr = s.cfg.Feed.Addr
	}
	if addr != "" {
		srv := feed.New(feed.Config{Addr: addr, Snapshot: s.coord.Snapshot})
		if err := srv.Start(); err != nil {
			return err
		}
		s.coord.OnChange(srv.Publish)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logging.Warn("State feed shutdown", zap.Error(err))
			}
		}()
		fmt.Fprintf(cmd.ErrOrStderr(), "State feed on ws://%s%s\n", srv.Addr(), feed.DefaultPath)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Watching %d device(s) in %d room(s) via %s, press Ctrl+C to stop\n",
		s.catalog.Len(), len(s.catalog.Rooms()), s.cfg.Addr())

	if err := s.coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// switchCmd turns a device on or off
var switchCmd = &cobra.Command{
	Use:       "switch <on|off|toggle> <device>",
	Short:     "Turn a device on or off",
	ValidArgs: []string{"on", "off", "toggle"},
	Long: `Turn a device on or off. The device is given by id or by name.

Air conditioners resume their last mode when turned on; ventilation units
start at the slow preset. 'toggle' needs the current state, which is waited
for up to --state-wait after login.`,
	Example: `  orvibo-relay switch on D3
  orvibo-relay switch off "Hall light"
  orvibo-relay switch toggle D3 --state-wait 10s`,
	Args: cobra.ExactArgs(2),
	RunE: runSwitch,
}

func init() {
	switchCmd.Flags().DurationVar(&stateWait, "state-wait", 3*time.Second, "How long toggle waits for the device to report its state")
}

func runSwitch(cmd *cobra.Command, args []string) error {
	action := args[0]
	if action != "on" && action != "off" && action != "toggle" {
		return fmt.Errorf("unknown action %q (expected on, off or toggle)", action)
	}

	return withDevice(cmd, args[1], func(ctx context.Context, s *relaySession, id string) error {
		switch action {
		case "on":
			return s.coord.TurnOn(ctx, id)
		case "off":
			return s.coord.TurnOff(ctx, id)
		default:
			waitForState(ctx, s, id, stateWait)
			return s.coord.Toggle(ctx, id)
		}
	})
}

// acCmd changes air conditioner settings
var acCmd = &cobra.Command{
	Use:   "ac <device>",
	Short: "Change air conditioner mode, target temperature or fan speed",
	Long: `Change the settings of an air conditioner. Settings not given keep their
last reported value. Setting a target temperature turns the unit on.

Modes: off, cool, heat, dry, fan_only. Fan speeds: low, medium, high.`,
	Example: `  orvibo-relay ac D1 --mode cool --temp 24
  orvibo-relay ac "Living room AC" --fan high
  orvibo-relay ac D1 --mode off`,
	Args: cobra.ExactArgs(1),
	RunE: runAC,
}

func init() {
	acCmd.Flags().StringVar(&acMode, "mode", "", "HVAC mode (off, cool, heat, dry, fan_only)")
	acCmd.Flags().Float64Var(&acTemp, "temp", 0, fmt.Sprintf("Target temperature (%.0f-%.0f)", coordinator.MinTemperature, coordinator.MaxTemperature))
	acCmd.Flags().StringVar(&acFan, "fan", "", "Fan speed (low, medium, high)")
	acCmd.Flags().DurationVar(&stateWait, "state-wait", 3*time.Second, "How long to wait for the unit to report its current settings")
}

func runAC(cmd *cobra.Command, args []string) error {
	steps, err := acSteps(acMode, acTemp, cmd.Flags().Changed("temp"), acFan)
	if err != nil {
		return err
	}

	return withDevice(cmd, args[0], func(ctx context.Context, s *relaySession, id string) error {
		waitForState(ctx, s, id, stateWait)
		for _, step := range steps {
			if err := step(ctx, s.coord, id); err != nil {
				return err
			}
		}
		return nil
	})
}

type acStep func(ctx context.Context, c *coordinator.Coordinator, id string) error

// acSteps turns the ac flags into coordinator calls: mode first, then target
// temperature, then fan.
func acSteps(mode string, temp float64, tempSet bool, fan string) ([]acStep, error) {
	var steps []acStep
	if mode != "" {
		m, err := devstate.ParseMode(mode)
		if err != nil {
			return nil, err
		}
		steps = append(steps, func(ctx context.Context, c *coordinator.Coordinator, id string) error {
			return c.SetHVACMode(ctx, id, m)
		})
	}
	if tempSet {
		if temp < coordinator.MinTemperature || temp > coordinator.MaxTemperature {
			return nil, fmt.Errorf("--temp %.1f outside %.0f-%.0f", temp, coordinator.MinTemperature, coordinator.MaxTemperature)
		}
		steps = append(steps, func(ctx context.Context, c *coordinator.Coordinator, id string) error {
			return c.SetTargetTemperature(ctx, id, temp)
		})
	}
	if fan != "" {
		f, err := devstate.ParseFan(fan)
		if err != nil {
			return nil, err
		}
		steps = append(steps, func(ctx context.Context, c *coordinator.Coordinator, id string) error {
			return c.SetFanMode(ctx, id, f)
		})
	}
	if len(steps) == 0 {
		return nil, errors.New("nothing to change: give --mode, --temp or --fan")
	}
	return steps, nil
}

// ventCmd sets a ventilation preset
var ventCmd = &cobra.Command{
	Use:       "vent <device> <slow|stop|fast>",
	Short:     "Set a ventilation unit's speed preset",
	ValidArgs: []string{"slow", "stop", "fast"},
	Example: `  orvibo-relay vent D2 fast
  orvibo-relay vent "Fresh air" stop`,
	Args: cobra.ExactArgs(2),
	RunE: runVent,
}

func runVent(cmd *cobra.Command, args []string) error {
	speed, err := devstate.ParseSpeed(args[1])
	if err != nil {
		return err
	}
	return withDevice(cmd, args[0], func(ctx context.Context, s *relaySession, id string) error {
		return s.coord.SetPreset(ctx, id, speed)
	})
}

// hashPasswordCmd prints the digest to store as account.password_md5
var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Print the MD5 digest of the account password for the config file",
	Long: `Prompt for the account password and print its MD5 hex digest, the value
expected in account.password_md5. The password itself is never stored.

With --save the digest is written into the config file instead.`,
	Example: `  orvibo-relay hash-password
  ORVIBO_PASSWORD=secret orvibo-relay hash-password --save`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pw, err := readPassword(os.Stdin, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		digest := md5Hex(pw)
		if !savePassword {
			fmt.Fprintln(cmd.OutOrStdout(), digest)
			return nil
		}
		path, err := storePasswordDigest(configPath, digest)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved account.password_md5 to %s\n", path)
		return nil
	},
}

func init() {
	hashPasswordCmd.Flags().BoolVar(&savePassword, "save", false, "Write the digest to account.password_md5 in the config file")
}

// storePasswordDigest sets account.password_md5 in the config at path (the
// default location when empty) and returns the path written.
func storePasswordDigest(path, digest string) (string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return "", err
	}
	cfg.Account.PasswordMD5 = digest

	if path == "" {
		if path, err = config.GetConfigPath(); err != nil {
			return "", err
		}
	}
	if err := cfg.Save(path); err != nil {
		return "", err
	}
	logging.Debug("Password digest saved", zap.String("path", path))
	return path, nil
}

// withDevice opens a session, resolves ref and runs fn against the device.
// The resulting state is printed on success.
func withDevice(cmd *cobra.Command, ref string, fn func(ctx context.Context, s *relaySession, id string) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := s.device(ref)
	if err != nil {
		return err
	}

	go func() {
		// Push updates keep the coordinator current while fn runs.
		_ = s.coord.Run(ctx)
	}()

	if err := fn(ctx, s, d.ID); err != nil {
		return err
	}

	printEvent(cmd.OutOrStdout(), coordinator.Event{
		DeviceID: d.ID,
		Name:     d.Name,
		Type:     d.Type,
		Source:   coordinator.SourceCommand,
		State:    s.coord.State(d.ID),
		Time:     time.Now(),
	})
	return nil
}

// waitForState gives the relay up to d to push the device's current state.
func waitForState(ctx context.Context, s *relaySession, id string, d time.Duration) {
	if s.coord.State(id).Known() || d <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Debug("No state reported yet", zap.String("device_id", id))
			return
		case <-ticker.C:
			if s.coord.State(id).Known() {
				return
			}
		}
	}
}

var (
	nameColor    = color.New(color.FgCyan, color.Bold)
	onColor      = color.New(color.FgGreen)
	offColor     = color.New(color.FgRed)
	unknownColor = color.New(color.FgYellow)
	dimColor     = color.New(color.Faint)
)

// printEvent writes one human readable state line.
func printEvent(w io.Writer, ev coordinator.Event) {
	name := ev.Name
	if name == "" {
		name = ev.DeviceID
	}

	var state string
	switch {
	case !ev.State.Known():
		state = unknownColor.Sprint("unknown")
	case ev.State.On:
		state = onColor.Sprint(ev.State.String())
	default:
		state = offColor.Sprint(ev.State.String())
	}

	fmt.Fprintf(w, "%s %s %s %s %s\n",
		dimColor.Sprint(ev.Time.Format("15:04:05")),
		nameColor.Sprint(name),
		dimColor.Sprintf("(%s, %s)", ev.DeviceID, ev.Type),
		state,
		dimColor.Sprintf("[%s]", ev.Source),
	)
}
