package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blekit/blekit/internal/gatt"
	"github.com/blekit/blekit/internal/transport/goble"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for BLE devices",
	Long: `Scan for and display Bluetooth Low Energy devices in the vicinity.

Each device is reported once when it becomes available, after its GATT
layout has been enumerated in the background. Repeated advertisements from
the same address are de-duplicated.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanVerbose  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().BoolVarP(&scanVerbose, "verbose", "v", false, "Enable debug logging")
}

func runScan(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	duration := scanDuration
	if duration == 0 {
		duration = cfg.ScanTimeout
	}
	if duration > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, duration)
		defer timeoutCancel()
	}

	tr := goble.New(&goble.Options{OperationTimeout: cfg.OperationTimeout}, logger)
	central := gatt.NewCentral(tr, &gatt.CentralOptions{
		Retry: gatt.RetryPolicy{
			Attempts: cfg.EnumRetryAttempts,
			Delay:    cfg.EnumRetryDelay,
		},
	}, logger)
	defer central.Disconnect()

	events, tok := central.Bus().Stream(64)
	defer central.Bus().Unsubscribe(tok)

	if err := central.Connect(ctx); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	addrColor := color.New(color.FgCyan)
	nameColor := color.New(color.FgGreen, color.Bold)

	fmt.Println("Scanning... press Ctrl+C to stop")
	for {
		select {
		case <-ctx.Done():
			devices := central.DiscoveredDevices()
			fmt.Printf("\n%d device(s) discovered\n", len(devices))
			return nil
		case ev := <-events.C():
			if ev.Type != gatt.EventDeviceDiscovered || ev.Device == nil {
				continue
			}
			services, _ := ev.Device.Services()
			fmt.Printf("%s  %s  (%d services)\n",
				addrColor.Sprint(ev.Address),
				nameColor.Sprint(displayName(ev.Device.Name())),
				len(services))
		}
	}
}

func displayName(name string) string {
	if name == "" {
		return "(unknown)"
	}
	return name
}
