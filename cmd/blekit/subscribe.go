package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blekit/blekit/internal/gatt"
	"github.com/blekit/blekit/internal/transport/goble"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <address> <service-uuid> <characteristic-uuid>",
	Short: "Subscribe to characteristic notifications",
	Long: `Claim the given device and stream value-changed notifications from one
of its characteristics until interrupted.

Notifications stop and the device is released on Ctrl+C. With --required,
a missing characteristic is a hard error; otherwise the command waits on a
characteristic that may appear after a firmware update.`,
	Args: cobra.ExactArgs(3),
	RunE: runSubscribe,
}

var (
	subscribeVerbose  bool
	subscribeRequired bool
)

func init() {
	subscribeCmd.Flags().BoolVarP(&subscribeVerbose, "verbose", "v", false, "Enable debug logging")
	subscribeCmd.Flags().BoolVar(&subscribeRequired, "required", true, "Fail when the characteristic is missing")
	subscribeCmd.Flags().Duration("timeout", 0, "How long to wait for the device (0 uses the configured claim_timeout)")
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	addr := strings.ToLower(args[0])
	serviceUUID := args[1]
	charUUID := args[2]

	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout == 0 {
		timeout = cfg.ClaimTimeout
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tr := goble.New(&goble.Options{OperationTimeout: cfg.OperationTimeout}, logger)
	central := gatt.NewCentral(tr, &gatt.CentralOptions{
		Retry: gatt.RetryPolicy{
			Attempts: cfg.EnumRetryAttempts,
			Delay:    cfg.EnumRetryDelay,
		},
	}, logger)
	defer central.Disconnect()

	if err := central.Connect(ctx); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}

	claimCtx, claimCancel := context.WithTimeout(ctx, timeout)
	defer claimCancel()

	dev, err := central.ClaimDevice(claimCtx, gatt.FilterByAddress(addr))
	if err != nil {
		return fmt.Errorf("failed to claim %s: %w", addr, err)
	}
	defer central.ReleaseDevice(dev)

	mode := gatt.Optional
	if subscribeRequired {
		mode = gatt.Required
	}

	tsColor := color.New(color.FgYellow)
	registry := gatt.NewEndpointRegistry(dev, logger)
	_, err = registry.Attach(claimCtx, 0, serviceUUID, gatt.ByUUID(charUUID), func(data []byte) {
		fmt.Printf("%s  %s\n", tsColor.Sprint(time.Now().Format(time.RFC3339)), hex.EncodeToString(data))
	}, mode)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", charUUID, err)
	}
	defer func() {
		// Detach with a fresh context so teardown still runs after Ctrl+C.
		detachCtx, detachCancel := context.WithTimeout(context.Background(), cfg.OperationTimeout)
		defer detachCancel()
		if err := registry.Detach(detachCtx); err != nil {
			logger.WithError(err).Warn("Failed to detach endpoint registry")
		}
	}()

	if err := registry.Validate(); err != nil {
		return err
	}

	fmt.Println("Subscribed, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}
