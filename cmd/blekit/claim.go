package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/blekit/blekit/internal/gatt"
	"github.com/blekit/blekit/internal/transport/goble"
)

// claimCmd represents the claim command
var claimCmd = &cobra.Command{
	Use:   "claim [address]",
	Short: "Claim a device and print its GATT layout",
	Long: `Scan for a device, claim it once it is configured, and print its
services and characteristics. The device is released on exit.

The device is selected by address (case-insensitive) or by --name regular
expression. The command waits until a matching device is discovered and its
GATT layout enumerated, bounded by --timeout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runClaim,
}

var (
	claimVerbose bool
	claimName    string
)

func init() {
	claimCmd.Flags().BoolVarP(&claimVerbose, "verbose", "v", false, "Enable debug logging")
	claimCmd.Flags().StringVarP(&claimName, "name", "n", "", "Claim the first device whose name matches this regex")
	claimCmd.Flags().Duration("timeout", 0, "How long to wait for the device (0 uses the configured claim_timeout)")
}

// claimFilter builds the device filter from the address argument or the
// --name flag. Exactly one of them must be given.
func claimFilter(args []string) (gatt.DeviceFilter, string, error) {
	switch {
	case len(args) == 1 && claimName != "":
		return nil, "", fmt.Errorf("give either an address or --name, not both")
	case len(args) == 1:
		addr := strings.ToLower(args[0])
		return gatt.FilterByAddress(addr), addr, nil
	case claimName != "":
		re, err := regexp.Compile(claimName)
		if err != nil {
			return nil, "", fmt.Errorf("invalid --name pattern: %w", err)
		}
		return gatt.FilterByName(re), claimName, nil
	default:
		return nil, "", fmt.Errorf("an address argument or --name is required")
	}
}

func runClaim(cmd *cobra.Command, args []string) error {
	filter, target, err := claimFilter(args)
	if err != nil {
		return err
	}

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
	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

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

	dev, err := central.ClaimDevice(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to claim %s: %w", target, err)
	}
	defer central.ReleaseDevice(dev)

	return printLayout(dev)
}

func printLayout(dev *gatt.Device) error {
	services, err := dev.Services()
	if err != nil {
		return err
	}

	header := color.New(color.Bold)
	fmt.Printf("%s %s  %s\n\n", header.Sprint("Device:"), dev.Address(), displayName(dev.Name()))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tCHARACTERISTIC\tNAME\tPROPERTIES")
	for _, svc := range services {
		for _, ep := range svc.Endpoints() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				svc.UUID(), ep.UUID(), displayName(ep.KnownName()), propString(ep))
		}
		if len(svc.Endpoints()) == 0 {
			fmt.Fprintf(w, "%s\t-\t%s\t-\n", svc.UUID(), displayName(svc.KnownName()))
		}
	}
	return w.Flush()
}

func propString(ep *gatt.Endpoint) string {
	var parts []string
	props := ep.Properties()
	if props.CanRead() {
		parts = append(parts, "read")
	}
	if props.CanWrite() {
		parts = append(parts, "write")
	}
	if props.CanNotify() {
		parts = append(parts, "notify")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}
