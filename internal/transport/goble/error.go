package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blekit/blekit/internal/transport"
)

// NormalizeError maps known go-ble error strings to the transport error
// vocabulary. It ensures consistent handling even if the upstream library
// changes messages slightly. Returns wrapped errors to preserve context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrUnreachable) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"),
		containsIgnoreCase(msg, "connection canceled"),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", transport.ErrUnreachable, err)
	default:
		return err
	}
}

// normalizeScanError treats cancellation as a clean stop.
func normalizeScanError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// containsIgnoreCase checks the substring case-insensitively.
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
