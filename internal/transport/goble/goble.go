// Package goble implements the transport boundary on top of go-ble/ble.
package goble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/blekit/blekit/internal/groutine"
	"github.com/blekit/blekit/internal/transport"
)

// DefaultOperationTimeout bounds radio operations whose caller context has
// no deadline, so an unresponsive device cannot hang a caller forever.
const DefaultOperationTimeout = 5 * time.Second

// DeviceFactory creates ble.Device instances (can be overridden in tests).
var DeviceFactory = func() (ble.Device, error) {
	return newDefaultDevice()
}

// Options configures the go-ble transport.
type Options struct {
	// OperationTimeout applies to read/write/subscribe/enumerate calls
	// whose context carries no deadline. Zero means DefaultOperationTimeout.
	OperationTimeout time.Duration
}

// Transport is the production transport.Transport backed by go-ble/ble.
type Transport struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu         sync.Mutex
	dev        ble.Device
	scanCancel context.CancelFunc
	scanning   bool
}

// New creates a go-ble transport.
func New(opts *Options, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	timeout := DefaultOperationTimeout
	if opts != nil && opts.OperationTimeout > 0 {
		timeout = opts.OperationTimeout
	}
	return &Transport{
		logger:  logger,
		timeout: timeout,
	}
}

// device lazily creates the native radio handle.
func (t *Transport) device() (ble.Device, error) {
	if t.dev != nil {
		return t.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	t.dev = dev
	return dev, nil
}

// StartScan begins advertisement scanning. The native device is created
// synchronously, so a radio that cannot be brought up fails the call
// before any handler is retained.
func (t *Transport) StartScan(handler func(transport.Advertisement), stopped func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.scanning {
		return fmt.Errorf("scan already running")
	}

	dev, err := t.device()
	if err != nil {
		return err
	}

	scanCtx, cancel := context.WithCancel(context.Background())
	t.scanCancel = cancel
	t.scanning = true

	groutine.Go(scanCtx, "ble-scan", func(ctx context.Context) {
		err := dev.Scan(ctx, false, func(adv ble.Advertisement) {
			handler(&advertisement{adv: adv})
		})
		err = normalizeScanError(err)

		t.mu.Lock()
		t.scanning = false
		t.scanCancel = nil
		t.mu.Unlock()

		if err != nil {
			t.logger.WithField("error", err).Warn("BLE scan terminated with error")
		}
		if stopped != nil {
			stopped(err)
		}
	})

	t.logger.Info("BLE scan started")
	return nil
}

// StopScan cancels an active scan. No-op when not scanning.
func (t *Transport) StopScan() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.scanning || t.scanCancel == nil {
		return nil
	}
	t.scanCancel()
	t.logger.Info("BLE scan stopped")
	return nil
}

// ResolveDevice dials the peer at addr and returns its native handle.
func (t *Transport) ResolveDevice(ctx context.Context, addr string) (transport.Peer, error) {
	t.mu.Lock()
	dev, err := t.device()
	t.mu.Unlock()
	if err != nil {
		return nil, err
	}

	client, err := await(ctx, t.timeout, func() (ble.Client, error) {
		return dev.Dial(ctx, ble.NewAddr(addr))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", addr, NormalizeError(err))
	}

	t.logger.WithField("address", addr).Debug("Resolved native device handle")
	return newPeer(client, addr, t.timeout, t.logger), nil
}

// await runs op with a bounded wait: the caller's deadline when present,
// the transport operation timeout otherwise. A timed-out radio call is
// reported as unreachable.
func await[T any](ctx context.Context, timeout time.Duration, op func() (T, error)) (T, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := op()
		ch <- result{v: v, err: err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %v", transport.ErrUnreachable, ctx.Err())
	}
}
