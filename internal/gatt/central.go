package gatt

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/blekit/blekit/internal/bledb"
	"github.com/blekit/blekit/internal/groutine"
	"github.com/blekit/blekit/internal/transport"
)

// DeviceFilter decides whether a configured device is acceptable. Filters
// are applied to newly resolved devices before they enter the discovered
// set, and to claim requests.
type DeviceFilter func(*Device) bool

// FilterByAddress matches a single fixed peer address.
func FilterByAddress(addr string) DeviceFilter {
	want := strings.ToLower(addr)
	return func(d *Device) bool {
		return d.Address() == want
	}
}

// FilterByName matches the advertised device name against re.
func FilterByName(re *regexp.Regexp) DeviceFilter {
	return func(d *Device) bool {
		return re.MatchString(d.Name())
	}
}

// FilterByService matches devices exposing the given service UUID.
func FilterByService(uuid string) DeviceFilter {
	want := bledb.NormalizeUUID(uuid)
	return func(d *Device) bool {
		svc, err := d.FindService(want)
		return err == nil && svc != nil
	}
}

// CentralOptions configures a Central.
type CentralOptions struct {
	// Retry bounds the enumeration retry loop for device configuration.
	Retry RetryPolicy

	// Validator rejects resolved devices before they are published as
	// discovered. nil accepts every device.
	Validator DeviceFilter
}

// Central owns the scanning lifecycle, the discovered and connected device
// sets, and the claim/release protocol. All set mutation happens under one
// registry lock; enumeration delays and transport calls never hold it.
type Central struct {
	transport transport.Transport
	retry     RetryPolicy
	validator DeviceFilter
	bus       *Bus
	logger    *logrus.Logger

	// registryMu guards everything below.
	registryMu sync.Mutex
	discovered map[string]*Device
	connected  map[string]*Device
	processing map[string]struct{}
	scanning   bool
}

// NewCentral creates a connection interface on top of the given transport.
func NewCentral(t transport.Transport, opts *CentralOptions, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = &CentralOptions{}
	}
	retry := opts.Retry
	if retry.Attempts == 0 && retry.Delay == 0 {
		retry = DefaultRetryPolicy()
	}

	return &Central{
		transport:  t,
		retry:      retry,
		validator:  opts.Validator,
		bus:        NewBus(logger),
		logger:     logger,
		discovered: make(map[string]*Device),
		connected:  make(map[string]*Device),
		processing: make(map[string]struct{}),
	}
}

// Bus returns the lifecycle event bus.
func (c *Central) Bus() *Bus { return c.bus }

// IsScanning reports whether discovery is running.
func (c *Central) IsScanning() bool {
	c.registryMu.Lock()
	defer c.registryMu.Unlock()
	return c.scanning
}

// Connect starts scanning. Idempotent: a second call while scanning
// succeeds without side effects. When the underlying scan fails to start,
// no handler state is left registered.
func (c *Central) Connect(ctx context.Context) error {
	c.registryMu.Lock()
	if c.scanning {
		c.registryMu.Unlock()
		c.logger.Debug("Connect called while already scanning")
		return nil
	}
	c.scanning = true
	c.registryMu.Unlock()

	err := c.transport.StartScan(
		func(adv transport.Advertisement) { c.handleAdvertisement(ctx, adv) },
		c.handleScanStopped,
	)
	if err != nil {
		c.registryMu.Lock()
		c.scanning = false
		c.registryMu.Unlock()
		c.logger.WithField("error", err).Error("Failed to start scan")
		return fmt.Errorf("start scan: %w", err)
	}

	c.logger.Info("Scanning started")
	return nil
}

func (c *Central) handleScanStopped(err error) {
	c.registryMu.Lock()
	c.scanning = false
	c.registryMu.Unlock()

	if err != nil {
		c.logger.WithField("error", err).Warn("Scan stopped with error")
	} else {
		c.logger.Debug("Scan stopped")
	}
}

// handleAdvertisement implements the two-phase processing -> discovered
// marking that prevents duplicate device objects when advertisements for
// one address overlap.
func (c *Central) handleAdvertisement(ctx context.Context, adv transport.Advertisement) {
	addr := strings.ToLower(adv.Addr())

	c.registryMu.Lock()
	if _, seen := c.discovered[addr]; seen {
		c.registryMu.Unlock()
		return
	}
	if _, seen := c.connected[addr]; seen {
		c.registryMu.Unlock()
		return
	}
	if _, busy := c.processing[addr]; busy {
		c.registryMu.Unlock()
		return
	}
	c.processing[addr] = struct{}{}
	c.registryMu.Unlock()

	name := adv.LocalName()
	groutine.Go(ctx, "resolve-"+addr, func(ctx context.Context) {
		c.resolveDevice(ctx, addr, name)
	})
}

// resolveDevice runs outside the registry lock: resolve the native handle,
// wait for configuration, validate, then atomically promote from
// processing to discovered.
func (c *Central) resolveDevice(ctx context.Context, addr, name string) {
	drop := func(reason string, err error) {
		c.registryMu.Lock()
		delete(c.processing, addr)
		c.registryMu.Unlock()
		c.logger.WithFields(logrus.Fields{
			"address": addr,
			"reason":  reason,
			"error":   err,
		}).Debug("Dropping advertisement")
	}

	peer, err := c.transport.ResolveDevice(ctx, addr)
	if err != nil {
		drop("resolution failed", err)
		return
	}

	dev := NewDevice(ctx, peer, name, c.retry, c.bus, c.logger)
	if err := dev.WaitConfigured(ctx); err != nil {
		dev.close()
		drop("configuration failed", err)
		return
	}

	if c.validator != nil && !c.validator(dev) {
		dev.close()
		drop("rejected by validator", nil)
		return
	}

	c.registryMu.Lock()
	if !c.scanning {
		delete(c.processing, addr)
		c.registryMu.Unlock()
		dev.close()
		return
	}
	delete(c.processing, addr)
	c.discovered[addr] = dev
	c.registryMu.Unlock()

	dev.setOnUnreachable(c.handleDeviceLost)
	peer.OnConnectionStatus(func(status transport.ConnectionStatus) {
		if status == transport.Disconnected {
			c.handleDeviceLost(dev)
		}
	})

	c.logger.WithFields(logrus.Fields{
		"address": addr,
		"name":    dev.Name(),
	}).Info("Device discovered")
	c.bus.Publish(Event{Type: EventDeviceDiscovered, Address: addr, Device: dev})
}

// claimLocked moves a matching discovered, unconnected device into the
// connected set. Caller holds registryMu. The bool reports whether the
// device was already connected (idempotent re-claim).
func (c *Central) claimLocked(filter DeviceFilter) (*Device, bool) {
	// Idempotent re-claim applies only to targeted claims: an unfiltered
	// claim must never observe a device some other consumer already holds.
	if filter != nil {
		for _, dev := range c.connected {
			if filter(dev) {
				return dev, true
			}
		}
	}
	for addr, dev := range c.discovered {
		if _, taken := c.connected[addr]; taken {
			continue
		}
		if filter == nil || filter(dev) {
			c.connected[addr] = dev
			return dev, false
		}
	}
	return nil, false
}

// ClaimDevice acquires exclusive application-level use of a discovered
// device, optionally narrowed by filter. When no matching device is
// available the call blocks on the discovery event stream until one
// appears or ctx is cancelled; the temporary listener is removed on every
// path. The returned device is always fully configured.
func (c *Central) ClaimDevice(ctx context.Context, filter DeviceFilter) (*Device, error) {
	// The listener is registered before the first registry check so a
	// device discovered in between cannot be missed.
	wake := make(chan struct{}, 1)
	tok := c.bus.Subscribe(func(ev Event) {
		// A release also makes a device claimable again.
		if ev.Type == EventDeviceDiscovered || ev.Type == EventDeviceDisconnected {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	})
	defer c.bus.Unsubscribe(tok)

	for {
		c.registryMu.Lock()
		dev, alreadyConnected := c.claimLocked(filter)
		c.registryMu.Unlock()

		if dev != nil {
			if alreadyConnected {
				return dev, nil
			}
			if err := dev.WaitConfigured(ctx); err != nil {
				// Never hand back a partially configured device.
				c.registryMu.Lock()
				delete(c.connected, dev.Address())
				c.registryMu.Unlock()
				return nil, err
			}
			c.logger.WithField("address", dev.Address()).Info("Device claimed")
			c.bus.Publish(Event{Type: EventDeviceConnected, Address: dev.Address(), Device: dev})
			return dev, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// ReleaseDevice removes the device from the connected set. No-op when the
// device is not connected; the device remains discoverable for re-claim.
func (c *Central) ReleaseDevice(dev *Device) {
	if dev == nil {
		return
	}
	addr := dev.Address()

	c.registryMu.Lock()
	_, wasConnected := c.connected[addr]
	delete(c.connected, addr)
	c.registryMu.Unlock()

	if !wasConnected {
		return
	}
	c.logger.WithField("address", addr).Info("Device released")
	c.bus.Publish(Event{Type: EventDeviceDisconnected, Address: addr, Device: dev})
}

// Disconnect tears the interface down: every connected device receives a
// connection-lost notification (callers must distinguish a dropped link
// from a chosen disconnect), both sets are cleared, and the scan stops.
func (c *Central) Disconnect() error {
	c.registryMu.Lock()
	lost := make([]*Device, 0, len(c.connected))
	for _, dev := range c.connected {
		lost = append(lost, dev)
	}
	dropped := make([]*Device, 0, len(c.discovered))
	for _, dev := range c.discovered {
		dropped = append(dropped, dev)
	}
	c.connected = make(map[string]*Device)
	c.discovered = make(map[string]*Device)
	c.processing = make(map[string]struct{})
	wasScanning := c.scanning
	c.registryMu.Unlock()

	for _, dev := range lost {
		c.bus.Publish(Event{Type: EventDeviceConnectionLost, Address: dev.Address(), Device: dev})
	}
	for _, dev := range dropped {
		dev.close()
	}

	var err error
	if wasScanning {
		err = c.transport.StopScan()
	}
	c.logger.Info("Interface disconnected")
	return err
}

// handleDeviceLost is the only path by which a device is involuntarily
// removed while the interface keeps running: the native stack reported a
// disconnect, or an endpoint operation found the peer unreachable.
func (c *Central) handleDeviceLost(dev *Device) {
	addr := dev.Address()

	c.registryMu.Lock()
	_, inDiscovered := c.discovered[addr]
	_, inConnected := c.connected[addr]
	delete(c.discovered, addr)
	delete(c.connected, addr)
	c.registryMu.Unlock()

	if !inDiscovered && !inConnected {
		return
	}

	dev.close()
	c.logger.WithField("address", addr).Warn("Device connection lost")
	c.bus.Publish(Event{Type: EventDeviceConnectionLost, Address: addr, Device: dev})
}

// DiscoveredDevices returns a snapshot of the discovered set.
func (c *Central) DiscoveredDevices() []*Device {
	c.registryMu.Lock()
	defer c.registryMu.Unlock()
	devs := make([]*Device, 0, len(c.discovered))
	for _, d := range c.discovered {
		devs = append(devs, d)
	}
	return devs
}

// ConnectedDevices returns a snapshot of the connected set.
func (c *Central) ConnectedDevices() []*Device {
	c.registryMu.Lock()
	defer c.registryMu.Unlock()
	devs := make([]*Device, 0, len(c.connected))
	for _, d := range c.connected {
		devs = append(devs, d)
	}
	return devs
}

// ConnectDevice claims dev, runs setup to populate an endpoint registry,
// and gates the connection on every required endpoint being bound. On any
// failure the registry is fully detached and the device released, leaving
// no partial subscriptions behind.
func (c *Central) ConnectDevice(ctx context.Context, dev *Device, setup func(*EndpointRegistry) error) (*EndpointRegistry, error) {
	claimed, err := c.ClaimDevice(ctx, FilterByAddress(dev.Address()))
	if err != nil {
		return nil, err
	}

	reg := NewEndpointRegistry(claimed, c.logger)

	fail := func(cause error) (*EndpointRegistry, error) {
		if derr := reg.Detach(ctx); derr != nil {
			c.logger.WithField("error", derr).Warn("Registry detach reported errors during failed connect")
		}
		c.ReleaseDevice(claimed)
		return nil, cause
	}

	if setup != nil {
		if err := setup(reg); err != nil {
			return fail(err)
		}
	}
	if err := reg.Validate(); err != nil {
		return fail(err)
	}
	return reg, nil
}
