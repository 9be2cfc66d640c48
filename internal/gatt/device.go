package gatt

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/blekit/blekit/internal/bledb"
	"github.com/blekit/blekit/internal/groutine"
	"github.com/blekit/blekit/internal/transport"
)

// NotFoundError reports a missing service or characteristic.
type NotFoundError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
	}
}

// ConfigState is the device configuration state machine.
type ConfigState int32

const (
	Unconfigured ConfigState = iota
	Configuring
	Configured
	ConfigFailed
)

func (s ConfigState) String() string {
	return []string{"Unconfigured", "Configuring", "Configured", "ConfigurationFailed"}[s]
}

// EndpointRef selects a characteristic within a service, either by UUID or
// by its position in enumeration order.
type EndpointRef struct {
	UUID  string
	Index int
}

// ByUUID selects a characteristic by UUID.
func ByUUID(uuid string) EndpointRef { return EndpointRef{UUID: uuid, Index: -1} }

// ByIndex selects a characteristic by enumeration position.
func ByIndex(i int) EndpointRef { return EndpointRef{Index: i} }

// Device wraps one physical peer. Construction schedules configuration
// (service and characteristic enumeration) immediately and asynchronously;
// callers must wait via WaitConfigured before using lookups.
type Device struct {
	addr   string
	name   string
	peer   transport.Peer
	retry  RetryPolicy
	bus    *Bus
	logger *logrus.Logger

	state atomic.Int32

	mu       sync.RWMutex
	services []*Service
	byUUID   map[string]*Service

	configured chan struct{} // closed exactly once on terminal state

	onUnreachable   atomic.Pointer[func(*Device)]
	unreachableOnce sync.Once
}

// NewDevice constructs a device around a resolved peer and schedules its
// configuration. bus receives exactly one DeviceConfigured event when the
// configuration reaches a terminal state, success or failure.
func NewDevice(ctx context.Context, peer transport.Peer, name string, retry RetryPolicy, bus *Bus, logger *logrus.Logger) *Device {
	if logger == nil {
		logger = logrus.New()
	}
	if name == "" {
		name = peer.Name()
	}

	d := &Device{
		addr:       strings.ToLower(peer.Address()),
		name:       name,
		peer:       peer,
		retry:      retry,
		bus:        bus,
		logger:     logger,
		byUUID:     make(map[string]*Service),
		configured: make(chan struct{}),
	}

	groutine.Go(ctx, "device-config-"+d.addr, d.configure)
	return d
}

// Address returns the lowercase peer address.
func (d *Device) Address() string { return d.addr }

// Name returns the advertised or native device name.
func (d *Device) Name() string { return d.name }

// State returns the current configuration state.
func (d *Device) State() ConfigState {
	return ConfigState(d.state.Load())
}

// configure runs the device configuration state machine: enumerate
// services with the retry-on-empty policy, then configure each service in
// turn. Always reaches a terminal state and publishes DeviceConfigured
// exactly once so waiters are never left hanging.
func (d *Device) configure(ctx context.Context) {
	d.state.Store(int32(Configuring))
	d.logger.WithField("address", d.addr).Debug("Configuring device...")

	terminal := ConfigFailed
	defer func() {
		d.state.Store(int32(terminal))
		close(d.configured)
		if d.bus != nil {
			d.bus.Publish(Event{Type: EventDeviceConfigured, Address: d.addr, Device: d})
		}
		d.logger.WithFields(logrus.Fields{
			"address": d.addr,
			"state":   terminal.String(),
		}).Info("Device configuration finished")
	}()

	handles, err := enumerateWithRetry(ctx, d.retry, func(ctx context.Context) ([]transport.ServiceHandle, error) {
		return d.peer.EnumerateServices(ctx)
	})
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"address": d.addr,
			"error":   err,
		}).Error("Service enumeration failed")
		return
	}

	for _, h := range handles {
		svc := newService(d, h, d.logger)
		svc.configure(ctx, d.retry)

		d.mu.Lock()
		if _, dup := d.byUUID[svc.UUID()]; !dup {
			d.services = append(d.services, svc)
			d.byUUID[svc.UUID()] = svc
		}
		d.mu.Unlock()
	}

	terminal = Configured
}

// WaitConfigured blocks until the configuration state machine reaches a
// terminal state or ctx is cancelled. Returns ErrConfigurationFailed when
// the terminal state is a failure.
func (d *Device) WaitConfigured(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.configured:
	}
	if d.State() == ConfigFailed {
		return fmt.Errorf("%w: device %s", ErrConfigurationFailed, d.addr)
	}
	return nil
}

// ensureConfigured gates lookups so consumers never see partial data.
func (d *Device) ensureConfigured() error {
	switch d.State() {
	case Configured:
		return nil
	case ConfigFailed:
		return fmt.Errorf("%w: device %s", ErrConfigurationFailed, d.addr)
	default:
		return fmt.Errorf("%w: device %s", ErrNotConfigured, d.addr)
	}
}

// Services returns the configured services in enumeration order.
func (d *Device) Services() ([]*Service, error) {
	if err := d.ensureConfigured(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]*Service, len(d.services))
	copy(result, d.services)
	return result, nil
}

// FindService retrieves a service by UUID.
func (d *Device) FindService(uuid string) (*Service, error) {
	if err := d.ensureConfigured(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	svc, ok := d.byUUID[bledb.NormalizeUUID(uuid)]
	if !ok {
		return nil, &NotFoundError{Resource: "service", UUIDs: []string{uuid}}
	}
	return svc, nil
}

// FindEndpoint retrieves an endpoint by service UUID and a characteristic
// selector (UUID or enumeration index).
func (d *Device) FindEndpoint(serviceUUID string, ref EndpointRef) (*Endpoint, error) {
	svc, err := d.FindService(serviceUUID)
	if err != nil {
		return nil, err
	}
	if ref.UUID != "" {
		return svc.Endpoint(ref.UUID)
	}
	return svc.EndpointAt(ref.Index)
}

// MatchCharacteristics returns every configured endpoint whose UUID
// matches re, across all services.
func (d *Device) MatchCharacteristics(re *regexp.Regexp) ([]*Endpoint, error) {
	if err := d.ensureConfigured(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var result []*Endpoint
	for _, svc := range d.services {
		for _, ep := range svc.Endpoints() {
			if re.MatchString(ep.UUID()) {
				result = append(result, ep)
			}
		}
	}
	return result, nil
}

// setOnUnreachable installs the callback the central uses for implicit
// disconnects when an endpoint operation reports the peer unreachable.
func (d *Device) setOnUnreachable(fn func(*Device)) {
	d.onUnreachable.Store(&fn)
}

// reportUnreachable escalates a mid-operation transport failure. The
// callback fires at most once per device lifetime.
func (d *Device) reportUnreachable() {
	d.unreachableOnce.Do(func() {
		d.logger.WithField("address", d.addr).Warn("Peer unreachable, triggering disconnect")
		if fn := d.onUnreachable.Load(); fn != nil {
			(*fn)(d)
		}
	})
}

// close releases the native peer handle.
func (d *Device) close() {
	if err := d.peer.Close(); err != nil {
		d.logger.WithFields(logrus.Fields{
			"address": d.addr,
			"error":   err,
		}).Debug("Peer close reported an error")
	}
}
