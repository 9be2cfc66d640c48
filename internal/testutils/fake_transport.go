// Package testutils provides the fake transport and fluent peripheral
// builders used by engine tests.
package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blekit/blekit/internal/transport"
)

// FakeTransport is an in-memory transport.Transport with injectable
// peripherals and failures.
type FakeTransport struct {
	mu       sync.Mutex
	handler  func(transport.Advertisement)
	stopped  func(error)
	scanning bool
	peers    map[string]*FakePeer

	// StartScanErr, when set, makes StartScan fail synchronously.
	StartScanErr error
	// ResolveErr, when set, fails every ResolveDevice call.
	ResolveErr error
}

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		peers: make(map[string]*FakePeer),
	}
}

func (t *FakeTransport) StartScan(handler func(transport.Advertisement), stopped func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.StartScanErr != nil {
		return t.StartScanErr
	}
	if t.scanning {
		return fmt.Errorf("scan already running")
	}
	t.handler = handler
	t.stopped = stopped
	t.scanning = true
	return nil
}

func (t *FakeTransport) StopScan() error {
	t.mu.Lock()
	stopped := t.stopped
	wasScanning := t.scanning
	t.handler = nil
	t.stopped = nil
	t.scanning = false
	t.mu.Unlock()

	if wasScanning && stopped != nil {
		stopped(nil)
	}
	return nil
}

func (t *FakeTransport) ResolveDevice(_ context.Context, addr string) (transport.Peer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ResolveErr != nil {
		return nil, t.ResolveErr
	}
	peer, ok := t.peers[strings.ToLower(addr)]
	if !ok {
		return nil, fmt.Errorf("unknown peer %s", addr)
	}
	return peer, nil
}

// IsScanning reports whether a scan handler is registered.
func (t *FakeTransport) IsScanning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scanning
}

// Advertise delivers one advertisement event to the registered handler,
// as the radio stack would. No-op when not scanning.
func (t *FakeTransport) Advertise(addr, name string, rssi int, services ...string) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()

	if handler == nil {
		return
	}
	handler(&FakeAdvertisement{
		Address:      addr,
		Name:         name,
		Rssi:         rssi,
		ServiceUUIDs: services,
		CanConnect:   true,
	})
}

// FakeAdvertisement implements transport.Advertisement.
type FakeAdvertisement struct {
	Address      string
	Name         string
	Rssi         int
	ServiceUUIDs []string
	CanConnect   bool
}

func (a *FakeAdvertisement) Addr() string       { return a.Address }
func (a *FakeAdvertisement) LocalName() string  { return a.Name }
func (a *FakeAdvertisement) RSSI() int          { return a.Rssi }
func (a *FakeAdvertisement) Services() []string { return a.ServiceUUIDs }
func (a *FakeAdvertisement) Connectable() bool  { return a.CanConnect }

// FakePeer implements transport.Peer.
type FakePeer struct {
	addr string
	name string

	mu       sync.Mutex
	services []*FakeService
	closed   bool

	statusFns []func(transport.ConnectionStatus)

	// EmptyServiceResults makes the first n enumerations return an empty
	// list, simulating the premature-enumeration behavior of real stacks.
	EmptyServiceResults int
	// ServicesErr fails every service enumeration.
	ServicesErr error

	enumCalls int
}

func (p *FakePeer) Address() string { return p.addr }
func (p *FakePeer) Name() string    { return p.name }

func (p *FakePeer) EnumerateServices(_ context.Context) ([]transport.ServiceHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.enumCalls++
	if p.ServicesErr != nil {
		return nil, p.ServicesErr
	}
	if p.enumCalls <= p.EmptyServiceResults {
		return nil, nil
	}

	handles := make([]transport.ServiceHandle, 0, len(p.services))
	for _, svc := range p.services {
		handles = append(handles, svc)
	}
	return handles, nil
}

func (p *FakePeer) OnConnectionStatus(fn func(transport.ConnectionStatus)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statusFns = append(p.statusFns, fn)
}

func (p *FakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed reports whether the native handle was released.
func (p *FakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// EnumerateCallCount returns how many times services were enumerated.
func (p *FakePeer) EnumerateCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enumCalls
}

// ReportDisconnected fires the native link-loss callback path.
func (p *FakePeer) ReportDisconnected() {
	p.mu.Lock()
	fns := make([]func(transport.ConnectionStatus), len(p.statusFns))
	copy(fns, p.statusFns)
	p.mu.Unlock()

	for _, fn := range fns {
		fn(transport.Disconnected)
	}
}

// FakeService implements transport.ServiceHandle.
type FakeService struct {
	uuid  string
	chars []*FakeCharacteristic

	mu        sync.Mutex
	enumCalls int

	// EmptyCharacteristicResults mirrors FakePeer.EmptyServiceResults.
	EmptyCharacteristicResults int
	// CharacteristicsErr fails every characteristic enumeration.
	CharacteristicsErr error
}

func (s *FakeService) UUID() string { return s.uuid }

func (s *FakeService) EnumerateCharacteristics(_ context.Context) ([]transport.CharacteristicHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enumCalls++
	if s.CharacteristicsErr != nil {
		return nil, s.CharacteristicsErr
	}
	if s.enumCalls <= s.EmptyCharacteristicResults {
		return nil, nil
	}

	handles := make([]transport.CharacteristicHandle, 0, len(s.chars))
	for _, c := range s.chars {
		handles = append(handles, c)
	}
	return handles, nil
}

// EnumerateCallCount returns how many times characteristics were enumerated.
func (s *FakeService) EnumerateCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enumCalls
}

// FakeCharacteristic implements transport.CharacteristicHandle.
type FakeCharacteristic struct {
	uuid  string
	props transport.Property

	mu             sync.Mutex
	value          []byte
	writes         [][]byte
	writeResponses []bool
	notifyFn       func([]byte)
	notifying      bool

	subscribeCount   int
	unsubscribeCount int

	ReadErr   error
	WriteErr  error
	NotifyErr error
}

func (c *FakeCharacteristic) UUID() string                    { return c.uuid }
func (c *FakeCharacteristic) Properties() transport.Property { return c.props }

func (c *FakeCharacteristic) Read(_ context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}
	return c.value, nil
}

func (c *FakeCharacteristic) Write(_ context.Context, data []byte, withResponse bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.writes = append(c.writes, buf)
	c.writeResponses = append(c.writeResponses, withResponse)
	return nil
}

func (c *FakeCharacteristic) SetNotify(_ context.Context, enable bool, fn func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NotifyErr != nil {
		return c.NotifyErr
	}
	if enable {
		c.subscribeCount++
		c.notifyFn = fn
		c.notifying = true
	} else {
		c.unsubscribeCount++
		c.notifyFn = nil
		c.notifying = false
	}
	return nil
}

// Notify delivers a value-changed payload as the remote peer would.
// No-op while notifications are disabled.
func (c *FakeCharacteristic) Notify(data []byte) {
	c.mu.Lock()
	fn := c.notifyFn
	c.mu.Unlock()

	if fn != nil {
		fn(data)
	}
}

// IsNotifying reports the remote notification descriptor state.
func (c *FakeCharacteristic) IsNotifying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifying
}

// Writes returns all recorded write payloads.
func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// WriteResponses returns the with-response flag of each recorded write.
func (c *FakeCharacteristic) WriteResponses() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeResponses
}

// SubscribeCount returns how many times notifications were enabled.
func (c *FakeCharacteristic) SubscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeCount
}

// UnsubscribeCount returns how many times notifications were disabled.
func (c *FakeCharacteristic) UnsubscribeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribeCount
}
