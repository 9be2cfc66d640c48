package testutils

import (
	"strings"

	"github.com/blekit/blekit/internal/transport"
)

// PeripheralBuilder assembles a FakePeer with services and characteristics
// using a fluent chain:
//
//	tr.AddPeripheral("aa:bb:cc:dd:ee:ff", "HeartMonitor").
//		WithService("180d").
//		WithCharacteristic("2a37", "read,notify", nil).
//		Build()
type PeripheralBuilder struct {
	transport *FakeTransport
	peer      *FakePeer
	current   *FakeService
}

// AddPeripheral registers a connectable peripheral with the fake radio and
// returns a builder for its GATT table.
func (t *FakeTransport) AddPeripheral(addr, name string) *PeripheralBuilder {
	peer := &FakePeer{
		addr: strings.ToLower(addr),
		name: name,
	}

	t.mu.Lock()
	t.peers[peer.addr] = peer
	t.mu.Unlock()

	return &PeripheralBuilder{
		transport: t,
		peer:      peer,
	}
}

// WithService opens a new service; subsequent WithCharacteristic calls
// attach to it.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	svc := &FakeService{uuid: strings.ToLower(uuid)}
	b.peer.services = append(b.peer.services, svc)
	b.current = svc
	return b
}

// WithCharacteristic adds a characteristic to the current service. Props is
// a comma-separated list of "read", "write", "write-no-rsp", "notify",
// "indicate".
func (b *PeripheralBuilder) WithCharacteristic(uuid, props string, value []byte) *PeripheralBuilder {
	if b.current == nil {
		panic("testutils: WithCharacteristic before WithService")
	}
	b.current.chars = append(b.current.chars, &FakeCharacteristic{
		uuid:  strings.ToLower(uuid),
		props: parseProps(props),
		value: value,
	})
	return b
}

// WithEmptyServiceResults makes the peer report no services for the first n
// enumeration attempts.
func (b *PeripheralBuilder) WithEmptyServiceResults(n int) *PeripheralBuilder {
	b.peer.EmptyServiceResults = n
	return b
}

// WithEmptyCharacteristicResults makes the current service report no
// characteristics for the first n enumeration attempts.
func (b *PeripheralBuilder) WithEmptyCharacteristicResults(n int) *PeripheralBuilder {
	if b.current == nil {
		panic("testutils: WithEmptyCharacteristicResults before WithService")
	}
	b.current.EmptyCharacteristicResults = n
	return b
}

// Build finalizes the peripheral and returns the peer for direct inspection.
func (b *PeripheralBuilder) Build() *FakePeer {
	return b.peer
}

// Characteristic looks up a built characteristic by service and
// characteristic UUID.
func (p *FakePeer) Characteristic(serviceUUID, charUUID string) *FakeCharacteristic {
	serviceUUID = strings.ToLower(serviceUUID)
	charUUID = strings.ToLower(charUUID)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, svc := range p.services {
		if svc.uuid != serviceUUID {
			continue
		}
		for _, c := range svc.chars {
			if c.uuid == charUUID {
				return c
			}
		}
	}
	return nil
}

func parseProps(props string) transport.Property {
	var out transport.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			out |= transport.PropertyRead
		case "write":
			out |= transport.PropertyWrite
		case "write-no-rsp":
			out |= transport.PropertyWriteWithoutResponse
		case "notify":
			out |= transport.PropertyNotify
		case "indicate":
			out |= transport.PropertyIndicate
		}
	}
	return out
}
