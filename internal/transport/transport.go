// Package transport defines the boundary to the platform BLE radio stack.
//
// The engine in internal/gatt consumes these interfaces only; production
// code wires the go-ble backed implementation from transport/goble, tests
// wire the fake from internal/testutils. Implementations must convert
// every platform fault into an error return - nothing may panic across
// this boundary.
package transport

import (
	"context"
	"errors"
)

// ErrUnreachable indicates a transport-level failure mid-operation: the
// peer did not respond or the link dropped. The engine treats it as a
// trigger for an implicit disconnect of the affected device.
var ErrUnreachable = errors.New("peer unreachable")

// ConnectionStatus reports the native link state of a peer.
type ConnectionStatus int

const (
	Connected ConnectionStatus = iota
	Disconnected
)

func (s ConnectionStatus) String() string {
	return []string{"Connected", "Disconnected"}[s]
}

// Property is a bitmask of GATT characteristic capability flags.
type Property uint8

const (
	PropertyRead Property = 1 << iota
	PropertyWriteWithoutResponse
	PropertyWrite
	PropertyNotify
	PropertyIndicate
)

// CanNotify reports whether the characteristic supports notifications or
// indications.
func (p Property) CanNotify() bool {
	return p&(PropertyNotify|PropertyIndicate) != 0
}

// CanRead reports whether the characteristic supports reads.
func (p Property) CanRead() bool {
	return p&PropertyRead != 0
}

// CanWrite reports whether the characteristic supports writes, with or
// without response.
func (p Property) CanWrite() bool {
	return p&(PropertyWrite|PropertyWriteWithoutResponse) != 0
}

// Advertisement is a single received BLE advertisement event.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Services() []string
	Connectable() bool
}

// Transport is the scanning and resolution primitive provided by the
// platform stack.
type Transport interface {
	// StartScan begins advertisement scanning. handler is invoked per
	// received advertisement; stopped (optional) is invoked once when the
	// scan terminates, with the terminal error if any. A synchronous error
	// means the scan never started and no handler was retained.
	StartScan(handler func(Advertisement), stopped func(error)) error

	// StopScan cancels an active scan. No-op when not scanning.
	StopScan() error

	// ResolveDevice obtains a native handle for the peer at addr.
	ResolveDevice(ctx context.Context, addr string) (Peer, error)
}

// Peer is a resolved native device handle. Ownership stays with the
// resolving Device object for its lifetime.
type Peer interface {
	Address() string
	Name() string

	// EnumerateServices lists the peer's GATT services. An empty result
	// with nil error is a valid (if frequently premature) outcome; the
	// engine retries it. ErrUnreachable distinguishes link loss from
	// other failures.
	EnumerateServices(ctx context.Context) ([]ServiceHandle, error)

	// OnConnectionStatus registers a callback for native link state
	// changes of this peer.
	OnConnectionStatus(fn func(ConnectionStatus))

	// Close releases the native handle and drops the link.
	Close() error
}

// ServiceHandle is one enumerated GATT service on a peer.
type ServiceHandle interface {
	UUID() string
	EnumerateCharacteristics(ctx context.Context) ([]CharacteristicHandle, error)
}

// CharacteristicHandle is one enumerated GATT characteristic.
type CharacteristicHandle interface {
	UUID() string
	Properties() Property

	Read(ctx context.Context) ([]byte, error)

	// Write sends raw bytes. withResponse selects acknowledged writes;
	// the engine uses write-without-response by policy where supported.
	Write(ctx context.Context, data []byte, withResponse bool) error

	// SetNotify toggles the remote notification configuration descriptor.
	// fn receives raw value-changed payloads while enabled; it must be
	// non-nil when enable is true.
	SetNotify(ctx context.Context, enable bool, fn func([]byte)) error
}
