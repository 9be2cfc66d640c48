package gatt

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blekit/blekit/internal/bledb"
	"github.com/blekit/blekit/internal/transport"
)

// ListenerToken identifies a registered value-changed listener for removal.
type ListenerToken string

type listener struct {
	token ListenerToken
	fn    func([]byte)
}

// Endpoint wraps one GATT characteristic for application I/O. An endpoint
// without a native handle refuses every operation with ErrNotAvailable
// instead of faulting into the transport.
type Endpoint struct {
	uuid      string
	knownName string
	service   *Service
	handle    transport.CharacteristicHandle // nil when unresolved
	logger    *logrus.Logger

	mu        sync.RWMutex
	listeners []listener
	notifying bool
	lastValue []byte
}

func newEndpoint(svc *Service, handle transport.CharacteristicHandle, logger *logrus.Logger) *Endpoint {
	rawUUID := handle.UUID()
	return &Endpoint{
		uuid:      bledb.NormalizeUUID(rawUUID),
		knownName: bledb.LookupCharacteristic(rawUUID),
		service:   svc,
		handle:    handle,
		logger:    logger,
	}
}

// UUID returns the normalized characteristic UUID.
func (e *Endpoint) UUID() string { return e.uuid }

// KnownName returns the well-known SIG name, or "".
func (e *Endpoint) KnownName() string { return e.knownName }

// Service returns the owning service.
func (e *Endpoint) Service() *Service { return e.service }

// Properties returns the characteristic capability flags.
func (e *Endpoint) Properties() transport.Property {
	if e.handle == nil {
		return 0
	}
	return e.handle.Properties()
}

// IsAvailable reports whether the endpoint is backed by a native handle.
func (e *Endpoint) IsAvailable() bool {
	return e.handle != nil
}

// Notifying reports whether remote notifications are currently enabled.
func (e *Endpoint) Notifying() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.notifying
}

// Value returns the last value seen by a read or notification, or nil.
// The returned slice is read-only.
func (e *Endpoint) Value() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastValue
}

// Read reads the current raw value from the peer.
func (e *Endpoint) Read(ctx context.Context) ([]byte, error) {
	if !e.IsAvailable() {
		return nil, fmt.Errorf("%w: characteristic %s", ErrNotAvailable, e.uuid)
	}

	data, err := e.handle.Read(ctx)
	if err != nil {
		return nil, e.convert("read", err)
	}

	e.mu.Lock()
	e.lastValue = data
	e.mu.Unlock()
	return data, nil
}

// Write sends raw bytes to the peer. Write-without-response is used when
// the characteristic supports it.
func (e *Endpoint) Write(ctx context.Context, data []byte) error {
	if !e.IsAvailable() {
		return fmt.Errorf("%w: characteristic %s", ErrNotAvailable, e.uuid)
	}

	withResponse := e.handle.Properties()&transport.PropertyWriteWithoutResponse == 0
	if err := e.handle.Write(ctx, data, withResponse); err != nil {
		return e.convert("write", err)
	}
	return nil
}

// Subscribe enables remote notifications and attaches this endpoint's
// internal value-changed dispatcher. Idempotent while already notifying.
func (e *Endpoint) Subscribe(ctx context.Context) error {
	if !e.IsAvailable() {
		return fmt.Errorf("%w: characteristic %s", ErrNotAvailable, e.uuid)
	}
	if !e.handle.Properties().CanNotify() {
		return fmt.Errorf("%w: characteristic %s does not support notifications", ErrNotAvailable, e.uuid)
	}

	e.mu.Lock()
	if e.notifying {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	// Network call outside the lock; a concurrent duplicate enable is a
	// harmless repeated descriptor write.
	if err := e.handle.SetNotify(ctx, true, e.dispatch); err != nil {
		return e.convert("subscribe", err)
	}

	e.mu.Lock()
	e.notifying = true
	e.mu.Unlock()

	e.logger.WithFields(logrus.Fields{
		"service": e.service.UUID(),
		"char":    e.uuid,
	}).Debug("Notifications enabled")
	return nil
}

// Unsubscribe disables remote notifications. Idempotent while not
// notifying.
func (e *Endpoint) Unsubscribe(ctx context.Context) error {
	if !e.IsAvailable() {
		return fmt.Errorf("%w: characteristic %s", ErrNotAvailable, e.uuid)
	}

	e.mu.Lock()
	if !e.notifying {
		e.mu.Unlock()
		return nil
	}
	e.notifying = false
	e.mu.Unlock()

	if err := e.handle.SetNotify(ctx, false, nil); err != nil {
		return e.convert("unsubscribe", err)
	}

	e.logger.WithFields(logrus.Fields{
		"service": e.service.UUID(),
		"char":    e.uuid,
	}).Debug("Notifications disabled")
	return nil
}

// AddListener registers fn for value-changed notifications and returns its
// removal token. Safe to call concurrently with in-flight deliveries.
func (e *Endpoint) AddListener(fn func([]byte)) ListenerToken {
	tok := ListenerToken(uuid.NewString())
	e.mu.Lock()
	e.listeners = append(e.listeners, listener{token: tok, fn: fn})
	e.mu.Unlock()
	return tok
}

// RemoveListener unregisters a listener. No-op for unknown tokens.
func (e *Endpoint) RemoveListener(tok ListenerToken) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.token == tok {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}

// ListenerCount returns the number of attached listeners.
func (e *Endpoint) ListenerCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// dispatch fans a raw notification out to a snapshot of the listener list.
// The snapshot keeps delivery safe against concurrent attach/detach.
func (e *Endpoint) dispatch(data []byte) {
	e.mu.Lock()
	e.lastValue = data
	snapshot := make([]listener, len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(data)
	}
}

// convert maps a transport failure to the engine taxonomy and escalates
// unreachable peers to the owning device for an implicit disconnect.
func (e *Endpoint) convert(op string, err error) error {
	norm := NormalizeError(err)
	e.logger.WithFields(logrus.Fields{
		"service": e.service.UUID(),
		"char":    e.uuid,
		"op":      op,
		"error":   norm,
	}).Warn("Characteristic operation failed")

	if IsState(norm, NotResponding) {
		e.service.device.reportUnreachable()
	}
	return fmt.Errorf("%s characteristic %s: %w", op, e.uuid, norm)
}
