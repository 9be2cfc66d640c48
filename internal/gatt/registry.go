package gatt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// EndpointMode is the policy on whether a missing characteristic aborts
// connection establishment.
type EndpointMode int

const (
	Required EndpointMode = iota
	Optional
)

func (m EndpointMode) String() string {
	return []string{"Required", "Optional"}[m]
}

// NotificationHandler receives raw value-changed payloads.
type NotificationHandler func(data []byte)

// Binding is the tagged bound/unbound state of a registry entry. The zero
// value is Unbound.
type Binding struct {
	endpoint *Endpoint
}

// IsBound reports whether the entry resolved to a live endpoint.
func (b Binding) IsBound() bool { return b.endpoint != nil }

// Endpoint returns the bound endpoint, or nil when unbound.
func (b Binding) Endpoint() *Endpoint { return b.endpoint }

type registryEntry struct {
	mode    EndpointMode
	binding Binding

	serviceUUID string
	ref         EndpointRef

	handlers []ListenerToken
}

// EndpointRegistry lets a concrete device implementation declare indexed
// endpoints as required or optional, attach notification handlers with
// reference counting, and gate connection establishment on every required
// endpoint being bound. Entries keep registration order so attach,
// validation, and detach are deterministic.
type EndpointRegistry struct {
	device *Device
	logger *logrus.Logger

	mu      sync.Mutex
	entries *orderedmap.OrderedMap[int, *registryEntry]
}

// NewEndpointRegistry creates a registry bound to a claimed device.
func NewEndpointRegistry(dev *Device, logger *logrus.Logger) *EndpointRegistry {
	if logger == nil {
		logger = logrus.New()
	}
	return &EndpointRegistry{
		device:  dev,
		logger:  logger,
		entries: orderedmap.New[int, *registryEntry](),
	}
}

// Device returns the device this registry operates on.
func (r *EndpointRegistry) Device() *Device { return r.device }

// resolve looks the endpoint up on the device. A missing service or
// characteristic yields an unbound binding; any other failure (device not
// configured, configuration failed) is a real error.
func (r *EndpointRegistry) resolve(serviceUUID string, ref EndpointRef) (*Endpoint, error) {
	ep, err := r.device.FindEndpoint(serviceUUID, ref)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return ep, nil
}

// getOrCreateEntry returns the entry at index, verifying that an existing
// bound entry is not being rebound to a different endpoint (first
// registration wins). Caller holds r.mu.
func (r *EndpointRegistry) getOrCreateEntry(index int, serviceUUID string, ref EndpointRef, ep *Endpoint, mode EndpointMode) (*registryEntry, error) {
	if entry, ok := r.entries.Get(index); ok {
		if entry.binding.IsBound() && ep != nil && entry.binding.Endpoint() != ep {
			return nil, fmt.Errorf("%w: index %d already bound to %s/%s",
				ErrEndpointConflict, index, entry.serviceUUID, entry.binding.Endpoint().UUID())
		}
		if !entry.binding.IsBound() && ep != nil {
			entry.binding = Binding{endpoint: ep}
		}
		return entry, nil
	}

	entry := &registryEntry{
		mode:        mode,
		binding:     Binding{endpoint: ep},
		serviceUUID: serviceUUID,
		ref:         ref,
	}
	r.entries.Set(index, entry)
	return entry, nil
}

// Load resolves an endpoint into the registry without notification
// concerns, for write-only or poll-read channels.
func (r *EndpointRegistry) Load(index int, serviceUUID string, ref EndpointRef, mode EndpointMode) error {
	ep, err := r.resolve(serviceUUID, ref)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.getOrCreateEntry(index, serviceUUID, ref, ep, mode)
	return err
}

// Attach resolves or reuses an endpoint at index and, when the endpoint is
// bound and notification-capable, registers handler for its value-changed
// stream. Remote notifications are enabled only on the 0 -> 1 handler
// transition. Returns the handler's removal token (zero when no handler
// was registered).
func (r *EndpointRegistry) Attach(ctx context.Context, index int, serviceUUID string, ref EndpointRef, handler NotificationHandler, mode EndpointMode) (ListenerToken, error) {
	ep, err := r.resolve(serviceUUID, ref)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, err := r.getOrCreateEntry(index, serviceUUID, ref, ep, mode)
	if err != nil {
		return "", err
	}

	bound := entry.binding.Endpoint()
	if bound == nil || handler == nil {
		return "", nil
	}
	if !bound.Properties().CanNotify() {
		r.logger.WithFields(logrus.Fields{
			"index": index,
			"char":  bound.UUID(),
		}).Debug("Endpoint not notification-capable, handler skipped")
		return "", nil
	}

	tok := bound.AddListener(handler)
	entry.handlers = append(entry.handlers, tok)

	if len(entry.handlers) == 1 {
		if err := bound.Subscribe(ctx); err != nil {
			bound.RemoveListener(tok)
			entry.handlers = entry.handlers[:0]
			return "", err
		}
	}
	return tok, nil
}

// RemoveHandler detaches one handler from the entry at index. Remote
// notifications are disabled on the 1 -> 0 transition.
func (r *EndpointRegistry) RemoveHandler(ctx context.Context, index int, tok ListenerToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries.Get(index)
	if !ok || !entry.binding.IsBound() {
		return nil
	}

	found := false
	for i, t := range entry.handlers {
		if t == tok {
			entry.handlers = append(entry.handlers[:i], entry.handlers[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return nil
	}

	ep := entry.binding.Endpoint()
	ep.RemoveListener(tok)
	if len(entry.handlers) == 0 {
		return ep.Unsubscribe(ctx)
	}
	return nil
}

// Validate is the connection-establishing gate: every Required entry must
// be bound. The error lists all missing entries.
func (r *EndpointRegistry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var missing []string
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		entry := pair.Value
		if entry.mode == Required && !entry.binding.IsBound() {
			missing = append(missing, fmt.Sprintf("index %d (%s)", pair.Key, entry.serviceUUID))
		}
	}
	if len(missing) > 0 {
		return &StateError{
			State: RequiredEndpointGone,
			Msg:   fmt.Sprintf("required endpoints not bound: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// Detach tears every entry down: handlers are unregistered from the
// endpoint before the handler list is cleared (so no notification reaches
// a handler already considered removed), then remote notifications are
// explicitly disabled, then the entries are discarded.
func (r *EndpointRegistry) Detach(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var detachErrors []string
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		entry := pair.Value
		ep := entry.binding.Endpoint()
		if ep != nil {
			for _, tok := range entry.handlers {
				ep.RemoveListener(tok)
			}
		}
		entry.handlers = nil
		if ep != nil {
			if err := ep.Unsubscribe(ctx); err != nil {
				detachErrors = append(detachErrors, fmt.Sprintf("index %d: %v", pair.Key, err))
			}
		}
	}
	r.entries = orderedmap.New[int, *registryEntry]()

	if len(detachErrors) > 0 {
		return fmt.Errorf("detach failures - %s", strings.Join(detachErrors, "; "))
	}
	return nil
}

// Binding returns the binding state of the entry at index.
func (r *EndpointRegistry) Binding(index int) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries.Get(index)
	if !ok {
		return Binding{}, false
	}
	return entry.binding, true
}

// HandlerCount returns the number of handlers attached at index.
func (r *EndpointRegistry) HandlerCount(index int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries.Get(index)
	if !ok {
		return 0
	}
	return len(entry.handlers)
}

// Len returns the number of registry entries.
func (r *EndpointRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries.Len()
}
