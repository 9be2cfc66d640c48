package gatt

import (
	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EventType marks the kind of lifecycle event published by the engine.
type EventType int

const (
	EventDeviceDiscovered EventType = iota
	EventDeviceConnected
	EventDeviceDisconnected
	EventDeviceConnectionLost
	EventDeviceConfigured
)

func (t EventType) String() string {
	switch t {
	case EventDeviceDiscovered:
		return "DeviceDiscovered"
	case EventDeviceConnected:
		return "DeviceConnected"
	case EventDeviceDisconnected:
		return "DeviceDisconnected"
	case EventDeviceConnectionLost:
		return "DeviceConnectionLost"
	case EventDeviceConfigured:
		return "DeviceConfigured"
	default:
		return "Unknown"
	}
}

// Event is a single lifecycle notification.
type Event struct {
	Type    EventType
	Address string
	Device  *Device
}

// ObserverToken identifies a registered observer for removal.
type ObserverToken string

// Bus is the engine's event multicast point. Observers are held in a
// lock-free map so publishing never contends with the device registry
// lock; observer callbacks run on the publisher's goroutine and must not
// block.
type Bus struct {
	observers *hashmap.Map[string, func(Event)]
	logger    *logrus.Logger
}

// NewBus creates an event bus.
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		observers: hashmap.New[string, func(Event)](),
		logger:    logger,
	}
}

// Subscribe registers an observer and returns its removal token.
func (b *Bus) Subscribe(fn func(Event)) ObserverToken {
	tok := uuid.NewString()
	b.observers.Set(tok, fn)
	return ObserverToken(tok)
}

// Unsubscribe removes a previously registered observer. Safe to call with
// a token that was already removed.
func (b *Bus) Unsubscribe(tok ObserverToken) {
	b.observers.Del(string(tok))
}

// Publish delivers ev to every currently registered observer. Observers
// added or removed concurrently may or may not see ev.
func (b *Bus) Publish(ev Event) {
	b.logger.WithFields(logrus.Fields{
		"event":   ev.Type.String(),
		"address": ev.Address,
	}).Debug("Publishing event")

	b.observers.Range(func(_ string, fn func(Event)) bool {
		fn(ev)
		return true
	})
}

// Stream registers a drop-oldest buffered channel observer for consumers
// that prefer receiving events over a channel. The caller must Unsubscribe
// the returned token when done; the channel is not closed by the bus.
func (b *Bus) Stream(buffer int) (*RingChannel[Event], ObserverToken) {
	rc := NewRingChannel[Event](buffer)
	tok := b.Subscribe(func(ev Event) {
		rc.Send(ev)
	})
	return rc, tok
}

// ObserverCount returns the number of registered observers.
func (b *Bus) ObserverCount() int {
	return b.observers.Len()
}
