package gatt

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blekit/blekit/internal/testutils"
)

func TestBusSubscribePublish(t *testing.T) {
	th := testutils.NewTestHelper(t)
	bus := NewBus(th.Logger)

	var got atomic.Int32
	tok := bus.Subscribe(func(ev Event) {
		assert.Equal(t, EventDeviceDiscovered, ev.Type)
		assert.Equal(t, testAddr, ev.Address)
		got.Add(1)
	})
	assert.Equal(t, 1, bus.ObserverCount())

	bus.Publish(Event{Type: EventDeviceDiscovered, Address: testAddr})
	assert.Equal(t, int32(1), got.Load())

	bus.Unsubscribe(tok)
	assert.Equal(t, 0, bus.ObserverCount())
	bus.Publish(Event{Type: EventDeviceDiscovered, Address: testAddr})
	assert.Equal(t, int32(1), got.Load())

	// Unsubscribing a stale token is harmless.
	bus.Unsubscribe(tok)
}

func TestBusStream(t *testing.T) {
	th := testutils.NewTestHelper(t)
	bus := NewBus(th.Logger)

	events, tok := bus.Stream(2)
	defer bus.Unsubscribe(tok)

	// Overflowing the buffer drops the oldest event, never the publisher.
	bus.Publish(Event{Type: EventDeviceDiscovered, Address: "aa:bb:cc:dd:ee:01"})
	bus.Publish(Event{Type: EventDeviceDiscovered, Address: "aa:bb:cc:dd:ee:02"})
	bus.Publish(Event{Type: EventDeviceDiscovered, Address: "aa:bb:cc:dd:ee:03"})

	require.Equal(t, 2, events.Len())
	first := <-events.C()
	second := <-events.C()
	assert.Equal(t, "aa:bb:cc:dd:ee:02", first.Address)
	assert.Equal(t, "aa:bb:cc:dd:ee:03", second.Address)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "DeviceDiscovered", EventDeviceDiscovered.String())
	assert.Equal(t, "DeviceConnected", EventDeviceConnected.String())
	assert.Equal(t, "DeviceDisconnected", EventDeviceDisconnected.String())
	assert.Equal(t, "DeviceConnectionLost", EventDeviceConnectionLost.String())
	assert.Equal(t, "DeviceConfigured", EventDeviceConfigured.String())
	assert.Equal(t, "Unknown", EventType(99).String())
}
