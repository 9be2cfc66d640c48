package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannelSend(t *testing.T) {
	rc := NewRingChannel[int](2)

	assert.False(t, rc.Send(1))
	assert.False(t, rc.Send(2))
	assert.True(t, rc.Send(3), "full buffer drops the oldest element")

	assert.Equal(t, 2, rc.Len())
	assert.Equal(t, 2, rc.Cap())
	assert.Equal(t, 2, <-rc.C())
	assert.Equal(t, 3, <-rc.C())
}

func TestRingChannelTrySend(t *testing.T) {
	rc := NewRingChannel[string](1)

	assert.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "TrySend never evicts")
	assert.Equal(t, "a", <-rc.C())
}

func TestRingChannelClose(t *testing.T) {
	rc := NewRingChannel[int](1)
	rc.Send(7)
	rc.Close()

	v, ok := <-rc.C()
	require.True(t, ok)
	assert.Equal(t, 7, v)
	_, ok = <-rc.C()
	assert.False(t, ok)
}

func TestRingChannelInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { NewRingChannel[int](0) })
	assert.Panics(t, func() { NewRingChannel[int](-1) })
}
