package gatt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blekit/blekit/internal/testutils"
)

func registryFixture(t *testing.T) (*EndpointRegistry, *testutils.FakePeer) {
	t.Helper()
	th := testutils.NewTestHelper(t)
	tr := testutils.NewFakeTransport()
	peer := tr.AddPeripheral(testAddr, "Thermo").
		WithService("180d").
		WithCharacteristic("2a37", "read,notify", nil).
		WithCharacteristic("2a38", "read", nil).
		Build()

	dev := NewDevice(context.Background(), peer, "", fastRetry(), nil, th.Logger)
	require.NoError(t, dev.WaitConfigured(context.Background()))
	return NewEndpointRegistry(dev, th.Logger), peer
}

func TestRegistryAttach(t *testing.T) {
	t.Run("subscribes on first handler only", func(t *testing.T) {
		reg, peer := registryFixture(t)
		char := peer.Characteristic("180d", "2a37")

		tok1, err := reg.Attach(context.Background(), 0, "180d", ByUUID("2a37"), func([]byte) {}, Required)
		require.NoError(t, err)
		require.NotEmpty(t, tok1)
		assert.Equal(t, 1, char.SubscribeCount())

		tok2, err := reg.Attach(context.Background(), 0, "180d", ByUUID("2a37"), func([]byte) {}, Required)
		require.NoError(t, err)
		require.NotEmpty(t, tok2)
		assert.Equal(t, 1, char.SubscribeCount(), "second handler reuses the subscription")
		assert.Equal(t, 2, reg.HandlerCount(0))
	})

	t.Run("unsubscribes on last handler removal", func(t *testing.T) {
		reg, peer := registryFixture(t)
		char := peer.Characteristic("180d", "2a37")

		tok1, err := reg.Attach(context.Background(), 0, "180d", ByUUID("2a37"), func([]byte) {}, Required)
		require.NoError(t, err)
		tok2, err := reg.Attach(context.Background(), 0, "180d", ByUUID("2a37"), func([]byte) {}, Required)
		require.NoError(t, err)

		require.NoError(t, reg.RemoveHandler(context.Background(), 0, tok1))
		assert.True(t, char.IsNotifying(), "subscription stays while handlers remain")

		require.NoError(t, reg.RemoveHandler(context.Background(), 0, tok2))
		assert.False(t, char.IsNotifying())
		assert.Equal(t, 0, reg.HandlerCount(0))
	})

	t.Run("missing optional endpoint stays unbound", func(t *testing.T) {
		reg, _ := registryFixture(t)

		tok, err := reg.Attach(context.Background(), 0, "180d", ByUUID("beef"), func([]byte) {}, Optional)
		require.NoError(t, err)
		assert.Empty(t, tok)

		binding, ok := reg.Binding(0)
		require.True(t, ok)
		assert.False(t, binding.IsBound())
		assert.NoError(t, reg.Validate())
	})

	t.Run("handler skipped on non-notifying endpoint", func(t *testing.T) {
		reg, _ := registryFixture(t)

		tok, err := reg.Attach(context.Background(), 0, "180d", ByUUID("2a38"), func([]byte) {}, Required)
		require.NoError(t, err)
		assert.Empty(t, tok)

		binding, ok := reg.Binding(0)
		require.True(t, ok)
		assert.True(t, binding.IsBound())
		assert.Equal(t, 0, reg.HandlerCount(0))
	})

	t.Run("rebinding an index conflicts", func(t *testing.T) {
		reg, _ := registryFixture(t)

		require.NoError(t, reg.Load(0, "180d", ByUUID("2a37"), Required))
		_, err := reg.Attach(context.Background(), 0, "180d", ByUUID("2a38"), func([]byte) {}, Required)
		require.Error(t, err)
		assert.True(t, IsState(err, EndpointConflict))

		// The original binding survives the rejected rebind.
		binding, _ := reg.Binding(0)
		assert.Equal(t, "2a37", binding.Endpoint().UUID())
	})
}

func TestRegistryValidate(t *testing.T) {
	reg, _ := registryFixture(t)

	require.NoError(t, reg.Load(0, "180d", ByUUID("2a37"), Required))
	require.NoError(t, reg.Load(1, "180d", ByUUID("dead"), Required))
	require.NoError(t, reg.Load(2, "180d", ByUUID("beef"), Optional))

	err := reg.Validate()
	require.Error(t, err)
	assert.True(t, IsState(err, RequiredEndpointGone))
	assert.Contains(t, err.Error(), "index 1")
	assert.NotContains(t, err.Error(), "index 2", "optional entries never block validation")
}

func TestRegistryDetach(t *testing.T) {
	reg, peer := registryFixture(t)
	char := peer.Characteristic("180d", "2a37")

	var delivered int
	_, err := reg.Attach(context.Background(), 0, "180d", ByUUID("2a37"), func([]byte) {
		delivered++
	}, Required)
	require.NoError(t, err)
	require.NoError(t, reg.Load(1, "180d", ByUUID("2a38"), Optional))

	char.Notify([]byte{0x01})
	assert.Equal(t, 1, delivered)

	binding, _ := reg.Binding(0)
	ep := binding.Endpoint()

	require.NoError(t, reg.Detach(context.Background()))

	assert.Equal(t, 0, reg.Len())
	assert.False(t, char.IsNotifying())
	assert.Equal(t, 0, ep.ListenerCount(), "handlers are unregistered from the endpoint")

	// A late notification from the stack reaches no detached handler.
	char.Notify([]byte{0x02})
	assert.Equal(t, 1, delivered)
}
