package gatt

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blekit/blekit/internal/testutils"
)

// buildDevice resolves a fake peripheral into a configured (or failed)
// Device without going through a Central.
func buildDevice(t *testing.T, peer *testutils.FakePeer, retry RetryPolicy) *Device {
	t.Helper()
	th := testutils.NewTestHelper(t)
	return NewDevice(context.Background(), peer, "", retry, nil, th.Logger)
}

func TestDeviceConfiguration(t *testing.T) {
	t.Run("empty enumeration is retried", func(t *testing.T) {
		tr := testutils.NewFakeTransport()
		peer := tr.AddPeripheral(testAddr, "Thermo").
			WithEmptyServiceResults(3).
			WithService("180d").
			WithCharacteristic("2a37", "notify", nil).
			Build()

		dev := buildDevice(t, peer, RetryPolicy{Attempts: 10, Delay: time.Millisecond})
		require.NoError(t, dev.WaitConfigured(context.Background()))

		assert.Equal(t, Configured, dev.State())
		assert.Equal(t, 4, peer.EnumerateCallCount())

		services, err := dev.Services()
		require.NoError(t, err)
		require.Len(t, services, 1)
		assert.Equal(t, "180d", services[0].UUID())
	})

	t.Run("retry budget is bounded", func(t *testing.T) {
		tr := testutils.NewFakeTransport()
		peer := tr.AddPeripheral(testAddr, "Thermo").
			WithEmptyServiceResults(100).
			WithService("180d").
			Build()

		dev := buildDevice(t, peer, RetryPolicy{Attempts: 3, Delay: time.Millisecond})
		require.NoError(t, dev.WaitConfigured(context.Background()))

		// attempts+1 calls total, then the device settles with no services.
		assert.Equal(t, 4, peer.EnumerateCallCount())
		assert.Equal(t, Configured, dev.State())
		services, err := dev.Services()
		require.NoError(t, err)
		assert.Empty(t, services)
	})

	t.Run("enumeration error fails configuration", func(t *testing.T) {
		tr := testutils.NewFakeTransport()
		peer := tr.AddPeripheral(testAddr, "Thermo").Build()
		peer.ServicesErr = errors.New("att timeout")

		dev := buildDevice(t, peer, fastRetry())
		err := dev.WaitConfigured(context.Background())
		require.Error(t, err)
		assert.True(t, IsState(err, ConfigurationFailed))
		assert.Equal(t, ConfigFailed, dev.State())

		_, err = dev.Services()
		assert.True(t, IsState(err, ConfigurationFailed))
	})

	t.Run("failed characteristic enumeration is not fatal", func(t *testing.T) {
		tr := testutils.NewFakeTransport()
		peer := tr.AddPeripheral(testAddr, "Thermo").
			WithService("180d").
			WithCharacteristic("2a37", "notify", nil).
			Build()
		peer.Characteristic("180d", "2a37") // sanity: the char exists
		svcErr := errors.New("att timeout")
		peerSvc(t, peer).CharacteristicsErr = svcErr

		dev := buildDevice(t, peer, fastRetry())
		require.NoError(t, dev.WaitConfigured(context.Background()))
		assert.Equal(t, Configured, dev.State())

		svc, err := dev.FindService("180d")
		require.NoError(t, err)
		assert.Empty(t, svc.Endpoints())

		_, err = svc.Endpoint("2a37")
		var nf *NotFoundError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("empty characteristic results are retried", func(t *testing.T) {
		tr := testutils.NewFakeTransport()
		peer := tr.AddPeripheral(testAddr, "Thermo").
			WithService("180d").
			WithEmptyCharacteristicResults(2).
			WithCharacteristic("2a37", "notify", nil).
			Build()

		dev := buildDevice(t, peer, RetryPolicy{Attempts: 5, Delay: time.Millisecond})
		require.NoError(t, dev.WaitConfigured(context.Background()))

		svc, err := dev.FindService("180d")
		require.NoError(t, err)
		assert.Len(t, svc.Endpoints(), 1)
		assert.Equal(t, 3, peerSvc(t, peer).EnumerateCallCount())
	})

	t.Run("wait honors context", func(t *testing.T) {
		tr := testutils.NewFakeTransport()
		peer := tr.AddPeripheral(testAddr, "Thermo").
			WithEmptyServiceResults(1000).
			WithService("180d").
			Build()

		dev := buildDevice(t, peer, RetryPolicy{Attempts: 1000, Delay: 10 * time.Millisecond})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		err := dev.WaitConfigured(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

// peerSvc returns the single service of a single-service fake peer.
func peerSvc(t *testing.T, peer *testutils.FakePeer) *testutils.FakeService {
	t.Helper()
	handles, err := peer.EnumerateServices(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, handles)
	svc, ok := handles[0].(*testutils.FakeService)
	require.True(t, ok)
	return svc
}

func TestDeviceConfiguredEvent(t *testing.T) {
	th := testutils.NewTestHelper(t)
	tr := testutils.NewFakeTransport()
	peer := tr.AddPeripheral(testAddr, "Thermo").
		WithService("180d").
		WithCharacteristic("2a37", "notify", nil).
		Build()

	bus := NewBus(th.Logger)
	events, tok := bus.Stream(4)
	defer bus.Unsubscribe(tok)

	dev := NewDevice(context.Background(), peer, "", fastRetry(), bus, th.Logger)
	require.NoError(t, dev.WaitConfigured(context.Background()))

	select {
	case ev := <-events.C():
		assert.Equal(t, EventDeviceConfigured, ev.Type)
		assert.Equal(t, testAddr, ev.Address)
	case <-time.After(time.Second):
		t.Fatal("no DeviceConfigured event published")
	}

	// WaitConfigured is reusable; no second event is published.
	require.NoError(t, dev.WaitConfigured(context.Background()))
	select {
	case ev := <-events.C():
		t.Fatalf("unexpected extra event %s", ev.Type)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestDeviceLookups(t *testing.T) {
	tr := testutils.NewFakeTransport()
	peer := tr.AddPeripheral(testAddr, "Thermo").
		WithService("180d").
		WithCharacteristic("2a37", "read,notify", nil).
		WithCharacteristic("2a38", "read", nil).
		WithService("180f").
		WithCharacteristic("2a19", "read", nil).
		Build()

	dev := buildDevice(t, peer, fastRetry())
	require.NoError(t, dev.WaitConfigured(context.Background()))

	t.Run("find service normalizes the query", func(t *testing.T) {
		svc, err := dev.FindService("0000180D-0000-1000-8000-00805F9B34FB")
		require.NoError(t, err)
		assert.Equal(t, "180d", svc.UUID())
	})

	t.Run("unknown service", func(t *testing.T) {
		_, err := dev.FindService("1234")
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, "service", nf.Resource)
	})

	t.Run("endpoint by uuid", func(t *testing.T) {
		ep, err := dev.FindEndpoint("180d", ByUUID("2a37"))
		require.NoError(t, err)
		assert.Equal(t, "2a37", ep.UUID())
		assert.Equal(t, "Heart Rate Measurement", ep.KnownName())
	})

	t.Run("endpoint by index", func(t *testing.T) {
		ep, err := dev.FindEndpoint("180d", ByIndex(1))
		require.NoError(t, err)
		assert.Equal(t, "2a38", ep.UUID())

		_, err = dev.FindEndpoint("180d", ByIndex(5))
		var nf *NotFoundError
		assert.ErrorAs(t, err, &nf)
	})

	t.Run("match characteristics across services", func(t *testing.T) {
		eps, err := dev.MatchCharacteristics(regexp.MustCompile(`^2a(19|37)$`))
		require.NoError(t, err)
		uuids := make([]string, 0, len(eps))
		for _, ep := range eps {
			uuids = append(uuids, ep.UUID())
		}
		assert.ElementsMatch(t, []string{"2a37", "2a19"}, uuids)
	})
}
