package goble

import (
	"context"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/blekit/blekit/internal/groutine"
	"github.com/blekit/blekit/internal/transport"
)

// peer adapts a ble.Client to transport.Peer.
type peer struct {
	client  ble.Client
	addr    string
	timeout time.Duration
	logger  *logrus.Logger
}

func newPeer(client ble.Client, addr string, timeout time.Duration, logger *logrus.Logger) *peer {
	return &peer{
		client:  client,
		addr:    addr,
		timeout: timeout,
		logger:  logger,
	}
}

func (p *peer) Address() string { return p.addr }

func (p *peer) Name() string { return p.client.Name() }

func (p *peer) EnumerateServices(ctx context.Context) ([]transport.ServiceHandle, error) {
	services, err := await(ctx, p.timeout, func() ([]*ble.Service, error) {
		return p.client.DiscoverServices(nil)
	})
	if err != nil {
		return nil, NormalizeError(err)
	}

	handles := make([]transport.ServiceHandle, 0, len(services))
	for _, svc := range services {
		handles = append(handles, &serviceHandle{peer: p, svc: svc})
	}
	return handles, nil
}

// OnConnectionStatus monitors the go-ble Disconnected channel and reports
// link loss. The monitor goroutine exits when the channel fires or closes.
func (p *peer) OnConnectionStatus(fn func(transport.ConnectionStatus)) {
	groutine.Go(nil, "ble-link-monitor-"+p.addr, func(ctx context.Context) {
		<-p.client.Disconnected()
		p.logger.WithField("address", p.addr).Warn("Native stack reported disconnection")
		fn(transport.Disconnected)
	})
}

func (p *peer) Close() error {
	if err := p.client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	return nil
}

// serviceHandle adapts a *ble.Service.
type serviceHandle struct {
	peer *peer
	svc  *ble.Service
}

func (s *serviceHandle) UUID() string { return s.svc.UUID.String() }

func (s *serviceHandle) EnumerateCharacteristics(ctx context.Context) ([]transport.CharacteristicHandle, error) {
	chars, err := await(ctx, s.peer.timeout, func() ([]*ble.Characteristic, error) {
		return s.peer.client.DiscoverCharacteristics(nil, s.svc)
	})
	if err != nil {
		return nil, NormalizeError(err)
	}

	handles := make([]transport.CharacteristicHandle, 0, len(chars))
	for _, c := range chars {
		handles = append(handles, &characteristicHandle{peer: s.peer, char: c})
	}
	return handles, nil
}

// characteristicHandle adapts a *ble.Characteristic.
type characteristicHandle struct {
	peer *peer
	char *ble.Characteristic
}

func (c *characteristicHandle) UUID() string { return c.char.UUID.String() }

func (c *characteristicHandle) Properties() transport.Property {
	var p transport.Property
	if c.char.Property&ble.CharRead != 0 {
		p |= transport.PropertyRead
	}
	if c.char.Property&ble.CharWriteNR != 0 {
		p |= transport.PropertyWriteWithoutResponse
	}
	if c.char.Property&ble.CharWrite != 0 {
		p |= transport.PropertyWrite
	}
	if c.char.Property&ble.CharNotify != 0 {
		p |= transport.PropertyNotify
	}
	if c.char.Property&ble.CharIndicate != 0 {
		p |= transport.PropertyIndicate
	}
	return p
}

func (c *characteristicHandle) Read(ctx context.Context) ([]byte, error) {
	data, err := await(ctx, c.peer.timeout, func() ([]byte, error) {
		return c.peer.client.ReadCharacteristic(c.char)
	})
	if err != nil {
		return nil, NormalizeError(err)
	}
	return data, nil
}

func (c *characteristicHandle) Write(ctx context.Context, data []byte, withResponse bool) error {
	_, err := await(ctx, c.peer.timeout, func() (struct{}, error) {
		return struct{}{}, c.peer.client.WriteCharacteristic(c.char, data, !withResponse)
	})
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

func (c *characteristicHandle) SetNotify(ctx context.Context, enable bool, fn func([]byte)) error {
	_, err := await(ctx, c.peer.timeout, func() (struct{}, error) {
		if enable {
			return struct{}{}, c.peer.client.Subscribe(c.char, false, fn)
		}
		return struct{}{}, c.peer.client.Unsubscribe(c.char, false)
	})
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}
