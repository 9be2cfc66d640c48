package gatt

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blekit/blekit/internal/bledb"
	"github.com/blekit/blekit/internal/transport"
)

// RetryPolicy bounds the enumeration retry loop that compensates for the
// radio stack returning empty results right after connection.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy matches the behavior observed to be necessary on the
// platform stacks this engine targets.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 10, Delay: 25 * time.Millisecond}
}

// Service wraps one GATT service. Its endpoint list is built once during
// device configuration and fixed afterwards.
type Service struct {
	device    *Device
	uuid      string
	knownName string
	handle    transport.ServiceHandle
	logger    *logrus.Logger

	// immutable after configure returns
	endpoints []*Endpoint
	byUUID    map[string]*Endpoint
}

func newService(dev *Device, handle transport.ServiceHandle, logger *logrus.Logger) *Service {
	rawUUID := handle.UUID()
	return &Service{
		device:    dev,
		uuid:      bledb.NormalizeUUID(rawUUID),
		knownName: bledb.LookupService(rawUUID),
		handle:    handle,
		logger:    logger,
		byUUID:    make(map[string]*Endpoint),
	}
}

// UUID returns the normalized service UUID.
func (s *Service) UUID() string { return s.uuid }

// KnownName returns the well-known SIG name, or "".
func (s *Service) KnownName() string { return s.knownName }

// Device returns the owning device.
func (s *Service) Device() *Device { return s.device }

// configure enumerates characteristics with the retry-on-empty policy and
// builds one endpoint per returned handle. A failed enumeration call
// leaves the service with zero endpoints; that is not fatal for the
// device, but endpoint lookups on this service will report not available.
func (s *Service) configure(ctx context.Context, retry RetryPolicy) {
	handles, err := enumerateWithRetry(ctx, retry, func(ctx context.Context) ([]transport.CharacteristicHandle, error) {
		return s.handle.EnumerateCharacteristics(ctx)
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"service": s.uuid,
			"error":   err,
		}).Warn("Characteristic enumeration failed, service has no endpoints")
		return
	}

	for _, h := range handles {
		ep := newEndpoint(s, h, s.logger)
		if _, dup := s.byUUID[ep.UUID()]; dup {
			continue
		}
		s.endpoints = append(s.endpoints, ep)
		s.byUUID[ep.UUID()] = ep
	}

	s.logger.WithFields(logrus.Fields{
		"service":   s.uuid,
		"endpoints": len(s.endpoints),
	}).Debug("Service configured")
}

// Endpoints returns the configured endpoints in enumeration order.
func (s *Service) Endpoints() []*Endpoint {
	return s.endpoints
}

// Endpoint retrieves an endpoint by characteristic UUID.
func (s *Service) Endpoint(uuid string) (*Endpoint, error) {
	ep, ok := s.byUUID[bledb.NormalizeUUID(uuid)]
	if !ok {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}
	}
	return ep, nil
}

// EndpointAt retrieves an endpoint by its position in enumeration order.
func (s *Service) EndpointAt(index int) (*Endpoint, error) {
	if index < 0 || index >= len(s.endpoints) {
		return nil, &NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{s.uuid, fmt.Sprintf("index %d", index)},
		}
	}
	return s.endpoints[index], nil
}

// enumerateWithRetry runs enumerate until it returns a non-empty result,
// fails, or the retry budget is exhausted. The delay is spent without any
// engine lock held; ctx cancellation aborts the wait.
func enumerateWithRetry[T any](ctx context.Context, retry RetryPolicy, enumerate func(context.Context) ([]T, error)) ([]T, error) {
	var result []T
	for attempt := 0; ; attempt++ {
		items, err := enumerate(ctx)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 || attempt >= retry.Attempts {
			result = items
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry.Delay):
		}
	}
	return result, nil
}
