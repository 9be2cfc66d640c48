package gatt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blekit/blekit/internal/transport"
)

func TestStateError(t *testing.T) {
	err := &StateError{State: NotResponding, Msg: "peer gone"}
	assert.Equal(t, "not_responding: peer gone", err.Error())
	assert.Equal(t, "not_available", ErrNotAvailable.Error())

	assert.ErrorIs(t, err, ErrNotResponding)
	assert.NotErrorIs(t, err, ErrNotAvailable)

	wrapped := fmt.Errorf("read failed: %w", err)
	assert.ErrorIs(t, wrapped, ErrNotResponding)
	assert.True(t, IsState(wrapped, NotResponding))
	assert.False(t, IsState(wrapped, OperationFailed))
	assert.False(t, IsState(errors.New("plain"), NotResponding))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want State
	}{
		{"unreachable sentinel", transport.ErrUnreachable, NotResponding},
		{"wrapped unreachable", fmt.Errorf("dial: %w", transport.ErrUnreachable), NotResponding},
		{"not connected text", errors.New("ATT request failed: not connected"), NotResponding},
		{"connection canceled text", errors.New("Connection Canceled"), NotResponding},
		{"already connected text", errors.New("peer already connected"), AlreadyConnected},
		{"anything else", errors.New("att: invalid handle"), OperationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.in)
			require.Error(t, got)
			assert.True(t, IsState(got, tt.want), "got %v", got)
		})
	}

	assert.NoError(t, NormalizeError(nil))
}
