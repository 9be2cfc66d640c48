package goble

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blekit/blekit/internal/transport"
)

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name            string
		in              error
		wantUnreachable bool
	}{
		{"not connected", errors.New("ble: device not connected"), true},
		{"disconnected", errors.New("peer Disconnected"), true},
		{"connection canceled", errors.New("connection canceled by remote"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("read: %w", context.DeadlineExceeded), true},
		{"other error untouched", errors.New("att: invalid pdu"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeError(tt.in)
			assert.Equal(t, tt.wantUnreachable, errors.Is(got, transport.ErrUnreachable), "got %v", got)
		})
	}

	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, NormalizeError(nil))
	})

	t.Run("already normalized passes through", func(t *testing.T) {
		assert.Equal(t, transport.ErrUnreachable, NormalizeError(transport.ErrUnreachable))
	})
}

func TestNormalizeScanError(t *testing.T) {
	assert.NoError(t, normalizeScanError(nil))
	assert.NoError(t, normalizeScanError(context.Canceled))
	assert.NoError(t, normalizeScanError(context.DeadlineExceeded))

	hw := errors.New("hci: device busy")
	assert.Equal(t, hw, normalizeScanError(hw))
}
