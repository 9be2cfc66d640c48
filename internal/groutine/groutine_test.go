package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo(t *testing.T) {
	t.Run("propagates the name", func(t *testing.T) {
		got := make(chan string, 1)
		Go(context.Background(), "worker-1", func(ctx context.Context) {
			got <- Name(ctx)
		})
		select {
		case name := <-got:
			assert.Equal(t, "worker-1", name)
		case <-time.After(time.Second):
			t.Fatal("goroutine did not run")
		}
	})

	t.Run("nil parent context", func(t *testing.T) {
		done := make(chan struct{})
		Go(nil, "worker-2", func(ctx context.Context) {
			require.NotNil(t, ctx)
			close(done)
		})
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("goroutine did not run")
		}
	})
}

func TestName(t *testing.T) {
	assert.Empty(t, Name(nil))
	assert.Empty(t, Name(context.Background()))
}
