package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimFilter(t *testing.T) {
	resetName := func() { claimName = "" }

	t.Run("by address", func(t *testing.T) {
		defer resetName()
		filter, target, err := claimFilter([]string{"AA:BB:CC:DD:EE:01"})
		require.NoError(t, err)
		require.NotNil(t, filter)
		assert.Equal(t, "aa:bb:cc:dd:ee:01", target)
	})

	t.Run("by name regex", func(t *testing.T) {
		defer resetName()
		claimName = "^Thermo"
		filter, target, err := claimFilter(nil)
		require.NoError(t, err)
		require.NotNil(t, filter)
		assert.Equal(t, "^Thermo", target)
	})

	t.Run("invalid regex", func(t *testing.T) {
		defer resetName()
		claimName = "["
		_, _, err := claimFilter(nil)
		assert.Error(t, err)
	})

	t.Run("both given", func(t *testing.T) {
		defer resetName()
		claimName = "Thermo"
		_, _, err := claimFilter([]string{"aa:bb:cc:dd:ee:01"})
		assert.Error(t, err)
	})

	t.Run("neither given", func(t *testing.T) {
		defer resetName()
		_, _, err := claimFilter(nil)
		assert.Error(t, err)
	})
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "v2.0", formatVersion("v2.0"))
}
