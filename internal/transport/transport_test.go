package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPropertyHelpers(t *testing.T) {
	assert.True(t, PropertyRead.CanRead())
	assert.False(t, PropertyRead.CanWrite())
	assert.False(t, PropertyRead.CanNotify())

	assert.True(t, PropertyWrite.CanWrite())
	assert.True(t, PropertyWriteWithoutResponse.CanWrite())

	assert.True(t, PropertyNotify.CanNotify())
	assert.True(t, PropertyIndicate.CanNotify())

	combined := PropertyRead | PropertyNotify
	assert.True(t, combined.CanRead())
	assert.True(t, combined.CanNotify())
	assert.False(t, combined.CanWrite())
}
