package payment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestMethodValid(t *testing.T) {
	assert.True(t, MethodPush.Valid())
	assert.True(t, MethodDirect.Valid())
	assert.False(t, Method("carrier-pigeon").Valid())
	assert.False(t, Method("").Valid())
}

func TestReferencePrefersExternal(t *testing.T) {
	ext := "ws_CO_123456789"
	p := &Payment{
		LocalReference:    "MLP1700000000000ABCDEF01",
		ExternalReference: &ext,
	}
	assert.Equal(t, ext, p.Reference())

	p.ExternalReference = nil
	assert.Equal(t, p.LocalReference, p.Reference())

	empty := ""
	p.ExternalReference = &empty
	assert.Equal(t, p.LocalReference, p.Reference())
}

func TestNewLocalReference(t *testing.T) {
	ref := NewLocalReference()

	assert.True(t, strings.HasPrefix(ref, "MLP"))
	assert.Equal(t, ref, strings.ToUpper(ref))

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		r := NewLocalReference()
		assert.False(t, seen[r], "reference %s generated twice", r)
		seen[r] = true
	}
}
