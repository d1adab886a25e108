package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	assert.True(t, Trial.Valid())
	assert.True(t, Basic.Valid())
	assert.True(t, Gamer.Valid())
	assert.True(t, Venue.Valid())
	assert.False(t, Plan("platinum").Valid())
	assert.False(t, Plan("").Valid())
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Free Trial", Trial.DisplayName())
	assert.Equal(t, "Gamer Plan", Gamer.DisplayName())
	assert.Equal(t, "Business Plan", Venue.DisplayName())
	assert.Equal(t, "mystery", Plan("mystery").DisplayName())
}
