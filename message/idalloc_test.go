package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDAllocator_StartsAtOne(t *testing.T) {
	a := NewIDAllocator()
	assert.Equal(t, uint32(1), a.Next())
	assert.Equal(t, uint32(2), a.Next())
	assert.Equal(t, uint32(3), a.Next())
}

func TestIDAllocator_WrapsAroundWithoutHittingZero(t *testing.T) {
	a := &IDAllocator{next: 1<<32 - 1}
	assert.Equal(t, uint32(1<<32-1), a.Next(), "last valid id before wrap")
	assert.Equal(t, uint32(1), a.Next(), "wraps to 1, never 0")
	assert.Equal(t, uint32(2), a.Next())
}
