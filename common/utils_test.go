package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(0, 1, 8))
	assert.Equal(t, 8, Clamp(42, 1, 8))
	assert.Equal(t, 3, Clamp(3, 1, 8))
	assert.Equal(t, 0.5, Clamp(0.5, 0.0, 1.0))
}

func TestCoalesce(t *testing.T) {
	assert.Equal(t, "vulkan", Coalesce("", "vulkan", "wgpu"))
	assert.Equal(t, "", Coalesce("", ""))
	assert.Equal(t, 2, Coalesce(0, 2))
}

func TestDigitKey(t *testing.T) {
	assert.Equal(t, 0, DigitKey(Key0))
	assert.Equal(t, 8, DigitKey(Key8))
	assert.Equal(t, -1, DigitKey(KeyP))
	assert.Equal(t, -1, DigitKey(KeyEsc))
}
