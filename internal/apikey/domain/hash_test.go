package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidFormat(t *testing.T) {
	assert.True(t, ValidFormat("waka_0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.True(t, ValidFormat("0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.False(t, ValidFormat("waka_"))
	assert.False(t, ValidFormat("vk_live_key_abc"))
	assert.False(t, ValidFormat("0f8fad5bd9cb469fa16570867728950e"))
}

func TestHashKeyIsStable(t *testing.T) {
	assert.Equal(t, HashKey("a"), HashKey("a"))
	assert.NotEqual(t, HashKey("a"), HashKey("b"))
	assert.Len(t, HashKey("a"), 64)
}
