package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	id := NewID("rt")
	assert.True(t, strings.HasPrefix(id, "rt_"))
	assert.Len(t, id, len("rt_")+32)
	assert.NotEqual(t, id, NewID("rt"))
	assert.Len(t, NewID(""), 32)
}

func TestNewSecret(t *testing.T) {
	assert.Len(t, NewSecret(32), 64)
}
