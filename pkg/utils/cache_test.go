package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRegistry(t *testing.T) {
	state := GenerateRandomString(32)
	RegisterState(state, "ebay")

	svc, ok := LookupState(state)
	require.True(t, ok, "登记后的 state 应能查到")
	assert.Equal(t, "ebay", svc)

	ReleaseState(state)
	_, ok = LookupState(state)
	assert.False(t, ok, "注销后的 state 不应再查到")
}

func TestLookupState_Unknown(t *testing.T) {
	_, ok := LookupState("never-registered")
	assert.False(t, ok)
}

func TestGenerateRandomString(t *testing.T) {
	a := GenerateRandomString(32)
	b := GenerateRandomString(32)

	assert.Len(t, a, 32)
	assert.Len(t, b, 32)
	assert.NotEqual(t, a, b, "两次生成不应相同")
}
