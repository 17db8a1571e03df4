package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

func TestRegistryReplacesConnection(t *testing.T) {
	reg := NewRegistry()
	first := core.NewPeerSession("a", &fakeConn{})
	second := core.NewPeerSession("a", &fakeConn{})

	_, _, replaced := reg.BindSignal(first, nil)
	assert.False(t, replaced)

	cancelled := false
	old, cancel, replaced := reg.BindSignal(second, func() { cancelled = true })
	require.True(t, replaced)
	assert.Same(t, first, old)
	assert.Nil(t, cancel)

	// the stale connection going away must not unbind the new one
	assert.False(t, reg.Unbind(first))
	got, ok := reg.GetSession("a")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.False(t, reg.Cancel(first), "a replaced connection cannot cancel the new one")
	assert.False(t, cancelled)
	assert.True(t, reg.Cancel(second))
	assert.True(t, cancelled)
	assert.True(t, reg.Unbind(second))
	assert.Equal(t, 0, reg.Online())
}

func TestRegistryCallPairs(t *testing.T) {
	reg := NewRegistry()
	require.True(t, reg.Pair("a", "b"))

	other, ok := reg.PartnerOf("b")
	require.True(t, ok)
	assert.Equal(t, domain.PeerID("a"), other)

	// c cannot take b away from a
	assert.False(t, reg.Pair("c", "b"))
	other, _ = reg.PartnerOf("b")
	assert.Equal(t, domain.PeerID("a"), other)

	// a new call of b drops the old pair on both sides
	require.True(t, reg.Pair("b", "c"))
	_, ok = reg.PartnerOf("a")
	assert.False(t, ok)

	assert.False(t, reg.UnpairIf("c", "a"))
	assert.True(t, reg.UnpairIf("c", "b"))
	_, ok = reg.PartnerOf("b")
	assert.False(t, ok)

	_, ok = reg.Unpair("c")
	assert.False(t, ok)
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))

	rl.Forget("a")
	assert.True(t, rl.Allow("a"))
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0, time.Second)
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("a"))
	}
}
