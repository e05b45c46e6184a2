package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelRegistry_StopFileSignalsRegisteredHandle(t *testing.T) {
	r := newCancelRegistry()

	h := r.register(1, 100)
	assert.False(t, h.Stopped())

	require.True(t, r.StopFile(1, 100))
	assert.True(t, h.Stopped())
}

func TestCancelRegistry_StopFileUnknownKeyReturnsFalse(t *testing.T) {
	r := newCancelRegistry()
	assert.False(t, r.StopFile(1, 100))
}

func TestCancelRegistry_StopIsIdempotent(t *testing.T) {
	r := newCancelRegistry()
	h := r.register(1, 100)

	assert.True(t, r.StopFile(1, 100))
	assert.True(t, r.StopFile(1, 100)) // second call must not panic (close of closed channel)
	assert.True(t, h.Stopped())
}

func TestCancelRegistry_UnregisterRemovesEntry(t *testing.T) {
	r := newCancelRegistry()
	r.register(1, 100)
	r.unregister(1, 100)

	assert.False(t, r.StopFile(1, 100))
}

func TestCancelRegistry_StopSyncOnlyAffectsThatSync(t *testing.T) {
	r := newCancelRegistry()
	h1 := r.register(1, 100)
	h2 := r.register(2, 100)
	h3 := r.register(3, 200)

	r.StopSync(100)

	assert.True(t, h1.Stopped())
	assert.True(t, h2.Stopped())
	assert.False(t, h3.Stopped())
}

func TestCancelRegistry_StopAllAffectsEverything(t *testing.T) {
	r := newCancelRegistry()
	h1 := r.register(1, 100)
	h2 := r.register(2, 200)

	r.StopAll()

	assert.True(t, h1.Stopped())
	assert.True(t, h2.Stopped())
}

func TestCancelRegistry_SetHashPublishesOntoHandle(t *testing.T) {
	r := newCancelRegistry()
	h := r.register(1, 100)

	r.setHash(1, 100, "abc123")

	assert.Equal(t, "abc123", h.hash)
}
