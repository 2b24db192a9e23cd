// ABOUTME: Tests for the replay-suppression cache.
// ABOUTME: Covers first-seen semantics, TTL expiry, and size-bounded eviction.

package dedupe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SeenRecordsOnFirstCall(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("cmd:1"))
	assert.True(t, c.Seen("cmd:1"))
	assert.False(t, c.Seen("cmd:2"), "distinct ids do not collide")
	assert.Equal(t, 2, c.Len())
}

func TestCache_ExpiredEntryTreatedAsUnseen(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	assert.False(t, c.Seen("xfer:1"))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, c.Seen("xfer:1"))
	assert.True(t, c.Seen("xfer:1"))
}

func TestCache_EvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := 0; i < 3; i++ {
		c.Seen(fmt.Sprintf("cmd:%d", i))
	}
	c.Seen("cmd:3")

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("cmd:0"), "oldest entry was evicted")
	assert.True(t, c.Seen("cmd:3"))
}

func TestCache_CloseIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
