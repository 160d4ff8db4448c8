package git

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheHitAndMiss(t *testing.T) {
	c := NewCache(time.Minute)

	_, ok := c.Get("/tmp/proj")
	assert.False(t, ok)

	c.Set("/tmp/proj", &Info{RepoRoot: "/tmp/proj", Branch: "main", UpdatedAt: time.Now()})
	info, ok := c.Get("/tmp/proj")
	require.True(t, ok)
	assert.Equal(t, "main", info.Branch)

	c.Delete("/tmp/proj")
	_, ok = c.Get("/tmp/proj")
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	c.Set("/tmp/proj", &Info{Branch: "main", UpdatedAt: time.Now().Add(-time.Second)})

	_, ok := c.Get("/tmp/proj")
	assert.False(t, ok, "stale entries read as misses")
}

func TestResolveOutsideRepo(t *testing.T) {
	assert.Nil(t, Resolve(t.TempDir()))
}
