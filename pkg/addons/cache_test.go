package addons

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelpipe/sessionkit/pkg/types"
)

func TestCacheMissThenHit(t *testing.T) {
	c := NewCacheAddon(10, 0)
	ctx := context.Background()

	rc := NewContext("req-1", "what is go", "gpt-4o", "openai")
	outcome, err := c.PreRequest(ctx, rc.Prompt, rc)
	require.NoError(t, err)
	_, final := outcome.Final()
	assert.False(t, final)
	assert.False(t, rc.GetBool(KeyCacheHit))

	_, err = c.PostRequest(ctx, &types.ChatResponse{Content: "a language"}, rc)
	require.NoError(t, err)

	rc2 := NewContext("req-2", "what is go", "gpt-4o", "openai")
	outcome, err = c.PreRequest(ctx, rc2.Prompt, rc2)
	require.NoError(t, err)
	content, final := outcome.Final()
	require.True(t, final)
	assert.Equal(t, "a language", content)
	assert.True(t, rc2.GetBool(KeyCacheHit))

	stats := c.Stats()
	assert.Equal(t, int64(1), stats["hits"])
	assert.Equal(t, int64(1), stats["misses"])
	assert.Equal(t, 0.5, stats["hit_rate"])
}

func TestCacheKeyVariesByModelAndProvider(t *testing.T) {
	c := NewCacheAddon(10, 0)
	base := c.Key("prompt", "gpt-4o", "openai")

	assert.NotEqual(t, base, c.Key("prompt", "gpt-4o-mini", "openai"))
	assert.NotEqual(t, base, c.Key("prompt", "gpt-4o", "azure"))
	assert.Equal(t, base, c.Key("prompt", "gpt-4o", "openai"))
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewCacheAddon(2, 0)
	ctx := context.Background()

	store := func(prompt, content string) {
		rc := NewContext("req", prompt, "m", "p")
		_, err := c.PreRequest(ctx, rc.Prompt, rc)
		require.NoError(t, err)
		_, err = c.PostRequest(ctx, &types.ChatResponse{Content: content}, rc)
		require.NoError(t, err)
	}
	lookup := func(prompt string) (string, bool) {
		rc := NewContext("req", prompt, "m", "p")
		outcome, err := c.PreRequest(ctx, rc.Prompt, rc)
		require.NoError(t, err)
		return outcome.Final()
	}

	store("one", "1")
	store("two", "2")

	// Touch "one" so "two" is the LRU victim.
	_, hit := lookup("one")
	require.True(t, hit)

	store("three", "3")
	assert.Equal(t, 2, c.Len())

	_, hit = lookup("two")
	assert.False(t, hit)
	_, hit = lookup("one")
	assert.True(t, hit)
	_, hit = lookup("three")
	assert.True(t, hit)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCacheAddon(10, 10*time.Millisecond)
	ctx := context.Background()

	rc := NewContext("req-1", "prompt", "m", "p")
	_, err := c.PreRequest(ctx, rc.Prompt, rc)
	require.NoError(t, err)
	_, err = c.PostRequest(ctx, &types.ChatResponse{Content: "fresh"}, rc)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	rc2 := NewContext("req-2", "prompt", "m", "p")
	outcome, err := c.PreRequest(ctx, rc2.Prompt, rc2)
	require.NoError(t, err)
	_, final := outcome.Final()
	assert.False(t, final)
	assert.Equal(t, 0, c.Len())
}

func TestCacheHitNotRestored(t *testing.T) {
	c := NewCacheAddon(10, 0)
	ctx := context.Background()

	rc := NewContext("req-1", "prompt", "m", "p")
	_, err := c.PreRequest(ctx, rc.Prompt, rc)
	require.NoError(t, err)
	_, err = c.PostRequest(ctx, &types.ChatResponse{Content: "v1"}, rc)
	require.NoError(t, err)

	rc2 := NewContext("req-2", "prompt", "m", "p")
	_, err = c.PreRequest(ctx, rc2.Prompt, rc2)
	require.NoError(t, err)
	// Post-request on a hit must not overwrite the stored entry.
	_, err = c.PostRequest(ctx, &types.ChatResponse{Content: "mutated"}, rc2)
	require.NoError(t, err)

	rc3 := NewContext("req-3", "prompt", "m", "p")
	outcome, err := c.PreRequest(ctx, rc3.Prompt, rc3)
	require.NoError(t, err)
	content, final := outcome.Final()
	require.True(t, final)
	assert.Equal(t, "v1", content)
}

func TestCacheClearKeepsCounters(t *testing.T) {
	c := NewCacheAddon(10, 0)
	ctx := context.Background()

	rc := NewContext("req-1", "prompt", "m", "p")
	_, err := c.PreRequest(ctx, rc.Prompt, rc)
	require.NoError(t, err)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), c.Stats()["misses"])
}
