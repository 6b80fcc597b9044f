package addons

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/modelpipe/sessionkit/pkg/types"
)

// CacheAddon memoizes responses keyed by (prompt, model, provider). On a hit
// the pre-request hook short-circuits the pipeline with the cached content,
// so the provider is never called and no cost accrues.
//
// Eviction is LRU when the entry cap is reached; reads refresh recency.
// Entries past the TTL are treated as misses and dropped on access.
type CacheAddon struct {
	NopAddon

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recent
	maxSize int
	ttl     time.Duration

	hits   int64
	misses int64
}

type cacheEntry struct {
	key      string
	content  string
	storedAt time.Time
}

// cacheKeyInput fixes the field order the key hash is computed over.
type cacheKeyInput struct {
	Prompt   string `json:"prompt"`
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

// NewCacheAddon creates a cache with the given entry cap and TTL.
// maxSize <= 0 means unbounded; ttl <= 0 means entries never expire.
func NewCacheAddon(maxSize int, ttl time.Duration) *CacheAddon {
	return &CacheAddon{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *CacheAddon) Name() string { return "cache" }

func (c *CacheAddon) Description() string {
	return "memoizes responses by prompt, model, and provider"
}

// Key returns the cache key for a request triple.
func (c *CacheAddon) Key(prompt, model, provider string) string {
	raw, _ := json.Marshal(cacheKeyInput{Prompt: prompt, Model: model, Provider: provider})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// PreRequest answers from the cache when possible. The key is computed over
// the prompt as rewritten by earlier addons, so prompt-transforming addons
// must be registered before the cache to share entries.
func (c *CacheAddon) PreRequest(ctx context.Context, prompt string, rc *Context) (PreRequestOutcome, error) {
	key := c.Key(prompt, rc.Model, rc.Provider)
	rc.Custom[KeyCacheKey] = key

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if ok {
		entry := el.Value.(*cacheEntry)
		if c.ttl > 0 && time.Since(entry.storedAt) > c.ttl {
			c.order.Remove(el)
			delete(c.entries, key)
			ok = false
		} else {
			c.order.MoveToFront(el)
			c.hits++
			rc.Custom[KeyCacheHit] = true
			return Final(entry.content), nil
		}
	}
	if !ok {
		c.misses++
		rc.Custom[KeyCacheHit] = false
	}
	return Unchanged(), nil
}

// PostRequest stores the response under the key computed during pre-request.
// Cache hits are not re-stored.
func (c *CacheAddon) PostRequest(ctx context.Context, resp *types.ChatResponse, rc *Context) (*types.ChatResponse, error) {
	if rc.GetBool(KeyCacheHit) || resp == nil {
		return resp, nil
	}
	key := rc.GetString(KeyCacheKey)
	if key == "" {
		key = c.Key(rc.Prompt, rc.Model, rc.Provider)
	}
	c.put(key, resp.Content)
	return resp, nil
}

func (c *CacheAddon) put(key, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).content = content
		el.Value.(*cacheEntry).storedAt = time.Now()
		c.order.MoveToFront(el)
		return
	}
	if c.maxSize > 0 && c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
	el := c.order.PushFront(&cacheEntry{key: key, content: content, storedAt: time.Now()})
	c.entries[key] = el
}

// Clear drops all entries. Hit and miss counters are preserved.
func (c *CacheAddon) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the number of live entries.
func (c *CacheAddon) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats reports hit and miss counters plus the current size.
func (c *CacheAddon) Stats() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return map[string]any{
		"hits":     c.hits,
		"misses":   c.misses,
		"hit_rate": hitRate,
		"size":     c.order.Len(),
		"max_size": c.maxSize,
	}
}
