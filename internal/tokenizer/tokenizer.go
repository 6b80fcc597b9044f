// Package tokenizer counts tokens for cost estimation. It uses tiktoken
// encodings when they can be loaded and falls back to a characters/4
// heuristic, so counting never fails outright.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerToken is the heuristic used when no encoding is available.
const charsPerToken = 4

// Counter counts tokens per model. Encodings are cached after first load.
type Counter struct {
	mu        sync.Mutex
	encodings map[string]*tiktoken.Tiktoken
	failed    map[string]bool
}

// NewCounter creates a counter.
func NewCounter() *Counter {
	return &Counter{
		encodings: make(map[string]*tiktoken.Tiktoken),
		failed:    make(map[string]bool),
	}
}

// Count returns the token count of text for model. The heuristic fallback is
// used when the model's encoding is unknown or cannot be loaded (tiktoken
// fetches encoding data remotely on first use).
func (c *Counter) Count(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoding(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Exact reports whether Count uses a real encoding for model rather than the
// heuristic.
func (c *Counter) Exact(model string) bool {
	return c.encoding(model) != nil
}

func (c *Counter) encoding(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encodings[model]; ok {
		return enc
	}
	if c.failed[model] {
		return nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		c.failed[model] = true
		return nil
	}
	c.encodings[model] = enc
	return enc
}

// Estimate returns the heuristic token count for text.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	tokens := n / charsPerToken
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
