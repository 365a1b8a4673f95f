// Copyright 2024-2026 Aiku AI

package genai

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// Provider is a suggester backed by one model and persona.
type Provider interface {
	relay.Suggester
	Model() string
	Persona() string
}

type rewriteKey struct {
	model     string
	persona   string
	maxLength int
	text      string
}

// CachingSuggester memoizes successful text rewrites. Caption suggestions
// are never cached.
type CachingSuggester struct {
	inner Provider
	cache *lru.Cache[rewriteKey, string]
}

var _ relay.Suggester = (*CachingSuggester)(nil)

// NewCachingSuggester wraps inner with an LRU cache holding up to size
// rewrites.
func NewCachingSuggester(inner Provider, size int) (*CachingSuggester, error) {
	cache, err := lru.New[rewriteKey, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create rewrite cache: %w", err)
	}
	return &CachingSuggester{inner: inner, cache: cache}, nil
}

func (c *CachingSuggester) RewriteText(ctx context.Context, req relay.RewriteRequest) (string, error) {
	key := rewriteKey{
		model:     c.inner.Model(),
		persona:   c.inner.Persona(),
		maxLength: req.MaxLength,
		text:      req.Text,
	}
	if text, ok := c.cache.Get(key); ok {
		cacheLookupsTotal.WithLabelValues("hit").Inc()
		return text, nil
	}
	cacheLookupsTotal.WithLabelValues("miss").Inc()
	text, err := c.inner.RewriteText(ctx, req)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, text)
	return text, nil
}

func (c *CachingSuggester) SuggestCaptions(ctx context.Context, req relay.CaptionRequest) ([]relay.CaptionCandidate, error) {
	return c.inner.SuggestCaptions(ctx, req)
}

// Len returns the number of cached rewrites.
func (c *CachingSuggester) Len() int {
	return c.cache.Len()
}
