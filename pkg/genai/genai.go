// Copyright 2024-2026 Aiku AI

// Package genai implements the generative text and vision providers used to
// rewrite relayed posts and propose image captions.
package genai

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	defaultCandidateCount = 3
	defaultMaxTokens      = 120
	DefaultCacheSize      = 100
)

// Config selects and configures a provider.
type Config struct {
	Provider        string      `yaml:"provider"`
	APIKey          string      `yaml:"api_key"`
	BaseURL         string      `yaml:"base_url"`
	Model           string      `yaml:"model"`
	Persona         string      `yaml:"persona"`
	CandidateCount  int         `yaml:"candidate_count"`
	MaxOutputTokens int         `yaml:"max_output_tokens"`
	CacheSize       int         `yaml:"cache_size"`
	Retry           RetryConfig `yaml:"retry"`
}

func (c Config) withDefaults(baseURL, model string) Config {
	if c.BaseURL == "" {
		c.BaseURL = baseURL
	}
	if c.Model == "" {
		c.Model = model
	}
	if strings.TrimSpace(c.Persona) == "" {
		c.Persona = DefaultPersona
	}
	if c.CandidateCount <= 0 {
		c.CandidateCount = defaultCandidateCount
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = defaultMaxTokens
	}
	return c
}

// New creates the configured suggester wrapped in a rewrite cache. It
// returns nil without error when no API key is set, which disables
// enrichment.
func New(cfg Config, log zerolog.Logger) (relay.Suggester, error) {
	if cfg.APIKey == "" {
		log.Warn().Msg("No generative API key configured, posts will be relayed without AI enrichment")
		return nil, nil
	}
	var inner Provider
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		inner = NewGemini(cfg, log)
	case ProviderOpenAI:
		inner = NewOpenAI(cfg, log)
	default:
		return nil, fmt.Errorf("unknown generative provider %q", cfg.Provider)
	}
	size := cfg.CacheSize
	if size == 0 {
		size = DefaultCacheSize
	}
	if size < 0 {
		return inner, nil
	}
	cached, err := NewCachingSuggester(inner, size)
	if err != nil {
		return nil, err
	}
	return cached, nil
}
