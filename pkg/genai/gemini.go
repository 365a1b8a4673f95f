// Copyright 2024-2026 Aiku AI

package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.0-flash"
)

var errEmptyReply = errors.New("empty reply from model")

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Gemini talks to the Gemini generateContent REST API.
type Gemini struct {
	client    *RetryingClient
	endpoint  string
	model     string
	persona   string
	count     int
	maxTokens int
	log       zerolog.Logger
}

var _ relay.Suggester = (*Gemini)(nil)

// NewGemini creates a Gemini suggester. The API key is sent in the
// x-goog-api-key header rather than the URL.
func NewGemini(cfg Config, log zerolog.Logger) *Gemini {
	cfg = cfg.withDefaults(DefaultGeminiBaseURL, DefaultGeminiModel)
	client := NewRetryingClient(cfg.Retry, log, WithHeader("x-goog-api-key", cfg.APIKey))
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/v1beta/models/" + url.PathEscape(cfg.Model) + ":generateContent"
	return &Gemini{
		client:    client,
		endpoint:  endpoint,
		model:     cfg.Model,
		persona:   cfg.Persona,
		count:     cfg.CandidateCount,
		maxTokens: cfg.MaxOutputTokens,
		log:       log.With().Str("provider", "gemini").Str("model", cfg.Model).Logger(),
	}
}

// Model returns the configured model name.
func (g *Gemini) Model() string {
	return g.model
}

// Persona returns the configured copywriter persona.
func (g *Gemini) Persona() string {
	return g.persona
}

func (g *Gemini) RewriteText(ctx context.Context, req relay.RewriteRequest) (string, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Text}}}},
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: rewriteSystemPrompt(g.persona, req.MaxLength)}},
		},
		GenerationConfig: geminiGenerationConfig{MaxOutputTokens: g.maxTokens, Temperature: 0.7},
	}
	text, err := g.generate(ctx, payload, PayloadText)
	if err != nil {
		return "", fmt.Errorf("failed to rewrite text: %w", err)
	}
	return text, nil
}

func (g *Gemini) SuggestCaptions(ctx context.Context, req relay.CaptionRequest) ([]relay.CaptionCandidate, error) {
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: captionPrompt(g.persona, req, g.count)},
				{InlineData: &geminiInlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(req.Image)}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:      0.8,
			ResponseMimeType: "application/json",
		},
	}
	reply, err := g.generate(ctx, payload, PayloadImage)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest captions: %w", err)
	}
	candidates := parseCandidates(reply, req.Locales)
	if len(candidates) == 0 {
		return nil, &APIError{Kind: ErrRequestFailed, Err: errEmptyReply}
	}
	g.log.Debug().Int("candidates", len(candidates)).Msg("Received caption candidates")
	return candidates, nil
}

func (g *Gemini) generate(ctx context.Context, payload geminiRequest, kind PayloadKind) (string, error) {
	resp, err := g.client.Call(ctx, g.endpoint, payload, kind)
	if err != nil {
		return "", err
	}
	var decoded geminiResponse
	if err = json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", &APIError{Kind: ErrRequestFailed, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if len(decoded.Candidates) == 0 || len(decoded.Candidates[0].Content.Parts) == 0 {
		return "", &APIError{Kind: ErrRequestFailed, StatusCode: resp.StatusCode, Err: errEmptyReply}
	}
	text := strings.TrimSpace(decoded.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", &APIError{Kind: ErrRequestFailed, StatusCode: resp.StatusCode, Err: errEmptyReply}
	}
	return text, nil
}
