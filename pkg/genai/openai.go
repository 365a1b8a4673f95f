// Copyright 2024-2026 Aiku AI

package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

const DefaultOpenAIModel = openai.GPT4oMini

// OpenAI talks to an OpenAI-compatible chat completions API. Requests go
// through a RetryingClient so rate limits follow the same backoff.
type OpenAI struct {
	client    *openai.Client
	model     string
	persona   string
	count     int
	maxTokens int
	log       zerolog.Logger
}

var _ relay.Suggester = (*OpenAI)(nil)

// NewOpenAI creates an OpenAI suggester. An empty base URL uses the
// public OpenAI endpoint.
func NewOpenAI(cfg Config, log zerolog.Logger) *OpenAI {
	cfg = cfg.withDefaults("", DefaultOpenAIModel)
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = NewRetryingClient(cfg.Retry, log)
	return &OpenAI{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     cfg.Model,
		persona:   cfg.Persona,
		count:     cfg.CandidateCount,
		maxTokens: cfg.MaxOutputTokens,
		log:       log.With().Str("provider", "openai").Str("model", cfg.Model).Logger(),
	}
}

// Model returns the configured model name.
func (o *OpenAI) Model() string {
	return o.model
}

// Persona returns the configured copywriter persona.
func (o *OpenAI) Persona() string {
	return o.persona
}

func (o *OpenAI) RewriteText(ctx context.Context, req relay.RewriteRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(WithPayloadKind(ctx, PayloadText), openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: rewriteSystemPrompt(o.persona, req.MaxLength)},
			{Role: openai.ChatMessageRoleUser, Content: req.Text},
		},
		MaxCompletionTokens: o.maxTokens,
		Temperature:         0.7,
	})
	if err != nil {
		return "", fmt.Errorf("failed to rewrite text: %w", normalizeOpenAIError(err))
	}
	text, err := firstChoice(resp)
	if err != nil {
		return "", fmt.Errorf("failed to rewrite text: %w", err)
	}
	return text, nil
}

func (o *OpenAI) SuggestCaptions(ctx context.Context, req relay.CaptionRequest) ([]relay.CaptionCandidate, error) {
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(req.Image)
	}
	dataURI := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
	resp, err := o.client.CreateChatCompletion(WithPayloadKind(ctx, PayloadImage), openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: captionPrompt(o.persona, req, o.count)},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURI,
					Detail: openai.ImageURLDetailLow,
				}},
			},
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0.8,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to suggest captions: %w", normalizeOpenAIError(err))
	}
	reply, err := firstChoice(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest captions: %w", err)
	}
	candidates := parseCandidates(reply, req.Locales)
	if len(candidates) == 0 {
		return nil, &APIError{Kind: ErrRequestFailed, Err: errEmptyReply}
	}
	o.log.Debug().Int("candidates", len(candidates)).Msg("Received caption candidates")
	return candidates, nil
}

func firstChoice(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", &APIError{Kind: ErrRequestFailed, Err: errEmptyReply}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &APIError{Kind: ErrRequestFailed, Err: errEmptyReply}
	}
	return text, nil
}

// normalizeOpenAIError maps client library errors onto the package's
// error kinds. Errors from the RetryingClient pass through unchanged.
func normalizeOpenAIError(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	status := 0
	var oaiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &oaiErr):
		status = oaiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == http.StatusTooManyRequests {
		return &APIError{Kind: ErrRateLimitExhausted, StatusCode: status, Err: err}
	}
	return &APIError{Kind: ErrRequestFailed, StatusCode: status, Err: err}
}
