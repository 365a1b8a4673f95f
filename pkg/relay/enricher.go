// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// RewriteRequest describes one text rewrite.
type RewriteRequest struct {
	Text      string
	MaxLength int
}

// CaptionRequest describes one image captioning call.
type CaptionRequest struct {
	Image     []byte
	MimeType  string
	Caption   string
	MaxLength int
	Locales   []string
}

// Suggester is the generative text and vision capability. Implementations
// return typed errors and never panic.
type Suggester interface {
	RewriteText(ctx context.Context, req RewriteRequest) (string, error)
	SuggestCaptions(ctx context.Context, req CaptionRequest) ([]CaptionCandidate, error)
}

// EnrichedKind says how a post's outgoing text was produced.
type EnrichedKind int

const (
	PassThrough EnrichedKind = iota
	TextRewrite
	ImageCaption
)

func (k EnrichedKind) String() string {
	switch k {
	case TextRewrite:
		return "text_rewrite"
	case ImageCaption:
		return "image_caption"
	default:
		return "pass_through"
	}
}

// EnrichedContent is the enrichment decision for one post. Text is set for
// TextRewrite and PassThrough, Candidates for ImageCaption.
type EnrichedContent struct {
	Kind       EnrichedKind
	Text       string
	Candidates []CaptionCandidate
}

// Enricher decides whether and how to replace a post's text.
type Enricher struct {
	suggester Suggester
	log       zerolog.Logger
}

// NewEnricher creates an Enricher. A nil suggester disables all generative
// calls and every post passes through.
func NewEnricher(suggester Suggester, log zerolog.Logger) *Enricher {
	return &Enricher{
		suggester: suggester,
		log:       log.With().Str("component", "enricher").Logger(),
	}
}

// Enrich returns the enrichment decision for post. It never fails: API
// errors fall back to the original text with the promo tag.
func (e *Enricher) Enrich(ctx context.Context, post *InboundPost, cfg *Config) EnrichedContent {
	body := post.Body()
	passThrough := EnrichedContent{Kind: PassThrough, Text: Tag(body, cfg.PromoTag)}
	if e.suggester == nil {
		return passThrough
	}

	if len(post.Image) > 0 && cfg.ImageAnalysisEnabled {
		candidates, err := e.suggester.SuggestCaptions(ctx, CaptionRequest{
			Image:     post.Image,
			Caption:   body,
			MaxLength: cfg.MaxMessageLength,
			Locales:   cfg.Locales,
		})
		if err != nil {
			e.log.Warn().Err(err).Str("origin", post.OriginID).Msg("Caption suggestion failed, passing through")
			return passThrough
		}
		candidates = capCandidates(candidates, cfg.MaxMessageLength)
		if len(candidates) == 0 {
			e.log.Warn().Str("origin", post.OriginID).Msg("Caption suggestion returned no usable candidates")
			return passThrough
		}
		return EnrichedContent{Kind: ImageCaption, Candidates: candidates}
	}

	if strings.TrimSpace(body) != "" && cfg.TextEnhancementEnabled {
		text, err := e.suggester.RewriteText(ctx, RewriteRequest{Text: body, MaxLength: cfg.MaxMessageLength})
		if err != nil {
			e.log.Warn().Err(err).Str("origin", post.OriginID).Msg("Text rewrite failed, passing through")
			return passThrough
		}
		text = strings.TrimSpace(text)
		if text == "" {
			e.log.Warn().Str("origin", post.OriginID).Msg("Text rewrite returned empty text, passing through")
			return passThrough
		}
		return EnrichedContent{Kind: TextRewrite, Text: Truncate(text, cfg.MaxMessageLength)}
	}

	return passThrough
}

// Rewrite rewrites free text such as a broadcast. The original text is
// returned unchanged on any failure.
func (e *Enricher) Rewrite(ctx context.Context, text string, cfg *Config) (string, bool) {
	if e.suggester == nil || !cfg.TextEnhancementEnabled || strings.TrimSpace(text) == "" {
		return text, false
	}
	out, err := e.suggester.RewriteText(ctx, RewriteRequest{Text: text, MaxLength: cfg.MaxMessageLength})
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			e.log.Warn().Err(err).Msg("Rewrite failed, using original text")
		}
		return text, false
	}
	return Truncate(strings.TrimSpace(out), cfg.MaxMessageLength), true
}

// capCandidates trims every variant to max and drops candidates left
// without any text.
func capCandidates(in []CaptionCandidate, max int) []CaptionCandidate {
	out := make([]CaptionCandidate, 0, len(in))
	for _, c := range in {
		variants := make(map[string]string, len(c.Variants))
		for locale, text := range c.Variants {
			if text = strings.TrimSpace(text); text != "" {
				variants[locale] = Truncate(text, max)
			}
		}
		if len(variants) == 0 {
			continue
		}
		tactic := c.Tactic
		if tactic == "" {
			tactic = "default"
		}
		out = append(out, CaptionCandidate{Tactic: tactic, Variants: variants})
	}
	return out
}
