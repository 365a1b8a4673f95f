// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
)

var errNoOperator = errors.New("no operator configured")

// Operator asks a human to choose a caption for a pending post.
type Operator interface {
	RequestCaptionChoice(ctx context.Context, post *PendingPost) error
}

// Outcome is the terminal state of one inbound post.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeDispatched
	OutcomeAwaitingApproval
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeAwaitingApproval:
		return "awaiting_approval"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// DecisionResult is the outcome of an operator decision.
type DecisionResult struct {
	Resolution *Resolution
	Report     DispatchReport
}

// Orchestrator drives every inbound post through pause and source checks,
// enrichment, approval and dispatch.
type Orchestrator struct {
	Config     ConfigSource
	Enricher   *Enricher
	Registry   *Registry
	Dispatcher *Dispatcher
	Stats      StatsRecorder
	Operator   Operator
	Log        zerolog.Logger
}

// HandlePost processes one inbound post. It is safe to call concurrently;
// a failure or panic only affects this post.
func (o *Orchestrator) HandlePost(ctx context.Context, post *InboundPost) (outcome Outcome) {
	log := o.Log.With().
		Str("origin", post.OriginID).
		Str("kind", string(post.Kind())).
		Logger()
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Any("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("Panic while relaying post")
			outcome = OutcomeFailed
		}
		postsTotal.WithLabelValues(outcome.String()).Inc()
	}()

	cfg := o.Config.Snapshot()
	if cfg == nil || cfg.Paused {
		log.Debug().Msg("Relay paused, ignoring post")
		return OutcomeSkipped
	}
	if !cfg.IsSource(post.OriginID, post.OriginHandle) {
		return OutcomeSkipped
	}

	enriched := o.Enricher.Enrich(ctx, post, cfg)
	log.Debug().Str("enrichment", enriched.Kind.String()).Msg("Enrichment decided")

	if enriched.Kind == ImageCaption {
		return o.awaitApproval(ctx, post, enriched, cfg, log)
	}

	report := o.Dispatcher.Dispatch(ctx, Content{
		Caption:    enriched.Text,
		Image:      post.Image,
		Attachment: post.Attachment,
	}, cfg.DestinationChannels, cfg.Watermark)
	o.recordStats(ctx, cfg, post.OriginID, post.Kind(), enriched.Kind == TextRewrite)

	log.Info().
		Int("succeeded", report.Succeeded).
		Int("total", report.Total).
		Msg("Relayed post")
	return OutcomeDispatched
}

func (o *Orchestrator) awaitApproval(ctx context.Context, post *InboundPost, enriched EnrichedContent, cfg *Config, log zerolog.Logger) Outcome {
	fallback := Tag(post.Body(), cfg.PromoTag)
	id := o.Registry.Register(post.OriginID, post.Kind(), post.Image, enriched.Candidates, fallback)

	pending, ok := o.Registry.Get(id)
	if !ok {
		log.Error().Str("pending_id", id).Msg("Pending post vanished right after registration")
		return OutcomeFailed
	}
	var err error
	if o.Operator == nil {
		err = errNoOperator
	} else {
		err = o.Operator.RequestCaptionChoice(ctx, pending)
	}
	if err != nil {
		log.Error().Err(err).Str("pending_id", id).Msg("Failed to ask operator for a caption, dropping post")
		_, _ = o.Registry.Resolve(id, Choice{Kind: ChoiceCancel})
		return OutcomeFailed
	}

	log.Info().
		Str("pending_id", id).
		Int("candidates", len(enriched.Candidates)).
		Msg("Waiting for operator caption choice")
	return OutcomeAwaitingApproval
}

// HandleDecision applies an operator decision to a pending post and
// dispatches it unless cancelled. ErrNotFound means the post expired or was
// already handled.
func (o *Orchestrator) HandleDecision(ctx context.Context, d Decision) (result *DecisionResult, err error) {
	log := o.Log.With().
		Str("pending_id", d.PostID).
		Str("choice", d.Choice.String()).
		Str("operator", d.UserID).
		Logger()
	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Any("panic", p).
				Bytes("stack", debug.Stack()).
				Msg("Panic while applying operator decision")
			result, err = nil, fmt.Errorf("panic while applying decision: %v", p)
		}
	}()

	res, err := o.Registry.Resolve(d.PostID, d.Choice)
	if err != nil {
		log.Debug().Err(err).Msg("Operator decision rejected")
		return nil, err
	}
	if res.Cancelled() {
		log.Info().Msg("Operator cancelled pending post")
		return &DecisionResult{Resolution: res}, nil
	}

	cfg := o.Config.Snapshot()
	if cfg == nil {
		cfg = &Config{}
	}
	report := o.Dispatcher.Dispatch(ctx, Content{
		Caption: res.Caption,
		Image:   res.Post.Image,
	}, cfg.DestinationChannels, cfg.Watermark)
	o.recordStats(ctx, cfg, res.Post.OriginID, res.Post.Kind, res.Choice.Kind == ChoiceCandidate)

	log.Info().
		Int("succeeded", report.Succeeded).
		Int("total", report.Total).
		Msg("Relayed approved post")
	return &DecisionResult{Resolution: res, Report: report}, nil
}

// Broadcast sends operator text to every destination, rewritten first when
// text enhancement is enabled. It returns the report and the text sent.
func (o *Orchestrator) Broadcast(ctx context.Context, text string) (DispatchReport, string) {
	cfg := o.Config.Snapshot()
	out, _ := o.Enricher.Rewrite(ctx, text, cfg)
	report := o.Dispatcher.Dispatch(ctx, Content{Caption: out}, cfg.DestinationChannels, cfg.Watermark)
	o.Log.Info().
		Int("succeeded", report.Succeeded).
		Int("total", report.Total).
		Msg("Broadcast finished")
	return report, out
}

func (o *Orchestrator) recordStats(ctx context.Context, cfg *Config, origin string, kind MessageKind, aiEnhanced bool) {
	if o.Stats == nil || !cfg.StatisticsEnabled {
		return
	}
	err := o.Stats.Record(ctx, StatRecord{
		ChannelID:   origin,
		MessageType: kind,
		AIEnhanced:  aiEnhanced,
		Timestamp:   time.Now(),
	})
	if err != nil {
		o.Log.Warn().Err(err).Str("origin", origin).Msg("Failed to record statistics")
	}
}
