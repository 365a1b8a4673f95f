// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Template is a stored message template with {placeholder} fields.
type Template struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"created_at"`
}

// Render substitutes {key} placeholders. Placeholders without a value are
// left untouched.
func (t *Template) Render(vars map[string]string) string {
	if len(vars) == 0 {
		return t.Content
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(t.Content)
}

// TemplateSource picks templates for scheduled posts.
type TemplateSource interface {
	// RandomTemplate returns a random template of the category, or nil if
	// there is none.
	RandomTemplate(ctx context.Context, category string) (*Template, error)
}

const (
	PromoCategory      = "promo"
	promoWindow        = time.Hour
	defaultTickEvery   = time.Minute
	promoTimeLayout    = "15:04"
	scheduleDateLayout = "2006-01-02"
)

// Scheduler posts one promo template per day at the configured time.
type Scheduler struct {
	Orchestrator *Orchestrator
	Templates    TemplateSource
	Now          func() time.Time
	Log          zerolog.Logger

	mu          sync.Mutex
	lastSentDay string
	lastBadTime string
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Run checks the schedule every interval until ctx is done. Pass 0 to use
// the default of one minute.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = defaultTickEvery
	}
	s.Log.Info().Dur("interval", interval).Msg("Starting promo scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("Promo scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick sends today's promo if it is due and not yet sent. The promo is due
// during the hour following the configured time. A template store error or
// a dispatch that reaches no destination leaves the day open for the next
// tick. It reports whether a promo was dispatched.
func (s *Scheduler) Tick(ctx context.Context) bool {
	cfg := s.Orchestrator.Config.Snapshot()
	if cfg == nil || !cfg.AutoScheduleEnabled || cfg.Paused {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at, err := time.Parse(promoTimeLayout, cfg.DailyPromoTime)
	if err != nil {
		if s.lastBadTime != cfg.DailyPromoTime {
			s.lastBadTime = cfg.DailyPromoTime
			s.Log.Error().Str("daily_promo_time", cfg.DailyPromoTime).Msg("Invalid daily promo time, expected HH:MM")
		}
		return false
	}
	now := s.now()
	due := time.Date(now.Year(), now.Month(), now.Day(), at.Hour(), at.Minute(), 0, 0, now.Location())
	today := now.Format(scheduleDateLayout)
	if now.Before(due) || now.Sub(due) >= promoWindow || s.lastSentDay == today {
		return false
	}
	tpl, err := s.Templates.RandomTemplate(ctx, PromoCategory)
	if err != nil {
		s.Log.Error().Err(err).Msg("Failed to load promo template, retrying on the next tick")
		return false
	}
	if tpl == nil {
		s.lastSentDay = today
		s.Log.Warn().Msg("No promo templates stored, skipping daily promo")
		return false
	}

	report := s.Orchestrator.Dispatcher.Dispatch(ctx, Content{Caption: tpl.Render(cfg.PromoVars)}, cfg.DestinationChannels, cfg.Watermark)
	if report.Total > 0 && report.Succeeded == 0 {
		s.Log.Warn().
			Str("template", tpl.Name).
			Int("total", report.Total).
			Msg("Daily promo reached no destination, retrying on the next tick")
		return false
	}
	s.lastSentDay = today
	s.Log.Info().
		Str("template", tpl.Name).
		Int("succeeded", report.Succeeded).
		Int("total", report.Total).
		Msg("Sent daily promo")
	return true
}
