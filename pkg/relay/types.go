// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// MessageKind classifies an inbound post for dispatch and statistics.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindPhoto    MessageKind = "photo"
	KindVideo    MessageKind = "video"
	KindDocument MessageKind = "document"
)

// Attachment is a non-image media reference carried by an inbound post.
// The bytes are fetched lazily, once per dispatch.
type Attachment struct {
	Kind     MessageKind
	Name     string
	MimeType string
	Download func(ctx context.Context) ([]byte, error)
}

// InboundPost is an immutable snapshot of a post received from a source
// channel.
type InboundPost struct {
	// OriginID is the raw channel identifier (Mattermost channel ID or Matrix room ID).
	OriginID string
	// OriginHandle is the public handle of the channel (~name or #alias:server).
	OriginHandle string

	Text       string
	Caption    string
	Image      []byte
	Attachment *Attachment
	ReceivedAt time.Time
}

// Kind returns the message kind used for dispatch and statistics.
func (p *InboundPost) Kind() MessageKind {
	switch {
	case len(p.Image) > 0:
		return KindPhoto
	case p.Attachment != nil && p.Attachment.Kind == KindVideo:
		return KindVideo
	case p.Attachment != nil:
		return KindDocument
	default:
		return KindText
	}
}

// Body returns the caption if there is one, otherwise the text.
func (p *InboundPost) Body() string {
	if p.Caption != "" {
		return p.Caption
	}
	return p.Text
}

// CaptionCandidate is one AI-proposed caption, labeled with the persuasion
// tactic it uses and carrying a text variant per locale.
type CaptionCandidate struct {
	Tactic   string
	Variants map[string]string
}

// Text returns the variant for locale, falling back to the lexically first
// non-empty variant.
func (c CaptionCandidate) Text(locale string) string {
	if v := c.Variants[locale]; v != "" {
		return v
	}
	locales := make([]string, 0, len(c.Variants))
	for l := range c.Variants {
		locales = append(locales, l)
	}
	sort.Strings(locales)
	for _, l := range locales {
		if v := c.Variants[l]; v != "" {
			return v
		}
	}
	return ""
}

// PendingPost is an image post waiting for an operator to pick its caption.
type PendingPost struct {
	ID              string
	OriginID        string
	Kind            MessageKind
	Image           []byte
	Candidates      []CaptionCandidate
	FallbackCaption string
	CreatedAt       time.Time

	claimed atomic.Bool
}

// DestinationResult is the outcome of sending to one destination.
type DestinationResult struct {
	Channel string
	OK      bool
	Err     error
}

// DispatchReport aggregates the per-destination outcomes of one dispatch.
type DispatchReport struct {
	Results   []DestinationResult
	Succeeded int
	Total     int
}

// WatermarkOptions controls the text stamped onto outgoing images.
type WatermarkOptions struct {
	Text     string `yaml:"text" json:"text"`
	Position string `yaml:"position" json:"position"`
	Color    string `yaml:"color" json:"color"`
	Enabled  bool   `yaml:"enabled" json:"enabled"`
}

// Config is the relay's view of the runtime configuration. The relay only
// ever reads it through a ConfigSource snapshot.
type Config struct {
	Paused                 bool              `yaml:"paused"`
	TextEnhancementEnabled bool              `yaml:"text_enhancement_enabled"`
	ImageAnalysisEnabled   bool              `yaml:"image_analysis_enabled"`
	StatisticsEnabled      bool              `yaml:"statistics_enabled"`
	AutoScheduleEnabled    bool              `yaml:"auto_schedule_enabled"`
	SourceChannels         []string          `yaml:"source_channels"`
	DestinationChannels    []string          `yaml:"destination_channels"`
	Watermark              WatermarkOptions  `yaml:"watermark"`
	MaxMessageLength       int               `yaml:"max_message_length"`
	PromoTag               string            `yaml:"promo_tag"`
	DailyPromoTime         string            `yaml:"daily_promo_time"`
	PromoVars              map[string]string `yaml:"promo_vars"`
	Locales                []string          `yaml:"locales"`
}

// ConfigSource supplies the current configuration snapshot.
type ConfigSource interface {
	Snapshot() *Config
}

// StaticConfig is a ConfigSource that always returns the same snapshot.
type StaticConfig struct{ Config *Config }

func (s StaticConfig) Snapshot() *Config { return s.Config }

// IsSource reports whether a channel identified by id or handle is one of
// the configured sources.
func (c *Config) IsSource(id, handle string) bool {
	for _, src := range c.SourceChannels {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		if src == id || (handle != "" && strings.EqualFold(src, handle)) {
			return true
		}
	}
	return false
}

// DefaultLocale returns the first configured locale, or "en".
func (c *Config) DefaultLocale() string {
	if len(c.Locales) > 0 && c.Locales[0] != "" {
		return c.Locales[0]
	}
	return "en"
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	cp := *c
	cp.SourceChannels = slices.Clone(c.SourceChannels)
	cp.DestinationChannels = slices.Clone(c.DestinationChannels)
	cp.Locales = slices.Clone(c.Locales)
	cp.PromoVars = maps.Clone(c.PromoVars)
	return &cp
}

// StatRecord is one row of the append-only statistics log.
type StatRecord struct {
	ChannelID   string
	MessageType MessageKind
	AIEnhanced  bool
	Timestamp   time.Time
}

// StatsRecorder appends statistics records.
type StatsRecorder interface {
	Record(ctx context.Context, rec StatRecord) error
}
