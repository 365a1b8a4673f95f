// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/store"
)

// Handler returns the admin API routes.
func (conn *Connector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", conn.HandleHealth)
	mux.HandleFunc("GET /api/stats", conn.HandleStats)
	mux.HandleFunc("GET /api/config", conn.HandleConfig)
	mux.HandleFunc("POST /api/reload-config", conn.HandleReloadConfig)
	mux.HandleFunc("POST "+actionsPath, conn.HandleAction)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

type healthResponse struct {
	Status              string            `json:"status"`
	Timestamp           time.Time         `json:"timestamp"`
	Uptime              string            `json:"uptime"`
	Connected           bool              `json:"connected"`
	Paused              bool              `json:"paused"`
	Features            map[string]bool   `json:"features"`
	SourceChannels      int               `json:"source_channels"`
	DestinationChannels int               `json:"destination_channels"`
	PendingPosts        int               `json:"pending_posts"`
	DailyStats          *store.DailyStats `json:"daily_stats,omitempty"`
}

// HandleHealth is an HTTP handler for GET /health.
func (conn *Connector) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := conn.Config.Snapshot()
	resp := healthResponse{
		Status:              "ok",
		Timestamp:           time.Now().UTC(),
		Connected:           conn.Client.Connected(),
		Paused:              cfg.Paused,
		Features:            features(cfg),
		SourceChannels:      len(cfg.SourceChannels),
		DestinationChannels: len(cfg.DestinationChannels),
	}
	if !conn.started.IsZero() {
		resp.Uptime = time.Since(conn.started).Truncate(time.Second).String()
	}
	if !resp.Connected {
		resp.Status = "degraded"
	}
	if conn.Pending != nil {
		resp.PendingPosts = conn.Pending.Len()
	}
	if conn.Stats != nil {
		stats, err := conn.Stats.TodayStats(r.Context())
		if err != nil {
			conn.Log.Warn().Err(err).Msg("Failed to read statistics for health check")
		} else {
			resp.DailyStats = stats
		}
	}
	conn.writeJSON(w, http.StatusOK, resp)
}

func features(cfg *relay.Config) map[string]bool {
	return map[string]bool{
		"text_enhancement": cfg.TextEnhancementEnabled,
		"image_analysis":   cfg.ImageAnalysisEnabled,
		"watermark":        cfg.Watermark.Enabled,
		"statistics":       cfg.StatisticsEnabled,
		"auto_schedule":    cfg.AutoScheduleEnabled,
	}
}

// HandleStats is an HTTP handler for GET /api/stats.
func (conn *Connector) HandleStats(w http.ResponseWriter, r *http.Request) {
	if conn.Stats == nil {
		http.Error(w, "statistics unavailable", http.StatusServiceUnavailable)
		return
	}
	stats, err := conn.Stats.TodayStats(r.Context())
	if err != nil {
		conn.Log.Error().Err(err).Msg("Failed to read statistics")
		http.Error(w, "failed to read statistics", http.StatusInternalServerError)
		return
	}
	conn.writeJSON(w, http.StatusOK, stats)
}

type configResponse struct {
	Paused              bool                   `json:"paused"`
	Features            map[string]bool        `json:"features"`
	SourceChannels      []string               `json:"source_channels"`
	DestinationChannels []string               `json:"destination_channels"`
	Watermark           relay.WatermarkOptions `json:"watermark"`
	MaxMessageLength    int                    `json:"max_message_length"`
	PromoTag            string                 `json:"promo_tag"`
	DailyPromoTime      string                 `json:"daily_promo_time"`
	Locales             []string               `json:"locales"`
	AIProvider          string                 `json:"ai_provider"`
	AIModel             string                 `json:"ai_model"`
	MatrixEnabled       bool                   `json:"matrix_enabled"`
}

// HandleConfig is an HTTP handler for GET /api/config. Tokens, keys and
// the action secret are never included.
func (conn *Connector) HandleConfig(w http.ResponseWriter, _ *http.Request) {
	full := conn.Config.Current()
	cfg := full.Relay.Clone()
	conn.writeJSON(w, http.StatusOK, configResponse{
		Paused:              cfg.Paused,
		Features:            features(cfg),
		SourceChannels:      cfg.SourceChannels,
		DestinationChannels: cfg.DestinationChannels,
		Watermark:           cfg.Watermark,
		MaxMessageLength:    cfg.MaxMessageLength,
		PromoTag:            cfg.PromoTag,
		DailyPromoTime:      cfg.DailyPromoTime,
		Locales:             cfg.Locales,
		AIProvider:          full.AI.Provider,
		AIModel:             full.AI.Model,
		MatrixEnabled:       full.Matrix.Enabled,
	})
}

// HandleReloadConfig is an HTTP handler for POST /api/reload-config. It
// re-reads the config file and reports the resulting channel counts.
func (conn *Connector) HandleReloadConfig(w http.ResponseWriter, r *http.Request) {
	conn.Log.Info().
		Str("remote_addr", r.RemoteAddr).
		Msg("Config reload requested")

	if err := conn.Config.Reload(); err != nil {
		conn.Log.Error().Err(err).Msg("Failed to reload config")
		conn.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	cfg := conn.Config.Snapshot()
	conn.writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":             true,
		"source_channels":      len(cfg.SourceChannels),
		"destination_channels": len(cfg.DestinationChannels),
	})
}

func (conn *Connector) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		conn.Log.Warn().Err(err).Msg("Failed to write response")
	}
}
