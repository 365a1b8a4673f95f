// Copyright 2024-2026 Aiku AI

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

const (
	insertStatQuery = `
		INSERT INTO message_stats (channel_id, message_type, ai_enhanced, timestamp)
		VALUES ($1, $2, $3, $4)
	`
	dailyStatsQuery = `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN ai_enhanced THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT channel_id)
		FROM message_stats
		WHERE timestamp >= $1 AND timestamp < $2
	`
)

// DailyStats summarizes one calendar day of relayed posts.
type DailyStats struct {
	Date               string `json:"date"`
	TotalMessages      int    `json:"total_messages"`
	AIEnhancedMessages int    `json:"ai_enhanced_messages"`
	ActiveChannels     int    `json:"active_channels"`
}

// Record appends a statistics row.
func (s *Store) Record(ctx context.Context, rec relay.StatRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.Exec(ctx, insertStatQuery, rec.ChannelID, string(rec.MessageType), rec.AIEnhanced, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert stat record: %w", err)
	}
	return nil
}

// DailyStats returns the totals for the calendar day containing day, in
// day's location.
func (s *Store) DailyStats(ctx context.Context, day time.Time) (*DailyStats, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	stats := &DailyStats{Date: start.Format(time.DateOnly)}
	err := s.db.QueryRow(ctx, dailyStatsQuery, start.UnixMilli(), end.UnixMilli()).
		Scan(&stats.TotalMessages, &stats.AIEnhancedMessages, &stats.ActiveChannels)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily stats: %w", err)
	}
	return stats, nil
}

// TodayStats returns DailyStats for the current local day.
func (s *Store) TodayStats(ctx context.Context) (*DailyStats, error) {
	return s.DailyStats(ctx, s.now())
}
