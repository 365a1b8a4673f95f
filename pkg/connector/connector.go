// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/config"
	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/store"
)

// Relay is the part of the relay core driven from Mattermost.
type Relay interface {
	HandlePost(ctx context.Context, post *relay.InboundPost) relay.Outcome
	HandleDecision(ctx context.Context, d relay.Decision) (*relay.DecisionResult, error)
	Broadcast(ctx context.Context, text string) (relay.DispatchReport, string)
}

// StatsStore reads statistics and manages message templates.
type StatsStore interface {
	TodayStats(ctx context.Context) (*store.DailyStats, error)
	AddTemplate(ctx context.Context, tpl relay.Template) (bool, error)
	Templates(ctx context.Context, category string) ([]relay.Template, error)
}

// PendingCounter reports how many posts wait for an operator.
type PendingCounter interface {
	Len() int
}

// Connector ties the Mattermost client to the relay core: it feeds source
// posts to the relay, prompts operators, runs operator commands and serves
// the admin API.
type Connector struct {
	Config  *config.Store
	Client  *Client
	Relay   Relay
	Stats   StatsStore
	Pending PendingCounter
	Log     zerolog.Logger

	started time.Time
	server  *http.Server
	// generatedSecret signs action buttons when no action_secret is configured.
	generatedSecret string
}

var _ relay.Operator = (*Connector)(nil)

// New creates a connector around client. Relay, Stats and Pending are set
// by the caller before Start.
func New(cfg *config.Store, client *Client, log zerolog.Logger) *Connector {
	conn := &Connector{
		Config:          cfg,
		Client:          client,
		Log:             log.With().Str("component", "connector").Logger(),
		generatedSecret: rand.Text(),
	}
	client.sink = conn
	return conn
}

// actionSecret returns the configured action secret, or a random one
// generated for this process when none is configured.
func (conn *Connector) actionSecret(cfg *config.Config) string {
	if cfg.Mattermost.ActionSecret != "" {
		return cfg.Mattermost.ActionSecret
	}
	return conn.generatedSecret
}

// Start connects to Mattermost and starts the admin API.
func (conn *Connector) Start(ctx context.Context) error {
	if conn.Relay == nil {
		return errors.New("connector has no relay")
	}
	conn.started = time.Now()
	if err := conn.Client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to Mattermost: %w", err)
	}

	addr := conn.Config.Current().API.ListenAddr
	if addr != "" {
		conn.server = &http.Server{
			Addr:         addr,
			Handler:      conn.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: time.Minute,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			conn.Log.Info().Str("addr", addr).Msg("Starting admin API")
			if err := conn.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				conn.Log.Error().Err(err).Msg("Admin API error")
			}
		}()
	}
	return nil
}

// Stop shuts down the admin API and the Mattermost connection.
func (conn *Connector) Stop(ctx context.Context) {
	if conn.server != nil {
		if err := conn.server.Shutdown(ctx); err != nil {
			conn.Log.Warn().Err(err).Msg("Failed to shut down admin API cleanly")
		}
	}
	conn.Client.Disconnect()
}

// handlePosted routes a post: commands in the operator channel, everything
// else to the relay when it comes from a source channel.
func (conn *Connector) handlePosted(ctx context.Context, evt *postedEvent) {
	cfg := conn.Config.Current()
	post := evt.Post

	if cfg.Mattermost.OperatorChannelID != "" && post.ChannelId == cfg.Mattermost.OperatorChannelID {
		if strings.HasPrefix(strings.TrimSpace(post.Message), cfg.Mattermost.CommandPrefix) {
			go conn.handleCommand(context.WithoutCancel(ctx), evt)
		}
		return
	}

	handle := ChannelHandle(evt.ChannelName)
	if handle == "" {
		handle = conn.Client.channelHandle(ctx, post.ChannelId)
	}
	if !cfg.Relay.IsSource(post.ChannelId, handle) {
		return
	}
	if cfg.Relay.Paused {
		conn.Log.Debug().Str("post_id", post.Id).Msg("Relay is paused, ignoring source post")
		return
	}

	go func() {
		ctx := context.WithoutCancel(ctx)
		in, err := conn.Client.buildInboundPost(ctx, post, handle)
		if err != nil {
			conn.Log.Error().Err(err).
				Str("post_id", post.Id).
				Str("channel_id", post.ChannelId).
				Msg("Failed to read source post")
			return
		}
		conn.Relay.HandlePost(ctx, in)
	}()
}

// HandleMatrixPost feeds a post from a Matrix source room to the relay.
func (conn *Connector) HandleMatrixPost(ctx context.Context, post *relay.InboundPost) {
	conn.Relay.HandlePost(ctx, post)
}
