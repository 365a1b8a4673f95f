// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/config"
	"github.com/aiku/mattermost-relay/pkg/relay"
)

const (
	reconnectBaseDelay = 2 * time.Second
	reconnectMaxDelay  = time.Minute
)

// postSink receives posts that passed echo prevention. This allows tests to
// inject a mock instead of a full Connector.
type postSink interface {
	handlePosted(ctx context.Context, evt *postedEvent)
}

// postedEvent is a post from the WebSocket together with the event fields
// that are not part of the post itself.
type postedEvent struct {
	Post        *model.Post
	ChannelName string
	SenderName  string
}

// Client is the bot's Mattermost connection: REST for sending and lookups,
// WebSocket for receiving posts.
type Client struct {
	sink postSink

	api       *model.Client4
	userID    string
	username  string
	teamID    string
	serverURL string
	botPrefix string

	channels *expirable.LRU[string, *channelInfo]

	wsMu     sync.Mutex
	wsClient *model.WebSocketClient

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var _ relay.Messenger = (*Client)(nil)

// NewClient creates a client for the configured server. It does not
// connect.
func NewClient(cfg config.MattermostConfig, log zerolog.Logger) *Client {
	api := model.NewAPIv4Client(cfg.ServerURL)
	api.SetToken(cfg.Token)
	return &Client{
		api:       api,
		teamID:    cfg.TeamID,
		serverURL: cfg.ServerURL,
		botPrefix: cfg.BotPrefix,
		channels:  newChannelCache(),
		stopChan:  make(chan struct{}),
		log:       log.With().Str("component", "mm_client").Logger(),
	}
}

// UserID returns the bot's Mattermost user ID once connected.
func (c *Client) UserID() string {
	return c.userID
}

// TeamID returns the team used for channel name lookups.
func (c *Client) TeamID() string {
	return c.teamID
}

// Connect verifies the token, picks a team when none is configured and
// opens the WebSocket.
func (c *Client) Connect(ctx context.Context) error {
	c.log.Info().Str("server_url", c.serverURL).Msg("Connecting to Mattermost")
	if err := c.authenticate(ctx); err != nil {
		return err
	}
	if err := c.connectWebSocket(); err != nil {
		return fmt.Errorf("websocket connection failed: %w", err)
	}
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	me, _, err := c.api.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost token: %w", err)
	}
	c.userID = me.Id
	c.username = me.Username
	c.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	if c.teamID == "" {
		teams, _, err := c.api.GetTeamsForUser(ctx, c.userID, "")
		if err != nil {
			return fmt.Errorf("failed to get teams: %w", err)
		}
		if len(teams) > 0 {
			c.teamID = teams[0].Id
			c.log.Info().Str("team_id", c.teamID).Str("team_name", teams[0].Name).Msg("Using first team of the bot")
		} else {
			c.log.Warn().Msg("Bot is not in any team, ~name channel references will not resolve")
		}
	}
	return nil
}

func (c *Client) connectWebSocket() error {
	wsURL := httpToWS(c.serverURL)
	ws, err := model.NewWebSocketClient4(wsURL, c.api.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()

	c.wsMu.Lock()
	c.wsClient = ws
	c.wsMu.Unlock()

	go c.listenWebSocket(ws)

	c.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (c *Client) listenWebSocket(ws *model.WebSocketClient) {
	for {
		select {
		case <-c.stopChan:
			return
		case event, ok := <-ws.EventChannel:
			if !ok {
				c.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				c.reconnect()
				return
			}
			if event == nil {
				continue
			}
			c.handleEvent(event)
		}
	}
}

// reconnect reopens the WebSocket with capped exponential backoff until it
// succeeds or the client is stopped.
func (c *Client) reconnect() {
	delay := reconnectBaseDelay
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}
		err := c.connectWebSocket()
		if err == nil {
			return
		}
		c.log.Error().Err(err).Dur("retry_in", delay).Msg("Failed to reconnect WebSocket")
		select {
		case <-c.stopChan:
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, reconnectMaxDelay)
	}
}

// Connected reports whether a WebSocket is open.
func (c *Client) Connected() bool {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.wsClient != nil
}

// Disconnect closes the WebSocket connection and stops the event loop.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.wsClient != nil {
		c.wsClient.Close()
		c.wsClient = nil
	}
}
