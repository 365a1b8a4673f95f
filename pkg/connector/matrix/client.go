// Copyright 2024-2026 Aiku AI

// Package matrix is the optional Matrix leg of the relay. It receives posts
// from source rooms through the sync loop and sends relayed content to
// destination rooms.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mattermost-relay/pkg/config"
	"github.com/aiku/mattermost-relay/pkg/relay"
)

const resyncDelay = 10 * time.Second

// PostHandler receives posts from Matrix rooms.
type PostHandler func(ctx context.Context, post *relay.InboundPost)

// IsRoomRef reports whether a channel ref names a Matrix room, either a
// room ID (!abc:server) or an alias (#name:server).
func IsRoomRef(ref string) bool {
	ref = strings.TrimSpace(ref)
	return (strings.HasPrefix(ref, "!") || strings.HasPrefix(ref, "#")) && strings.Contains(ref, ":")
}

// Client is a Matrix account used as relay source and destination.
type Client struct {
	cli     *mautrix.Client
	config  relay.ConfigSource
	handler PostHandler
	log     zerolog.Logger

	aliasMu sync.Mutex
	aliases map[id.RoomAlias]id.RoomID
}

var _ relay.Messenger = (*Client)(nil)

// New creates a Matrix client. Posts from source rooms go to handler.
func New(cfg config.MatrixConfig, source relay.ConfigSource, handler PostHandler, log zerolog.Logger) (*Client, error) {
	cli, err := mautrix.NewClient(cfg.HomeserverURL, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create matrix client: %w", err)
	}
	log = log.With().Str("component", "matrix").Logger()
	cli.Log = log
	c := &Client{
		cli:     cli,
		config:  source,
		handler: handler,
		log:     log,
		aliases: make(map[id.RoomAlias]id.RoomID),
	}
	if syncer, ok := cli.Syncer.(mautrix.ExtensibleSyncer); ok {
		syncer.OnSync(cli.DontProcessOldEvents)
		syncer.OnEventType(event.EventMessage, c.handleMessage)
	}
	return c, nil
}

// Connect checks the access token and fills in the user ID if it was not
// configured.
func (c *Client) Connect(ctx context.Context) error {
	resp, err := c.cli.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify matrix access token: %w", err)
	}
	c.cli.UserID = resp.UserID
	c.log.Info().Str("user_id", resp.UserID.String()).Msg("Authenticated to Matrix")
	return nil
}

// Run syncs until ctx is done, restarting the sync loop after failures.
func (c *Client) Run(ctx context.Context) {
	for {
		err := c.cli.SyncWithContext(ctx)
		if ctx.Err() != nil {
			c.log.Info().Msg("Matrix sync stopped")
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			c.log.Error().Err(err).Dur("retry_in", resyncDelay).Msg("Matrix sync failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(resyncDelay):
		}
	}
}

// ResolveRoom turns a room ID or alias into a room ID. Aliases are cached.
func (c *Client) ResolveRoom(ctx context.Context, ref string) (id.RoomID, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "!") {
		return id.RoomID(ref), nil
	}
	if !strings.HasPrefix(ref, "#") {
		return "", fmt.Errorf("%q is not a matrix room reference", ref)
	}
	alias := id.RoomAlias(ref)
	c.aliasMu.Lock()
	roomID, ok := c.aliases[alias]
	c.aliasMu.Unlock()
	if ok {
		return roomID, nil
	}
	resp, err := c.cli.ResolveAlias(ctx, alias)
	if err != nil {
		return "", fmt.Errorf("failed to resolve alias %s: %w", alias, err)
	}
	c.aliasMu.Lock()
	c.aliases[alias] = resp.RoomID
	c.aliasMu.Unlock()
	return resp.RoomID, nil
}

// sourceHandle returns the configured source alias that resolves to roomID,
// so that sources configured by alias match.
func (c *Client) sourceHandle(ctx context.Context, cfg *relay.Config, roomID id.RoomID) string {
	for _, src := range cfg.SourceChannels {
		if !strings.HasPrefix(src, "#") || !IsRoomRef(src) {
			continue
		}
		resolved, err := c.ResolveRoom(ctx, src)
		if err != nil {
			c.log.Warn().Err(err).Str("alias", src).Msg("Failed to resolve source alias")
			continue
		}
		if resolved == roomID {
			return src
		}
	}
	return ""
}
