// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mattermost/mattermost/server/public/model"
)

const (
	channelCacheSize = 256
	channelCacheTTL  = 10 * time.Minute
)

// channelInfo is the part of a Mattermost channel the relay cares about.
type channelInfo struct {
	ID          string
	Name        string
	DisplayName string
}

func newChannelCache() *expirable.LRU[string, *channelInfo] {
	return expirable.NewLRU[string, *channelInfo](channelCacheSize, nil, channelCacheTTL)
}

func toChannelInfo(ch *model.Channel) *channelInfo {
	name := ch.DisplayName
	if name == "" {
		name = ch.Name
	}
	return &channelInfo{ID: ch.Id, Name: ch.Name, DisplayName: name}
}

// ResolveChannel turns a channel ref into a channel ID. ~name refs are
// looked up in the bot's team and cached; anything else must be a channel
// ID.
func (c *Client) ResolveChannel(ctx context.Context, ref string) (string, error) {
	value, byName := ParseChannelRef(ref)
	if value == "" {
		return "", errors.New("empty channel reference")
	}
	if !byName {
		if !IsChannelID(value) {
			return "", fmt.Errorf("%q is neither a channel ID nor a ~name", ref)
		}
		return value, nil
	}
	key := "name:" + value
	if info, ok := c.channels.Get(key); ok {
		return info.ID, nil
	}
	if c.teamID == "" {
		return "", fmt.Errorf("cannot resolve %s: no team", ref)
	}
	ch, _, err := c.api.GetChannelByName(ctx, value, c.teamID, "")
	if err != nil {
		return "", fmt.Errorf("failed to resolve channel %s: %w", ref, err)
	}
	info := toChannelInfo(ch)
	c.channels.Add(key, info)
	c.channels.Add("id:"+info.ID, info)
	return info.ID, nil
}

// channelHandle returns the ~name handle of a channel ID, asking the server
// when the name is not cached. Lookup failures yield an empty handle.
func (c *Client) channelHandle(ctx context.Context, channelID string) string {
	if info, ok := c.channels.Get("id:" + channelID); ok {
		return ChannelHandle(info.Name)
	}
	ch, _, err := c.api.GetChannel(ctx, channelID, "")
	if err != nil {
		c.log.Warn().Err(err).Str("channel_id", channelID).Msg("Failed to look up channel name")
		return ""
	}
	info := toChannelInfo(ch)
	c.channels.Add("id:"+info.ID, info)
	c.channels.Add("name:"+info.Name, info)
	return ChannelHandle(info.Name)
}
