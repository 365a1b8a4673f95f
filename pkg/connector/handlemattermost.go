// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// handleEvent dispatches a Mattermost WebSocket event to the appropriate handler.
func (c *Client) handleEvent(evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		c.handlePosted(evt)
	case model.WebsocketEventHello:
		c.log.Debug().Msg("WebSocket hello received")
	default:
		c.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

func (c *Client) handlePosted(evt *model.WebSocketEvent) {
	post, err := c.parsePostedEvent(evt)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil || c.sink == nil {
		return
	}
	channelName, _ := evt.GetData()["channel_name"].(string)
	senderName, _ := evt.GetData()["sender_name"].(string)
	c.sink.handlePosted(context.Background(), &postedEvent{
		Post:        post,
		ChannelName: channelName,
		SenderName:  strings.TrimPrefix(senderName, "@"),
	})
}

// parsePostedEvent extracts and validates a post from a WebSocket event,
// applying all echo prevention layers. Returns (nil, nil) to skip silently,
// (nil, err) to log an error, or (post, nil) to proceed.
func (c *Client) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, errors.New("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts.
	if post.UserId == c.userID {
		return nil, nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}

	// Echo prevention: skip posts from usernames with the relay bot prefix.
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isRelayUsername(senderName, c.username, c.botPrefix) {
		c.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping relay bot post (echo prevention)")
		return nil, nil
	}

	return &post, nil
}

// isRelayUsername returns true if the username belongs to this relay or to
// another relay instance sharing the configured prefix.
func isRelayUsername(username, self, botPrefix string) bool {
	switch {
	case self != "" && strings.EqualFold(username, self):
		return true
	case botPrefix != "" && strings.HasPrefix(username, botPrefix):
		return true
	default:
		return false
	}
}

// buildInboundPost converts a Mattermost post into a relay post. The first
// image is downloaded right away; any other file becomes a lazy attachment.
func (c *Client) buildInboundPost(ctx context.Context, post *model.Post, handle string) (*relay.InboundPost, error) {
	in := &relay.InboundPost{
		OriginID:     post.ChannelId,
		OriginHandle: handle,
		ReceivedAt:   time.UnixMilli(post.CreateAt),
	}
	if post.CreateAt == 0 {
		in.ReceivedAt = time.Now()
	}
	if len(post.FileIds) == 0 {
		in.Text = post.Message
		return in, nil
	}
	in.Caption = post.Message

	for _, fileID := range post.FileIds {
		info, _, err := c.api.GetFileInfo(ctx, fileID)
		if err != nil {
			return nil, fmt.Errorf("failed to get file info %s: %w", fileID, err)
		}
		if strings.HasPrefix(info.MimeType, "image/") && in.Image == nil {
			data, _, err := c.api.GetFile(ctx, fileID)
			if err != nil {
				return nil, fmt.Errorf("failed to download image %s: %w", fileID, err)
			}
			in.Image = data
			in.Attachment = nil
			continue
		}
		if in.Image == nil && in.Attachment == nil {
			in.Attachment = c.lazyAttachment(info)
		}
	}
	return in, nil
}

func (c *Client) lazyAttachment(info *model.FileInfo) *relay.Attachment {
	kind := relay.KindDocument
	if strings.HasPrefix(info.MimeType, "video/") {
		kind = relay.KindVideo
	}
	fileID := info.Id
	return &relay.Attachment{
		Kind:     kind,
		Name:     info.Name,
		MimeType: info.MimeType,
		Download: func(ctx context.Context) ([]byte, error) {
			data, _, err := c.api.GetFile(ctx, fileID)
			if err != nil {
				return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
			}
			return data, nil
		},
	}
}
