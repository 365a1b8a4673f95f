// Copyright 2024-2026 Aiku AI

package matrix

import (
	"context"
	"fmt"
	"time"

	"maunium.net/go/mautrix/event"

	"github.com/aiku/mattermost-relay/pkg/connector/matrixfmt"
	"github.com/aiku/mattermost-relay/pkg/relay"
)

func (c *Client) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == c.cli.UserID {
		return
	}
	cfg := c.config.Snapshot()
	if cfg == nil {
		return
	}
	handle := c.sourceHandle(ctx, cfg, evt.RoomID)
	if !cfg.IsSource(evt.RoomID.String(), handle) {
		return
	}
	if cfg.Paused {
		c.log.Debug().Str("event_id", evt.ID.String()).Msg("Relay is paused, ignoring Matrix message")
		return
	}

	post, err := c.parseMessage(ctx, evt, handle)
	if err != nil {
		c.log.Error().Err(err).
			Str("room_id", evt.RoomID.String()).
			Str("event_id", evt.ID.String()).
			Msg("Failed to read Matrix message")
		return
	}
	if post == nil {
		return
	}
	go c.handler(context.WithoutCancel(ctx), post)
}

// parseMessage converts a room message into an inbound post. It returns
// (nil, nil) for events that are not relayed: edits, notices and emotes.
func (c *Client) parseMessage(ctx context.Context, evt *event.Event, handle string) (*relay.InboundPost, error) {
	content := evt.Content.AsMessage()
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return nil, nil
	}
	post := &relay.InboundPost{
		OriginID:     evt.RoomID.String(),
		OriginHandle: handle,
		ReceivedAt:   time.UnixMilli(evt.Timestamp),
	}
	if evt.Timestamp == 0 {
		post.ReceivedAt = time.Now()
	}

	switch content.MsgType {
	case event.MsgText:
		post.Text = matrixfmt.Parse(content)
		if post.Text == "" {
			return nil, nil
		}
		return post, nil
	case event.MsgImage, event.MsgVideo, event.MsgFile, event.MsgAudio:
	default:
		return nil, nil
	}

	post.Caption = caption(content)
	uri, err := content.URL.Parse()
	if err != nil {
		return nil, fmt.Errorf("invalid media URL %q: %w", content.URL, err)
	}
	name := content.FileName
	if name == "" {
		name = content.Body
	}
	mimeType := ""
	if content.Info != nil {
		mimeType = content.Info.MimeType
	}

	if content.MsgType == event.MsgImage {
		data, err := c.cli.DownloadBytes(ctx, uri)
		if err != nil {
			return nil, fmt.Errorf("failed to download image: %w", err)
		}
		post.Image = data
		return post, nil
	}

	kind := relay.KindDocument
	if content.MsgType == event.MsgVideo {
		kind = relay.KindVideo
	}
	post.Attachment = &relay.Attachment{
		Kind:     kind,
		Name:     name,
		MimeType: mimeType,
		Download: func(ctx context.Context) ([]byte, error) {
			return c.cli.DownloadBytes(ctx, uri)
		},
	}
	return post, nil
}

// caption returns the caption of a media message. The body only counts as
// a caption when a separate file name is set.
func caption(content *event.MessageEventContent) string {
	if content.FileName == "" || content.FileName == content.Body {
		return ""
	}
	if content.Format == event.FormatHTML && content.FormattedBody != "" {
		return matrixfmt.HTMLToMarkdown(content.FormattedBody)
	}
	return content.Body
}
