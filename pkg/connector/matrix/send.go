// Copyright 2024-2026 Aiku AI

package matrix

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/event"

	"github.com/aiku/mattermost-relay/pkg/connector/mattermostfmt"
	"github.com/aiku/mattermost-relay/pkg/relay"
)

// SendText posts a markdown message to a room.
func (c *Client) SendText(ctx context.Context, room, text string) error {
	roomID, err := c.ResolveRoom(ctx, room)
	if err != nil {
		return err
	}
	parsed := mattermostfmt.Parse(text)
	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          parsed.Body,
		Format:        parsed.Format,
		FormattedBody: parsed.FormattedBody,
	}
	if _, err = c.cli.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", roomID, err)
	}
	return nil
}

// SendFile uploads a file and posts it with an optional caption.
func (c *Client) SendFile(ctx context.Context, room string, file *relay.File, caption string) error {
	roomID, err := c.ResolveRoom(ctx, room)
	if err != nil {
		return err
	}
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	upload, err := c.cli.UploadBytes(ctx, file.Data, mimeType)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", file.Name, err)
	}

	content := &event.MessageEventContent{
		MsgType: msgType(file.Kind),
		Body:    file.Name,
		URL:     upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mimeType,
			Size:     len(file.Data),
		},
	}
	if caption != "" {
		parsed := mattermostfmt.Parse(caption)
		content.FileName = file.Name
		content.Body = parsed.Body
		content.Format = parsed.Format
		content.FormattedBody = parsed.FormattedBody
	}
	if _, err = c.cli.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("failed to send file to %s: %w", roomID, err)
	}
	return nil
}

func msgType(kind relay.MessageKind) event.MessageType {
	switch kind {
	case relay.KindPhoto:
		return event.MsgImage
	case relay.KindVideo:
		return event.MsgVideo
	default:
		return event.MsgFile
	}
}
