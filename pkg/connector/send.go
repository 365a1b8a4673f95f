// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

const defaultFileName = "file"

// SendText posts a message to a channel.
func (c *Client) SendText(ctx context.Context, channel, text string) error {
	channelID, err := c.ResolveChannel(ctx, channel)
	if err != nil {
		return err
	}
	return c.createPost(ctx, &model.Post{ChannelId: channelID, Message: text})
}

// SendFile uploads a file to a channel and posts it with an optional
// caption.
func (c *Client) SendFile(ctx context.Context, channel string, file *relay.File, caption string) error {
	channelID, err := c.ResolveChannel(ctx, channel)
	if err != nil {
		return err
	}
	fileID, err := c.uploadFile(ctx, channelID, file.Name, file.Data)
	if err != nil {
		return err
	}
	return c.createPost(ctx, &model.Post{
		ChannelId: channelID,
		Message:   caption,
		FileIds:   model.StringArray{fileID},
	})
}

// reply posts text as a thread reply to rootID.
func (c *Client) reply(ctx context.Context, channelID, rootID, text string) error {
	return c.createPost(ctx, &model.Post{ChannelId: channelID, RootId: rootID, Message: text})
}

func (c *Client) uploadFile(ctx context.Context, channelID, name string, data []byte) (string, error) {
	if name == "" {
		name = defaultFileName
	}
	resp, _, err := c.api.UploadFile(ctx, data, channelID, name)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	if resp == nil || len(resp.FileInfos) == 0 {
		return "", errors.New("upload returned no file info")
	}
	return resp.FileInfos[0].Id, nil
}

func (c *Client) createPost(ctx context.Context, post *model.Post) error {
	if _, _, err := c.api.CreatePost(ctx, post); err != nil {
		return fmt.Errorf("failed to create post in %s: %w", post.ChannelId, err)
	}
	return nil
}
