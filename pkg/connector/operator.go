// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

const (
	actionsPath   = "/api/actions"
	previewName   = "preview.jpg"
	contextAction = "action"
	contextSecret = "secret"
)

var errNoOperatorChannel = errors.New("no operator channel configured")

// RequestCaptionChoice posts the image preview with one button per caption
// candidate (and locale), plus the original caption and cancel buttons.
func (conn *Connector) RequestCaptionChoice(ctx context.Context, post *relay.PendingPost) error {
	cfg := conn.Config.Current()
	channelID := cfg.Mattermost.OperatorChannelID
	if channelID == "" {
		return errNoOperatorChannel
	}

	var fileIDs model.StringArray
	if len(post.Image) > 0 {
		fileID, err := conn.Client.uploadFile(ctx, channelID, previewName, post.Image)
		if err != nil {
			return fmt.Errorf("failed to upload preview: %w", err)
		}
		fileIDs = model.StringArray{fileID}
	}

	locales := cfg.Relay.Locales
	if len(locales) == 0 {
		locales = []string{cfg.Relay.DefaultLocale()}
	}
	attachment := &model.SlackAttachment{
		Fallback: "Pick a caption",
		Title:    "Pick a caption",
		Text:     formatCandidates(post, locales),
		Actions:  captionActions(post, locales, cfg.Mattermost.PublicURL, conn.actionSecret(cfg)),
	}

	mmPost := &model.Post{
		ChannelId: channelID,
		Message:   fmt.Sprintf("New image from `%s` is waiting for a caption.", post.OriginID),
		FileIds:   fileIDs,
	}
	mmPost.AddProp("attachments", []*model.SlackAttachment{attachment})
	if err := conn.Client.createPost(ctx, mmPost); err != nil {
		return err
	}
	conn.Log.Debug().
		Str("pending_id", post.ID).
		Int("candidates", len(post.Candidates)).
		Msg("Asked operators for a caption")
	return nil
}

func captionActions(post *relay.PendingPost, locales []string, publicURL, secret string) []*model.PostAction {
	url := strings.TrimSuffix(publicURL, "/") + actionsPath
	button := func(id, name string, choice relay.Choice) *model.PostAction {
		return &model.PostAction{
			Id:   id,
			Name: name,
			Type: model.PostActionTypeButton,
			Integration: &model.PostActionIntegration{
				URL: url,
				Context: map[string]any{
					contextAction: relay.FormatAction(post.ID, choice),
					contextSecret: secret,
				},
			},
		}
	}

	actions := make([]*model.PostAction, 0, len(post.Candidates)*len(locales)+2)
	for i := range post.Candidates {
		n := strconv.Itoa(i + 1)
		if len(locales) <= 1 {
			actions = append(actions, button("pick"+strconv.Itoa(i), "Use #"+n, relay.Choice{Kind: relay.ChoiceCandidate, Index: i}))
			continue
		}
		for _, loc := range locales {
			id := "pick" + strconv.Itoa(i) + actionIDPart(loc)
			actions = append(actions, button(id, "#"+n+" "+loc, relay.Choice{Kind: relay.ChoiceCandidate, Index: i, Locale: loc}))
		}
	}
	actions = append(actions,
		button("manual", "Keep original", relay.Choice{Kind: relay.ChoiceManual}),
		button("cancel", "Discard", relay.Choice{Kind: relay.ChoiceCancel}),
	)
	return actions
}

// actionIDPart keeps only the characters Mattermost accepts in action IDs.
func actionIDPart(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, s)
}
