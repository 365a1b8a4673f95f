// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"

	"github.com/aiku/mattermost-relay/pkg/connector/matrix"
	"github.com/aiku/mattermost-relay/pkg/relay"
)

// Router sends to Mattermost or Matrix depending on the destination ref.
// Matrix may be nil when the Matrix leg is disabled.
type Router struct {
	Mattermost relay.Messenger
	Matrix     relay.Messenger
}

var _ relay.Messenger = (*Router)(nil)

func (r *Router) pick(ref string) (relay.Messenger, error) {
	if !matrix.IsRoomRef(ref) {
		return r.Mattermost, nil
	}
	if r.Matrix == nil {
		return nil, fmt.Errorf("cannot send to %s: matrix is not enabled", ref)
	}
	return r.Matrix, nil
}

func (r *Router) SendText(ctx context.Context, channel, text string) error {
	m, err := r.pick(channel)
	if err != nil {
		return err
	}
	return m.SendText(ctx, channel, text)
}

func (r *Router) SendFile(ctx context.Context, channel string, file *relay.File, caption string) error {
	m, err := r.pick(channel)
	if err != nil {
		return err
	}
	return m.SendFile(ctx, channel, file, caption)
}
