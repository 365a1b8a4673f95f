// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// maxActionBodySize is the maximum allowed request body for button actions (64 KB).
const maxActionBodySize = 64 << 10

// HandleAction is an HTTP handler for POST /api/actions. Mattermost calls it
// when an operator presses a caption button.
func (conn *Connector) HandleAction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxActionBodySize)
	defer r.Body.Close()

	var req model.PostActionIntegrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	cfg := conn.Config.Current()
	secret, _ := req.Context[contextSecret].(string)
	if subtle.ConstantTimeCompare([]byte(secret), []byte(conn.actionSecret(cfg))) != 1 {
		conn.Log.Warn().
			Str("remote_addr", r.RemoteAddr).
			Str("user_id", req.UserId).
			Msg("Rejected action with a bad secret")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !cfg.Mattermost.IsOperator(req.UserId, req.UserName) {
		conn.writeActionResponse(w, &model.PostActionIntegrationResponse{
			EphemeralText: "You are not allowed to pick captions.",
		})
		return
	}

	action, _ := req.Context[contextAction].(string)
	d, err := relay.ParseAction(action)
	if err != nil {
		conn.Log.Warn().Err(err).Str("action", action).Msg("Received malformed action")
		http.Error(w, "malformed action", http.StatusBadRequest)
		return
	}
	d.UserID = req.UserId

	result, err := conn.Relay.HandleDecision(context.WithoutCancel(r.Context()), d)
	switch {
	case errors.Is(err, relay.ErrNotFound):
		conn.writeActionResponse(w, &model.PostActionIntegrationResponse{EphemeralText: expiredText})
		return
	case errors.Is(err, relay.ErrInvalidChoice):
		conn.writeActionResponse(w, &model.PostActionIntegrationResponse{EphemeralText: "That caption does not exist."})
		return
	case err != nil:
		conn.Log.Error().Err(err).Str("pending_id", d.PostID).Msg("Failed to apply caption decision")
		conn.writeActionResponse(w, &model.PostActionIntegrationResponse{EphemeralText: "Failed to apply the decision."})
		return
	}

	username := req.UserName
	if username == "" {
		username = req.UserId
	}
	// Replacing the post without attachments removes the buttons.
	update := &model.Post{Message: formatDecision(result, username)}
	update.AddProp("attachments", []*model.SlackAttachment{})
	conn.writeActionResponse(w, &model.PostActionIntegrationResponse{Update: update})
}

func (conn *Connector) writeActionResponse(w http.ResponseWriter, resp *model.PostActionIntegrationResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		conn.Log.Warn().Err(err).Msg("Failed to write action response")
	}
}
