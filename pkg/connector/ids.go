// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
)

// ChannelNamePrefix marks a Mattermost channel referenced by name, as in
// ~town-square.
const ChannelNamePrefix = "~"

// ChannelHandle returns the public handle of a Mattermost channel name.
func ChannelHandle(name string) string {
	if name == "" {
		return ""
	}
	return ChannelNamePrefix + name
}

// ParseChannelRef splits a Mattermost channel ref. byName is true for
// ~name refs, in which case the returned value is the bare name.
func ParseChannelRef(ref string) (value string, byName bool) {
	ref = strings.TrimSpace(ref)
	if name, ok := strings.CutPrefix(ref, ChannelNamePrefix); ok {
		return strings.ToLower(name), true
	}
	return ref, false
}

// IsChannelID reports whether s has the shape of a Mattermost ID.
func IsChannelID(s string) bool {
	return model.IsValidId(s)
}
