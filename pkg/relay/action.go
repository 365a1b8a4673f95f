// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"strings"
)

// ActionCaption is the action kind for caption decisions on pending posts.
const ActionCaption = "caption"

// Decision is a parsed operator action on a pending post.
type Decision struct {
	PostID string
	Choice Choice
	// UserID identifies the operator, for logging only.
	UserID string
}

// FormatAction builds the opaque action string carried by an operator button.
func FormatAction(postID string, choice Choice) string {
	return ActionCaption + ":" + postID + ":" + choice.String()
}

// ParseAction parses an action string of the form caption:<post-id>:<choice>.
func ParseAction(action string) (Decision, error) {
	parts := strings.SplitN(action, ":", 3)
	if len(parts) != 3 {
		return Decision{}, fmt.Errorf("malformed action %q", action)
	}
	if parts[0] != ActionCaption {
		return Decision{}, fmt.Errorf("unknown action kind %q", parts[0])
	}
	if parts[1] == "" {
		return Decision{}, fmt.Errorf("action %q has no post id", action)
	}
	choice, err := ParseChoice(parts[2])
	if err != nil {
		return Decision{}, err
	}
	return Decision{PostID: parts[1], Choice: choice}, nil
}
