// Copyright 2024-2026 Aiku AI

// Package mattermostfmt converts Mattermost markdown to Matrix HTML.
package mattermostfmt

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"maunium.net/go/mautrix/event"
)

// ParsedMessage holds the result of converting Mattermost markdown to Matrix format.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

// Raw HTML in posts is escaped and unsafe link schemes are dropped, since
// the renderer runs without html.WithUnsafe.
var md = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
)

// Parse converts a Mattermost markdown message to Matrix event content.
// Messages without any markup come back as plain text.
func Parse(text string) *ParsedMessage {
	if text == "" {
		return &ParsedMessage{}
	}

	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return &ParsedMessage{Body: text}
	}
	formatted := unwrapParagraph(strings.TrimSpace(buf.String()))
	if !strings.Contains(formatted, "<") {
		return &ParsedMessage{Body: text}
	}

	return &ParsedMessage{
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	}
}

// unwrapParagraph strips the <p> wrapper of single-paragraph output so
// short captions render inline.
func unwrapParagraph(s string) string {
	if !strings.HasPrefix(s, "<p>") || !strings.HasSuffix(s, "</p>") {
		return s
	}
	inner := s[len("<p>") : len(s)-len("</p>")]
	if strings.Contains(inner, "<p>") || strings.Contains(inner, "</p>") {
		return s
	}
	return inner
}
