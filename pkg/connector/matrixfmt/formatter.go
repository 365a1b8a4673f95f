// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixfmt converts Matrix HTML to Mattermost markdown.
package matrixfmt

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"maunium.net/go/mautrix/event"
)

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

type list struct {
	ordered bool
	next    int
}

// converter walks the token stream. Links and blockquotes capture their
// content into a nested buffer so it can be wrapped once closed.
type converter struct {
	bufs   []*strings.Builder
	hrefs  []string
	lists  []list
	pre    int
	skip   int
	inCode bool
}

func (c *converter) out() *strings.Builder {
	return c.bufs[len(c.bufs)-1]
}

func (c *converter) push() {
	c.bufs = append(c.bufs, &strings.Builder{})
}

func (c *converter) pop() string {
	b := c.out()
	c.bufs = c.bufs[:len(c.bufs)-1]
	return b.String()
}

// Parse converts Matrix message content to Mattermost markdown.
func Parse(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body
	}
	return HTMLToMarkdown(content.FormattedBody)
}

// HTMLToMarkdown converts a Matrix HTML body to Mattermost markdown. Reply
// fallbacks are dropped and unknown tags are stripped.
func HTMLToMarkdown(body string) string {
	c := &converter{}
	c.push()
	z := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// io.EOF or a malformed document; keep what was converted.
			break
		}
		tok := z.Token()
		switch tt {
		case html.TextToken:
			if c.skip > 0 {
				continue
			}
			c.text(tok.Data)
		case html.StartTagToken:
			c.start(tok)
		case html.SelfClosingTagToken:
			if tok.Data == "br" && c.skip == 0 {
				c.out().WriteString("\n")
			}
		case html.EndTagToken:
			c.end(tok)
		}
	}
	for len(c.bufs) > 1 {
		rest := c.pop()
		c.out().WriteString(rest)
	}
	text := blankLinesRe.ReplaceAllString(c.out().String(), "\n\n")
	return strings.TrimSpace(text)
}

func (c *converter) text(s string) {
	if c.pre == 0 {
		s = strings.ReplaceAll(s, "\n", " ")
	}
	c.out().WriteString(s)
}

func (c *converter) start(tok html.Token) {
	if tok.Data == "mx-reply" {
		c.skip++
		return
	}
	if c.skip > 0 {
		return
	}
	w := c.out()
	switch tok.Data {
	case "strong", "b":
		w.WriteString("**")
	case "em", "i":
		w.WriteString("_")
	case "del", "s", "strike":
		w.WriteString("~~")
	case "code":
		if c.pre == 0 {
			c.inCode = true
			w.WriteString("`")
		}
	case "pre":
		c.pre++
		w.WriteString("\n```\n")
	case "br":
		w.WriteString("\n")
	case "p", "div":
		w.WriteString("\n")
	case "h1", "h2", "h3", "h4", "h5", "h6":
		level, _ := strconv.Atoi(tok.Data[1:])
		w.WriteString("\n" + strings.Repeat("#", level) + " ")
	case "a":
		c.hrefs = append(c.hrefs, attr(tok, "href"))
		c.push()
	case "blockquote":
		c.push()
	case "ul", "ol":
		c.lists = append(c.lists, list{ordered: tok.Data == "ol", next: 1})
		w.WriteString("\n")
	case "li":
		w.WriteString("\n")
		if len(c.lists) == 0 {
			w.WriteString("- ")
			return
		}
		l := &c.lists[len(c.lists)-1]
		w.WriteString(strings.Repeat("  ", len(c.lists)-1))
		if l.ordered {
			w.WriteString(strconv.Itoa(l.next) + ". ")
			l.next++
		} else {
			w.WriteString("- ")
		}
	}
}

func (c *converter) end(tok html.Token) {
	if tok.Data == "mx-reply" {
		if c.skip > 0 {
			c.skip--
		}
		return
	}
	if c.skip > 0 {
		return
	}
	switch tok.Data {
	case "strong", "b":
		c.out().WriteString("**")
	case "em", "i":
		c.out().WriteString("_")
	case "del", "s", "strike":
		c.out().WriteString("~~")
	case "code":
		if c.inCode {
			c.inCode = false
			c.out().WriteString("`")
		}
	case "pre":
		if c.pre > 0 {
			c.pre--
			c.out().WriteString("\n```\n")
		}
	case "p", "div":
		c.out().WriteString("\n\n")
	case "h1", "h2", "h3", "h4", "h5", "h6":
		c.out().WriteString("\n")
	case "a":
		if len(c.hrefs) == 0 || len(c.bufs) < 2 {
			return
		}
		href := c.hrefs[len(c.hrefs)-1]
		c.hrefs = c.hrefs[:len(c.hrefs)-1]
		text := c.pop()
		c.out().WriteString(link(text, href))
	case "blockquote":
		if len(c.bufs) < 2 {
			return
		}
		inner := strings.TrimSpace(blankLinesRe.ReplaceAllString(c.pop(), "\n\n"))
		lines := strings.Split(inner, "\n")
		for i, line := range lines {
			lines[i] = strings.TrimRight("> "+strings.TrimSpace(line), " ")
		}
		c.out().WriteString("\n" + strings.Join(lines, "\n") + "\n\n")
	case "ul", "ol":
		if len(c.lists) > 0 {
			c.lists = c.lists[:len(c.lists)-1]
		}
		c.out().WriteString("\n")
	}
}

// link renders an anchor. Only http, https and mailto targets are kept.
func link(text, href string) string {
	lower := strings.ToLower(strings.TrimSpace(href))
	safe := strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "mailto:")
	switch {
	case !safe:
		return text
	case strings.HasPrefix(lower, "https://matrix.to/"):
		// Mentions and room links have no meaning on Mattermost.
		return text
	case text == "" || text == href:
		return href
	default:
		return "[" + text + "](" + href + ")"
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}
