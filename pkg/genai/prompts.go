// Copyright 2024-2026 Aiku AI

package genai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

// DefaultPersona is the copywriter persona used when none is configured.
const DefaultPersona = "You are the copywriter of a VIP subscription channel. " +
	"Write punchy sales copy that highlights the weekly and monthly packages " +
	"and creates urgency with limited offers. Use a few emojis, no long explanations."

func rewriteSystemPrompt(persona string, maxLength int) string {
	var sb strings.Builder
	sb.WriteString(persona)
	if maxLength > 0 {
		fmt.Fprintf(&sb, " Keep it very short: at most %d characters, one or two lines.", maxLength)
	}
	sb.WriteString(" Reply with the rewritten text only.")
	return sb.String()
}

func captionPrompt(persona string, req relay.CaptionRequest, count int) string {
	locales := req.Locales
	if len(locales) == 0 {
		locales = []string{"en"}
	}
	var sb strings.Builder
	sb.WriteString(persona)
	fmt.Fprintf(&sb, "\nPropose %d alternative captions for the attached image.", count)
	sb.WriteString(" If the image shows a win or an achievement, connect it to the product.")
	sb.WriteString(" Each caption uses a different persuasion tactic such as urgency, social proof or exclusivity.")
	if req.MaxLength > 0 {
		fmt.Fprintf(&sb, " Every caption is at most %d characters.", req.MaxLength)
	}
	fmt.Fprintf(&sb, " Write every caption in these languages: %s.", strings.Join(locales, ", "))
	if req.Caption != "" {
		fmt.Fprintf(&sb, "\nThe original caption was: %q", req.Caption)
	}
	sb.WriteString("\nReply with JSON only, in this shape: ")
	sb.WriteString(`{"candidates":[{"tactic":"urgency","texts":{"`)
	sb.WriteString(locales[0])
	sb.WriteString(`":"..."}}]}`)
	return sb.String()
}

type candidateJSON struct {
	Tactic string            `json:"tactic"`
	Texts  map[string]string `json:"texts"`
	Text   string            `json:"text"`
}

type candidatesJSON struct {
	Candidates []candidateJSON `json:"candidates"`
}

// parseCandidates decodes the model's caption reply. Replies that are not
// JSON become a single candidate in the first locale.
func parseCandidates(reply string, locales []string) []relay.CaptionCandidate {
	locale := "en"
	if len(locales) > 0 {
		locale = locales[0]
	}
	reply = stripCodeFence(reply)
	if reply == "" {
		return nil
	}

	var raw []candidateJSON
	var wrapped candidatesJSON
	if err := json.Unmarshal([]byte(reply), &wrapped); err == nil && len(wrapped.Candidates) > 0 {
		raw = wrapped.Candidates
	} else if err = json.Unmarshal([]byte(reply), &raw); err != nil {
		return []relay.CaptionCandidate{{Tactic: "default", Variants: map[string]string{locale: reply}}}
	}

	out := make([]relay.CaptionCandidate, 0, len(raw))
	for _, c := range raw {
		variants := make(map[string]string, len(c.Texts)+1)
		for l, text := range c.Texts {
			if text = strings.TrimSpace(text); text != "" {
				variants[l] = text
			}
		}
		if text := strings.TrimSpace(c.Text); text != "" && variants[locale] == "" {
			variants[locale] = text
		}
		if len(variants) == 0 {
			continue
		}
		out = append(out, relay.CaptionCandidate{Tactic: strings.TrimSpace(c.Tactic), Variants: variants})
	}
	return out
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
