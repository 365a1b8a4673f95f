// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"strings"

	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/store"
)

const expiredText = "This post has expired or was already handled."

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// formatCandidates lists the caption candidates of a pending post for the
// operator, one block per candidate with every locale variant.
func formatCandidates(post *relay.PendingPost, locales []string) string {
	var sb strings.Builder
	if len(post.Candidates) == 0 {
		sb.WriteString("No AI captions are available for this image.\n")
	}
	for i, cand := range post.Candidates {
		fmt.Fprintf(&sb, "**%d.**", i+1)
		if cand.Tactic != "" {
			fmt.Fprintf(&sb, " _%s_", cand.Tactic)
		}
		sb.WriteString("\n")
		if len(locales) <= 1 {
			fmt.Fprintf(&sb, "%s\n", cand.Text(firstOr(locales, "")))
			continue
		}
		for _, loc := range locales {
			fmt.Fprintf(&sb, "`%s` %s\n", loc, cand.Text(loc))
		}
	}
	if post.FallbackCaption != "" {
		fmt.Fprintf(&sb, "\n**Original:** %s\n", post.FallbackCaption)
	}
	return strings.TrimSpace(sb.String())
}

func firstOr(list []string, def string) string {
	if len(list) > 0 {
		return list[0]
	}
	return def
}

// formatDecision summarizes an applied operator decision.
func formatDecision(result *relay.DecisionResult, username string) string {
	res := result.Resolution
	if res.Cancelled() {
		return fmt.Sprintf("Discarded by @%s.", username)
	}
	return fmt.Sprintf("Sent by @%s to %d/%d channels:\n%s",
		username, result.Report.Succeeded, result.Report.Total, res.Caption)
}

func formatReport(report relay.DispatchReport) string {
	msg := fmt.Sprintf("Sent to %d/%d channels", report.Succeeded, report.Total)
	var failed []string
	for _, r := range report.Results {
		if !r.OK {
			failed = append(failed, r.Channel)
		}
	}
	if len(failed) > 0 {
		msg += " (failed: " + strings.Join(failed, ", ") + ")"
	}
	return msg
}

func formatStatus(cfg *relay.Config, connected bool, pending int) string {
	state := "running"
	if cfg.Paused {
		state = "paused"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "#### Relay status: %s\n", state)
	fmt.Fprintf(&sb, "| Setting | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Mattermost | %s |\n", map[bool]string{true: "connected", false: "disconnected"}[connected])
	fmt.Fprintf(&sb, "| Text enhancement | %s |\n", onOff(cfg.TextEnhancementEnabled))
	fmt.Fprintf(&sb, "| Image analysis | %s |\n", onOff(cfg.ImageAnalysisEnabled))
	fmt.Fprintf(&sb, "| Watermark | %s (%q, %s, %s) |\n", onOff(cfg.Watermark.Enabled), cfg.Watermark.Text, cfg.Watermark.Position, cfg.Watermark.Color)
	fmt.Fprintf(&sb, "| Statistics | %s |\n", onOff(cfg.StatisticsEnabled))
	fmt.Fprintf(&sb, "| Daily promo | %s at %s |\n", onOff(cfg.AutoScheduleEnabled), cfg.DailyPromoTime)
	fmt.Fprintf(&sb, "| Sources | %s |\n", joinOrNone(cfg.SourceChannels))
	fmt.Fprintf(&sb, "| Destinations | %s |\n", joinOrNone(cfg.DestinationChannels))
	fmt.Fprintf(&sb, "| Pending captions | %d |\n", pending)
	return sb.String()
}

func joinOrNone(list []string) string {
	if len(list) == 0 {
		return "none"
	}
	return strings.Join(list, ", ")
}

func formatStats(stats *store.DailyStats) string {
	return fmt.Sprintf("#### Statistics for %s\nMessages: %d\nAI enhanced: %d\nActive channels: %d",
		stats.Date, stats.TotalMessages, stats.AIEnhancedMessages, stats.ActiveChannels)
}

func formatTemplates(templates []relay.Template) string {
	if len(templates) == 0 {
		return "No templates."
	}
	var sb strings.Builder
	for _, tpl := range templates {
		fmt.Fprintf(&sb, "- **%s** (%s): %s\n", tpl.Name, tpl.Category, tpl.Content)
	}
	return strings.TrimSpace(sb.String())
}

func helpText(prefix string) string {
	lines := []string{
		"help: show this message",
		"status: show relay settings",
		"pause / resume: stop or restart relaying",
		"toggle text|image|watermark|stats|schedule: switch a feature on or off",
		"source add|remove <channel>: manage source channels",
		"dest add|remove <channel>: manage destination channels",
		"watermark text|position|color <value>: change the watermark",
		"broadcast <message>: send a message to every destination",
		"template add [category/]<name> <content>: store a message template",
		"templates [category]: list templates",
		"stats: show today's statistics",
	}
	var sb strings.Builder
	sb.WriteString("#### Relay commands\n")
	for _, l := range lines {
		fmt.Fprintf(&sb, "- `%s %s`\n", prefix, l)
	}
	sb.WriteString("\nChannels are a channel ID, `~channel-name`, or a Matrix room `!id:server` / `#alias:server`.")
	return sb.String()
}
