// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/aiku/mattermost-relay/pkg/connector/matrix"
	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/watermark"
)

type commandFunc func(ctx context.Context, args []string, rest string) string

// handleCommand runs an operator command posted in the operator channel and
// replies in its thread.
func (conn *Connector) handleCommand(ctx context.Context, evt *postedEvent) {
	cfg := conn.Config.Current()
	post := evt.Post
	log := conn.Log.With().
		Str("user_id", post.UserId).
		Str("post_id", post.Id).
		Logger()

	if !cfg.Mattermost.IsOperator(post.UserId, evt.SenderName) {
		log.Debug().Str("username", evt.SenderName).Msg("Ignoring command from non-operator")
		return
	}

	line := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(post.Message), cfg.Mattermost.CommandPrefix))
	reply := conn.runCommand(ctx, line, cfg.Mattermost.CommandPrefix)
	log.Info().Str("command", firstWord(line)).Msg("Ran operator command")

	rootID := post.RootId
	if rootID == "" {
		rootID = post.Id
	}
	if err := conn.Client.reply(ctx, post.ChannelId, rootID, reply); err != nil {
		log.Error().Err(err).Msg("Failed to reply to command")
	}
}

func firstWord(s string) string {
	word, _, _ := strings.Cut(s, " ")
	return strings.ToLower(word)
}

// runCommand executes one command line (without the prefix) and returns
// the reply text.
func (conn *Connector) runCommand(ctx context.Context, line, prefix string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return helpText(prefix)
	}
	name := strings.ToLower(fields[0])
	rest := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	commands := map[string]commandFunc{
		"help":      func(context.Context, []string, string) string { return helpText(prefix) },
		"status":    conn.cmdStatus,
		"pause":     conn.cmdPause(true),
		"resume":    conn.cmdPause(false),
		"toggle":    conn.cmdToggle,
		"source":    conn.cmdChannels(true),
		"dest":      conn.cmdChannels(false),
		"watermark": conn.cmdWatermark,
		"broadcast": conn.cmdBroadcast,
		"template":  conn.cmdTemplate,
		"templates": conn.cmdTemplates,
		"stats":     conn.cmdStats,
	}
	fn, ok := commands[name]
	if !ok {
		return fmt.Sprintf("Unknown command `%s`. Try `%s help`.", name, prefix)
	}
	return fn(ctx, fields[1:], rest)
}

func (conn *Connector) update(fn func(*relay.Config)) string {
	if err := conn.Config.Update(fn); err != nil {
		conn.Log.Error().Err(err).Msg("Failed to save configuration")
		return "Failed to save configuration: " + err.Error()
	}
	return ""
}

func (conn *Connector) cmdStatus(context.Context, []string, string) string {
	pending := 0
	if conn.Pending != nil {
		pending = conn.Pending.Len()
	}
	return formatStatus(conn.Config.Snapshot(), conn.Client.Connected(), pending)
}

func (conn *Connector) cmdPause(paused bool) commandFunc {
	return func(context.Context, []string, string) string {
		if msg := conn.update(func(c *relay.Config) { c.Paused = paused }); msg != "" {
			return msg
		}
		if paused {
			return "Relay paused."
		}
		return "Relay resumed."
	}
}

var toggles = map[string]struct {
	label string
	field func(*relay.Config) *bool
}{
	"text":      {"Text enhancement", func(c *relay.Config) *bool { return &c.TextEnhancementEnabled }},
	"image":     {"Image analysis", func(c *relay.Config) *bool { return &c.ImageAnalysisEnabled }},
	"watermark": {"Watermark", func(c *relay.Config) *bool { return &c.Watermark.Enabled }},
	"stats":     {"Statistics", func(c *relay.Config) *bool { return &c.StatisticsEnabled }},
	"schedule":  {"Daily promo", func(c *relay.Config) *bool { return &c.AutoScheduleEnabled }},
}

func (conn *Connector) cmdToggle(_ context.Context, args []string, _ string) string {
	if len(args) != 1 {
		return "Usage: `toggle text|image|watermark|stats|schedule`"
	}
	t, ok := toggles[strings.ToLower(args[0])]
	if !ok {
		return fmt.Sprintf("Unknown feature `%s`.", args[0])
	}
	var now bool
	if msg := conn.update(func(c *relay.Config) {
		f := t.field(c)
		*f = !*f
		now = *f
	}); msg != "" {
		return msg
	}
	return fmt.Sprintf("%s is now %s.", t.label, onOff(now))
}

func (conn *Connector) cmdChannels(source bool) commandFunc {
	kind := "destination"
	if source {
		kind = "source"
	}
	return func(ctx context.Context, args []string, _ string) string {
		if len(args) != 2 || (args[0] != "add" && args[0] != "remove") {
			return fmt.Sprintf("Usage: `%s add|remove <channel>`", map[bool]string{true: "source", false: "dest"}[source])
		}
		ref := strings.TrimSpace(args[1])
		if args[0] == "add" && !matrix.IsRoomRef(ref) {
			if _, err := conn.Client.ResolveChannel(ctx, ref); err != nil {
				return fmt.Sprintf("Cannot find channel `%s`: %v", ref, err)
			}
		}

		var changed bool
		msg := conn.update(func(c *relay.Config) {
			list := &c.DestinationChannels
			if source {
				list = &c.SourceChannels
			}
			idx := slices.IndexFunc(*list, func(s string) bool { return strings.EqualFold(s, ref) })
			switch {
			case args[0] == "add" && idx < 0:
				*list = append(*list, ref)
				changed = true
			case args[0] == "remove" && idx >= 0:
				*list = slices.Delete(*list, idx, idx+1)
				changed = true
			}
		})
		if msg != "" {
			return msg
		}
		switch {
		case !changed && args[0] == "add":
			return fmt.Sprintf("`%s` is already a %s channel.", ref, kind)
		case !changed:
			return fmt.Sprintf("`%s` is not a %s channel.", ref, kind)
		case args[0] == "add":
			return fmt.Sprintf("Added %s channel `%s`.", kind, ref)
		default:
			return fmt.Sprintf("Removed %s channel `%s`.", kind, ref)
		}
	}
}

func (conn *Connector) cmdWatermark(_ context.Context, args []string, rest string) string {
	if len(args) < 2 {
		return "Usage: `watermark text|position|color <value>`"
	}
	value := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
	var apply func(*relay.Config)
	switch strings.ToLower(args[0]) {
	case "text":
		apply = func(c *relay.Config) { c.Watermark.Text = value }
	case "position":
		pos, ok := watermark.ParsePosition(value)
		if !ok {
			return fmt.Sprintf("Unknown position `%s`.", value)
		}
		apply = func(c *relay.Config) { c.Watermark.Position = string(pos) }
	case "color":
		if _, ok := watermark.ParseColor(value); !ok {
			return fmt.Sprintf("Unknown color `%s`.", value)
		}
		apply = func(c *relay.Config) { c.Watermark.Color = strings.ToLower(value) }
	default:
		return fmt.Sprintf("Unknown watermark setting `%s`.", args[0])
	}
	if msg := conn.update(apply); msg != "" {
		return msg
	}
	return fmt.Sprintf("Watermark %s set to `%s`.", strings.ToLower(args[0]), value)
}

func (conn *Connector) cmdBroadcast(ctx context.Context, _ []string, rest string) string {
	if rest == "" {
		return "Usage: `broadcast <message>`"
	}
	report, _ := conn.Relay.Broadcast(ctx, rest)
	return formatReport(report)
}

func (conn *Connector) cmdTemplate(ctx context.Context, args []string, rest string) string {
	if len(args) < 3 || args[0] != "add" {
		return "Usage: `template add [category/]<name> <content>`"
	}
	if conn.Stats == nil {
		return "Templates are not available."
	}
	content := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(strings.TrimPrefix(rest, args[0])), args[1]))
	tpl := relay.Template{Name: args[1], Content: content}
	if category, name, ok := strings.Cut(args[1], "/"); ok && category != "" && name != "" {
		tpl.Category, tpl.Name = category, name
	}
	added, err := conn.Stats.AddTemplate(ctx, tpl)
	switch {
	case err != nil:
		conn.Log.Error().Err(err).Str("template", tpl.Name).Msg("Failed to add template")
		return "Failed to add template: " + err.Error()
	case !added:
		return fmt.Sprintf("A template named `%s` already exists.", tpl.Name)
	default:
		return fmt.Sprintf("Added template `%s`.", tpl.Name)
	}
}

func (conn *Connector) cmdTemplates(ctx context.Context, args []string, _ string) string {
	if conn.Stats == nil {
		return "Templates are not available."
	}
	var category string
	if len(args) > 0 {
		category = args[0]
	}
	templates, err := conn.Stats.Templates(ctx, category)
	if err != nil {
		conn.Log.Error().Err(err).Msg("Failed to list templates")
		return "Failed to list templates: " + err.Error()
	}
	return formatTemplates(templates)
}

func (conn *Connector) cmdStats(ctx context.Context, _ []string, _ string) string {
	if conn.Stats == nil {
		return "Statistics are not available."
	}
	stats, err := conn.Stats.TodayStats(ctx)
	if err != nil {
		conn.Log.Error().Err(err).Msg("Failed to read statistics")
		return "Failed to read statistics: " + err.Error()
	}
	return formatStats(stats)
}
