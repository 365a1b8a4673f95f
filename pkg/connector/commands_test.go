// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/config"
	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/store"
)

func TestRunCommand_Settings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		line      string
		wantReply string
		check     func(*relay.Config) bool
	}{
		{"pause", "pause", "paused", func(c *relay.Config) bool { return c.Paused }},
		{"toggle text", "toggle text", "Text enhancement is now on", func(c *relay.Config) bool { return c.TextEnhancementEnabled }},
		{"toggle image", "toggle IMAGE", "Image analysis is now on", func(c *relay.Config) bool { return c.ImageAnalysisEnabled }},
		{"toggle watermark", "toggle watermark", "Watermark is now on", func(c *relay.Config) bool { return c.Watermark.Enabled }},
		{"toggle stats", "toggle stats", "Statistics is now on", func(c *relay.Config) bool { return c.StatisticsEnabled }},
		{"toggle schedule", "toggle schedule", "Daily promo is now on", func(c *relay.Config) bool { return c.AutoScheduleEnabled }},
		{"watermark text", "watermark text VIP Club", "`VIP Club`", func(c *relay.Config) bool { return c.Watermark.Text == "VIP Club" }},
		{"watermark position", "watermark position Top-Left", "position", func(c *relay.Config) bool { return c.Watermark.Position == "top-left" }},
		{"watermark color", "watermark color Red", "color", func(c *relay.Config) bool { return c.Watermark.Color == "red" }},
		{"dest remove", "dest remove ~PUBLIC", "Removed destination", func(c *relay.Config) bool { return len(c.DestinationChannels) == 0 }},
		{"source remove", "source remove ~news", "Removed source", func(c *relay.Config) bool { return len(c.SourceChannels) == 0 }},
		{"dest add matrix", "dest add !room:example.org", "Added destination", func(c *relay.Config) bool {
			return slices.Contains(c.DestinationChannels, "!room:example.org")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeMM()
			defer f.Close()
			conn, _ := newTestConnector(f)

			reply := conn.runCommand(context.Background(), tt.line, "!relay")
			if !strings.Contains(reply, tt.wantReply) {
				t.Errorf("reply = %q, want it to contain %q", reply, tt.wantReply)
			}
			if !tt.check(conn.Config.Snapshot()) {
				t.Errorf("config not updated: %+v", conn.Config.Snapshot())
			}
		})
	}
}

func TestRunCommand_Resume(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	conn, _ := newTestConnector(f)

	conn.runCommand(context.Background(), "pause", "!relay")
	if reply := conn.runCommand(context.Background(), "resume", "!relay"); reply != "Relay resumed." {
		t.Errorf("reply = %q", reply)
	}
	if conn.Config.Snapshot().Paused {
		t.Error("relay should be running after resume")
	}
}

func TestRunCommand_Rejected(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		line      string
		wantReply string
	}{
		{"unknown command", "explode", "Unknown command"},
		{"toggle usage", "toggle", "Usage"},
		{"unknown toggle", "toggle lasers", "Unknown feature"},
		{"bad position", "watermark position sideways", "Unknown position"},
		{"bad color", "watermark color plaid", "Unknown color"},
		{"bad watermark setting", "watermark size 12", "Unknown watermark setting"},
		{"source usage", "source list", "Usage"},
		{"duplicate source", "source add ~NEWS", "already"},
		{"missing dest", "dest remove ~nowhere", "is not a destination"},
		{"unknown channel", "source add ~ghost", "Cannot find channel"},
		{"bad channel id", "dest add not-an-id", "Cannot find channel"},
		{"broadcast usage", "broadcast", "Usage"},
		{"template usage", "template add onlyname", "Usage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFakeMM()
			defer f.Close()
			f.AddChannel(newsChannelID, "news")
			conn, _ := newTestConnector(f)
			conn.Stats = &fakeStats{}
			before := conn.Config.Snapshot()

			reply := conn.runCommand(context.Background(), tt.line, "!relay")
			if !strings.Contains(reply, tt.wantReply) {
				t.Errorf("reply = %q, want it to contain %q", reply, tt.wantReply)
			}
			after := conn.Config.Snapshot()
			if !slices.Equal(before.SourceChannels, after.SourceChannels) ||
				!slices.Equal(before.DestinationChannels, after.DestinationChannels) ||
				before.Watermark != after.Watermark {
				t.Errorf("config changed: %+v -> %+v", before, after)
			}
		})
	}
}

func TestRunCommand_SourceAddResolvesName(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	f.AddChannel(publicChannelID, "promo")
	conn, _ := newTestConnector(f)

	reply := conn.runCommand(context.Background(), "source add ~promo", "!relay")
	if !strings.Contains(reply, "Added source channel") {
		t.Fatalf("reply = %q", reply)
	}
	if got := conn.Config.Snapshot().SourceChannels; !slices.Equal(got, []string{"~news", "~promo"}) {
		t.Errorf("sources = %v", got)
	}
	if f.CallCount("/channels/name/promo") != 1 {
		t.Error("expected the channel to be verified")
	}
}

func TestRunCommand_Help(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	conn, _ := newTestConnector(f)

	for _, line := range []string{"", "help", "HELP"} {
		reply := conn.runCommand(context.Background(), line, "!relay")
		if !strings.Contains(reply, "`!relay status") || !strings.Contains(reply, "broadcast") {
			t.Errorf("help for %q = %q", line, reply)
		}
	}
}

func TestRunCommand_Status(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	conn, _ := newTestConnector(f)
	conn.Pending = fakePending(3)

	reply := conn.runCommand(context.Background(), "status", "!relay")
	for _, want := range []string{"running", "disconnected", "~news", "~public", "| Pending captions | 3 |"} {
		if !strings.Contains(reply, want) {
			t.Errorf("status missing %q:\n%s", want, reply)
		}
	}
}

func TestRunCommand_Broadcast(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	conn, rel := newTestConnector(f)
	rel.Report = relay.DispatchReport{
		Results: []relay.DestinationResult{
			{Channel: "~public", OK: true},
			{Channel: "~broken", OK: false, Err: errors.New("nope")},
		},
		Succeeded: 1,
		Total:     2,
	}

	reply := conn.runCommand(context.Background(), "broadcast  Big   sale today!", "!relay")
	if reply != "Sent to 1/2 channels (failed: ~broken)" {
		t.Errorf("reply = %q", reply)
	}
	if got := rel.Broadcasts(); len(got) != 1 || got[0] != "Big   sale today!" {
		t.Errorf("broadcasts = %q", got)
	}
}

func TestRunCommand_Templates(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	conn, _ := newTestConnector(f)
	stats := &fakeStats{}
	conn.Stats = stats
	ctx := context.Background()

	if reply := conn.runCommand(ctx, "template add promo/flash Only {hours} hours left!", "!relay"); reply != "Added template `flash`." {
		t.Fatalf("reply = %q", reply)
	}
	if reply := conn.runCommand(ctx, "template add hello Hi there", "!relay"); reply != "Added template `hello`." {
		t.Fatalf("reply = %q", reply)
	}
	if reply := conn.runCommand(ctx, "template add hello Again", "!relay"); !strings.Contains(reply, "already exists") {
		t.Errorf("duplicate reply = %q", reply)
	}

	if len(stats.templates) != 2 {
		t.Fatalf("templates = %+v", stats.templates)
	}
	if tpl := stats.templates[0]; tpl.Category != "promo" || tpl.Content != "Only {hours} hours left!" {
		t.Errorf("template = %+v", tpl)
	}
	if tpl := stats.templates[1]; tpl.Category != store.DefaultCategory || tpl.Content != "Hi there" {
		t.Errorf("template = %+v", tpl)
	}

	reply := conn.runCommand(ctx, "templates promo", "!relay")
	if !strings.Contains(reply, "flash") || strings.Contains(reply, "hello") {
		t.Errorf("templates promo = %q", reply)
	}
	if reply := conn.runCommand(ctx, "templates victory", "!relay"); reply != "No templates." {
		t.Errorf("templates victory = %q", reply)
	}
}

func TestRunCommand_Stats(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	conn, _ := newTestConnector(f)

	if reply := conn.runCommand(context.Background(), "stats", "!relay"); !strings.Contains(reply, "not available") {
		t.Errorf("reply without store = %q", reply)
	}

	conn.Stats = &fakeStats{today: store.DailyStats{Date: "2026-10-18", TotalMessages: 12, AIEnhancedMessages: 5, ActiveChannels: 2}}
	reply := conn.runCommand(context.Background(), "stats", "!relay")
	for _, want := range []string{"2026-10-18", "Messages: 12", "AI enhanced: 5", "Active channels: 2"} {
		if !strings.Contains(reply, want) {
			t.Errorf("stats missing %q:\n%s", want, reply)
		}
	}

	conn.Stats = &fakeStats{err: errors.New("db down")}
	if reply := conn.runCommand(context.Background(), "stats", "!relay"); !strings.Contains(reply, "db down") {
		t.Errorf("reply on error = %q", reply)
	}
}

// TestHandleCommand_ThreadedReply verifies that operator commands are
// answered in the command's thread.
func TestHandleCommand_ThreadedReply(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	conn, _ := newTestConnector(f)

	conn.handleCommand(context.Background(), &postedEvent{
		Post:       &model.Post{Id: "cmd-post", UserId: operatorID, ChannelId: opChannelID, Message: "!relay pause"},
		SenderName: "someone",
	})
	conn.handleCommand(context.Background(), &postedEvent{
		Post:       &model.Post{Id: "cmd-2", RootId: "thread-root", UserId: "alice-id", ChannelId: opChannelID, Message: "!relay resume"},
		SenderName: "alice",
	})

	posts := f.Posts()
	if len(posts) != 2 {
		t.Fatalf("got %d replies, want 2", len(posts))
	}
	if posts[0].RootId != "cmd-post" || posts[0].Message != "Relay paused." {
		t.Errorf("first reply = %+v", posts[0])
	}
	if posts[1].RootId != "thread-root" || posts[1].Message != "Relay resumed." {
		t.Errorf("second reply = %+v", posts[1])
	}
}

func TestHandleCommand_NonOperatorIgnored(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	conn, _ := newTestConnector(f)

	conn.handleCommand(context.Background(), &postedEvent{
		Post:       &model.Post{Id: "cmd-post", UserId: "mallory-id", ChannelId: opChannelID, Message: "!relay pause"},
		SenderName: "mallory",
	})
	if len(f.Posts()) != 0 {
		t.Error("non-operators should get no reply")
	}
	if conn.Config.Snapshot().Paused {
		t.Error("non-operator command must not change the config")
	}
}

func TestRunCommand_PersistsToFile(t *testing.T) {
	t.Parallel()
	f := newFakeMM()
	defer f.Close()
	conn, _ := newTestConnector(f)
	path := writeTestConfig(t, f.Server.URL)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	conn.Config = config.NewStore(path, cfg, zerolog.Nop())

	if reply := conn.runCommand(context.Background(), "toggle stats", "!relay"); !strings.Contains(reply, "now on") {
		t.Fatalf("reply = %q", reply)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	saved, err := config.Parse(data)
	if err != nil {
		t.Fatalf("Parse saved config: %v", err)
	}
	if !saved.Relay.StatisticsEnabled {
		t.Error("toggle was not written to the config file")
	}
	if saved.Mattermost.ServerURL != f.Server.URL {
		t.Errorf("server_url = %q, other sections must be kept", saved.Mattermost.ServerURL)
	}
}
