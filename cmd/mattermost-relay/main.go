// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mattermost-relay watches Mattermost source channels and relays
// their posts to destination channels, rewriting text and proposing image
// captions with a generative AI service. Destinations may also be Matrix
// rooms.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/mattermost-relay/pkg/config"
	"github.com/aiku/mattermost-relay/pkg/connector"
	"github.com/aiku/mattermost-relay/pkg/connector/matrix"
	"github.com/aiku/mattermost-relay/pkg/genai"
	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/store"
	"github.com/aiku/mattermost-relay/pkg/watermark"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	name         = "mattermost-relay"
	version      = "0.1.0"
	shutdownWait = 10 * time.Second
)

var (
	configPath    = flag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
	writeExample  = flag.MakeFull("e", "generate-example-config", "Save the example config to the config path and quit.", "false").Bool()
	noUpdate      = flag.MakeFull("n", "no-update", "Don't save updated config to disk.", "false").Bool()
	showVersion   = flag.MakeFull("v", "version", "View relay version and quit.", "false").Bool()
	wantHelp, _   = flag.MakeHelpFlag()
	versionString = fmt.Sprintf("%s %s (commit %s, built %s)", name, version, Commit, BuildTime)
)

func main() {
	flag.SetHelpTitles(
		name+" - relay Mattermost channels with AI caption enrichment.",
		name+" [-hvne] [-c <path>]",
	)
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *showVersion {
		if Tag != "unknown" {
			fmt.Println(name, Tag)
		} else {
			fmt.Println(versionString)
		}
		os.Exit(0)
	} else if *writeExample {
		if err := os.WriteFile(*configPath, []byte(config.ExampleConfig), 0o600); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote example config to", *configPath)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, !*noUpdate)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(11)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(12)
	}
	log.Info().Str("version", versionString).Msg("Starting relay")

	if err = run(*log, cfg); err != nil {
		log.Fatal().Err(err).Msg("Relay failed")
	}
	log.Info().Msg("Shutdown complete")
}

func run(log zerolog.Logger, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()
	if err = db.Upgrade(ctx); err != nil {
		return err
	}
	if err = db.SeedDefaultTemplates(ctx); err != nil {
		return err
	}

	suggester, err := genai.New(cfg.AI, log)
	if err != nil {
		return err
	}

	cfgStore := config.NewStore(*configPath, cfg, log)
	cfgStore.OnReload(func(next *config.Config) {
		if next.Mattermost.ServerURL != cfg.Mattermost.ServerURL || next.Matrix != cfg.Matrix || next.AI.Provider != cfg.AI.Provider {
			log.Warn().Msg("Connection or provider settings changed, restart the relay to apply them")
		}
	})

	mm := connector.NewClient(cfg.Mattermost, log)
	conn := connector.New(cfgStore, mm, log)
	router := &connector.Router{Mattermost: mm}

	registry := relay.NewRegistry(cfg.Pending.TTL, cfg.Pending.Capacity, cfg.Relay.DefaultLocale(), log)
	orch := &relay.Orchestrator{
		Config:     cfgStore,
		Enricher:   relay.NewEnricher(suggester, log),
		Registry:   registry,
		Dispatcher: relay.NewDispatcher(router, watermark.New(log), 0, log),
		Stats:      db,
		Operator:   conn,
		Log:        log.With().Str("component", "orchestrator").Logger(),
	}
	conn.Relay = orch
	conn.Stats = db
	conn.Pending = registry

	if cfg.Matrix.Enabled {
		mx, err := matrix.New(cfg.Matrix, cfgStore, conn.HandleMatrixPost, log)
		if err != nil {
			return err
		}
		if err = mx.Connect(ctx); err != nil {
			return err
		}
		router.Matrix = mx
		go mx.Run(ctx)
	}

	if err = conn.Start(ctx); err != nil {
		return err
	}

	go func() {
		if err := cfgStore.Watch(ctx); err != nil {
			log.Error().Err(err).Msg("Config watcher stopped")
		}
	}()
	scheduler := &relay.Scheduler{
		Orchestrator: orch,
		Templates:    db,
		Log:          log.With().Str("component", "scheduler").Logger(),
	}
	go scheduler.Run(ctx, 0)

	log.Info().Msg("Relay is running")
	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	conn.Stop(shutdownCtx)
	return nil
}
