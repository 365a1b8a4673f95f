// Copyright 2024-2026 Aiku AI

// Package config loads, upgrades and persists the relay configuration.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-relay/pkg/genai"
	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/store"
)

//go:embed example-config.yaml
var ExampleConfig string

const (
	EnvMattermostToken = "RELAY_MATTERMOST_TOKEN"
	EnvAIAPIKey        = "RELAY_AI_API_KEY"

	DefaultCommandPrefix = "!relay"
	DefaultListenAddr    = ":29320"
)

// MattermostConfig holds the Mattermost connection and operator settings.
type MattermostConfig struct {
	ServerURL         string   `yaml:"server_url"`
	Token             string   `yaml:"token"`
	TeamID            string   `yaml:"team_id"`
	OperatorChannelID string   `yaml:"operator_channel_id"`
	Operators         []string `yaml:"operators"`
	ActionSecret      string   `yaml:"action_secret"`
	PublicURL         string   `yaml:"public_url"`
	CommandPrefix     string   `yaml:"command_prefix"`
	// BotPrefix is a username prefix for echo prevention. Posts from any
	// username starting with it are never relayed. Empty disables it.
	BotPrefix string `yaml:"bot_prefix"`
}

// IsOperator reports whether the user, given by ID or username, may run
// commands and pick captions.
func (c *MattermostConfig) IsOperator(userID, username string) bool {
	for _, op := range c.Operators {
		op = strings.TrimPrefix(strings.TrimSpace(op), "@")
		if op == "" {
			continue
		}
		if op == userID || (username != "" && strings.EqualFold(op, username)) {
			return true
		}
	}
	return false
}

// MatrixConfig holds the optional Matrix connection.
type MatrixConfig struct {
	Enabled       bool   `yaml:"enabled"`
	HomeserverURL string `yaml:"homeserver_url"`
	UserID        string `yaml:"user_id"`
	AccessToken   string `yaml:"access_token"`
}

// PendingConfig bounds the pending post registry.
type PendingConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// APIConfig configures the admin HTTP API.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Config is the whole relay configuration file.
type Config struct {
	Mattermost MattermostConfig  `yaml:"mattermost"`
	Matrix     MatrixConfig      `yaml:"matrix"`
	Relay      relay.Config      `yaml:"relay"`
	AI         genai.Config      `yaml:"ai"`
	Database   store.Config      `yaml:"database"`
	Pending    PendingConfig     `yaml:"pending"`
	API        APIConfig         `yaml:"api"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills defaults and applies environment overrides.
func (c *Config) PostProcess() error {
	if v := os.Getenv(EnvMattermostToken); v != "" {
		c.Mattermost.Token = v
	}
	if v := os.Getenv(EnvAIAPIKey); v != "" {
		c.AI.APIKey = v
	}
	if c.Mattermost.CommandPrefix == "" {
		c.Mattermost.CommandPrefix = DefaultCommandPrefix
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = DefaultListenAddr
	}
	if c.Pending.TTL <= 0 {
		c.Pending.TTL = relay.DefaultPendingTTL
	}
	if c.Pending.Capacity <= 0 {
		c.Pending.Capacity = relay.DefaultPendingCapacity
	}
	if c.Relay.MaxMessageLength < 0 {
		c.Relay.MaxMessageLength = 0
	}
	return c.Validate()
}

// Validate checks the settings that cannot have a usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.Mattermost.ServerURL == "" {
		errs = append(errs, errors.New("mattermost.server_url is required"))
	}
	if c.Mattermost.Token == "" {
		errs = append(errs, fmt.Errorf("mattermost.token is required (or set %s)", EnvMattermostToken))
	}
	if c.Matrix.Enabled && (c.Matrix.HomeserverURL == "" || c.Matrix.AccessToken == "") {
		errs = append(errs, errors.New("matrix.homeserver_url and matrix.access_token are required when matrix is enabled"))
	}
	if c.Relay.DailyPromoTime != "" {
		if _, err := time.Parse("15:04", c.Relay.DailyPromoTime); err != nil {
			errs = append(errs, fmt.Errorf("relay.daily_promo_time must be HH:MM: %w", err))
		}
	}
	return errors.Join(errs...)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "mattermost", "server_url")
	helper.Copy(up.Str, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "team_id")
	helper.Copy(up.Str, "mattermost", "operator_channel_id")
	helper.Copy(up.List, "mattermost", "operators")
	helper.Copy(up.Str, "mattermost", "action_secret")
	helper.Copy(up.Str, "mattermost", "public_url")
	helper.Copy(up.Str, "mattermost", "command_prefix")
	helper.Copy(up.Str, "mattermost", "bot_prefix")

	helper.Copy(up.Bool, "matrix", "enabled")
	helper.Copy(up.Str, "matrix", "homeserver_url")
	helper.Copy(up.Str, "matrix", "user_id")
	helper.Copy(up.Str, "matrix", "access_token")

	helper.Copy(up.Bool, "relay", "paused")
	helper.Copy(up.Bool, "relay", "text_enhancement_enabled")
	helper.Copy(up.Bool, "relay", "image_analysis_enabled")
	helper.Copy(up.Bool, "relay", "statistics_enabled")
	helper.Copy(up.Bool, "relay", "auto_schedule_enabled")
	helper.Copy(up.List, "relay", "source_channels")
	helper.Copy(up.List, "relay", "destination_channels")
	helper.Copy(up.Str, "relay", "watermark", "text")
	helper.Copy(up.Str, "relay", "watermark", "position")
	helper.Copy(up.Str, "relay", "watermark", "color")
	helper.Copy(up.Bool, "relay", "watermark", "enabled")
	helper.Copy(up.Int, "relay", "max_message_length")
	helper.Copy(up.Str, "relay", "promo_tag")
	helper.Copy(up.Str, "relay", "daily_promo_time")
	helper.Copy(up.Map, "relay", "promo_vars")
	helper.Copy(up.List, "relay", "locales")

	helper.Copy(up.Str, "ai", "provider")
	helper.Copy(up.Str, "ai", "api_key")
	helper.Copy(up.Str, "ai", "base_url")
	helper.Copy(up.Str, "ai", "model")
	helper.Copy(up.Str, "ai", "persona")
	helper.Copy(up.Int, "ai", "candidate_count")
	helper.Copy(up.Int, "ai", "max_output_tokens")
	helper.Copy(up.Int, "ai", "cache_size")
	helper.Copy(up.Int, "ai", "retry", "max_attempts")
	helper.Copy(up.Str, "ai", "retry", "base_delay")
	helper.Copy(up.Str, "ai", "retry", "max_total_wait")
	helper.Copy(up.Str, "ai", "retry", "text_timeout")
	helper.Copy(up.Str, "ai", "retry", "image_timeout")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")

	helper.Copy(up.Str, "pending", "ttl")
	helper.Copy(up.Int, "pending", "capacity")

	helper.Copy(up.Str, "api", "listen_addr")

	helper.Copy(up.Map, "logging")
}

// Upgrader merges an existing config file into the current example config.
var Upgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"matrix"},
		{"relay"},
		{"ai"},
		{"database"},
		{"pending"},
		{"api"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// Parse decodes config data and post-processes it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Load reads the config file at path, upgrading it against the example
// config. The upgraded file is written back when save is true.
func Load(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}
