// Copyright 2024-2026 Aiku AI

package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/aiku/mattermost-relay/pkg/relay"
)

const reloadDebounce = 250 * time.Millisecond

// Store holds the live configuration. Readers get immutable snapshots;
// writers go through Update, which persists the relay block to disk.
type Store struct {
	path string
	log  zerolog.Logger

	mu        sync.Mutex
	current   atomic.Pointer[Config]
	lastWrite []byte
	listeners []func(*Config)
}

var _ relay.ConfigSource = (*Store)(nil)

// NewStore creates a Store for the file at path holding cfg.
func NewStore(path string, cfg *Config, log zerolog.Logger) *Store {
	s := &Store{
		path: path,
		log:  log.With().Str("component", "config").Logger(),
	}
	s.current.Store(cfg)
	return s
}

// Current returns the whole current configuration. Callers must not modify
// it.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Snapshot returns a copy of the relay settings.
func (s *Store) Snapshot() *relay.Config {
	return s.current.Load().Relay.Clone()
}

// OnReload registers fn to be called after every successful reload.
func (s *Store) OnReload(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Update applies fn to a copy of the relay settings, writes the result to
// the config file and publishes it. On a write error nothing changes.
func (s *Store) Update(fn func(*relay.Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Load()
	next := *old
	next.Relay = *old.Relay.Clone()
	fn(&next.Relay)

	if s.path != "" {
		if err := s.persistRelay(&next.Relay); err != nil {
			return err
		}
	}
	s.current.Store(&next)
	return nil
}

// persistRelay replaces the relay block of the config file, keeping the
// rest of the document and its comments.
func (s *Store) persistRelay(cfg *relay.Config) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	var doc yaml.Node
	if err = yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	var relayNode yaml.Node
	if err = relayNode.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode relay config: %w", err)
	}
	if err = setMapKey(&doc, "relay", &relayNode); err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(4)
	if err = enc.Encode(&doc); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err = enc.Close(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err = writeFileAtomic(s.path, buf.Bytes()); err != nil {
		return err
	}
	s.lastWrite = buf.Bytes()
	return nil
}

func setMapKey(doc *yaml.Node, key string, value *yaml.Node) error {
	root := doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return errors.New("empty config document")
		}
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return errors.New("config root is not a mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			value.HeadComment = root.Content[i+1].HeadComment
			root.Content[i+1] = value
			return nil
		}
	}
	root.Content = append(root.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, value)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".relay-config-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// Reload re-reads the config file. An invalid file leaves the current
// configuration in place.
func (s *Store) Reload() error {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to read config: %w", err)
	}
	if s.lastWrite != nil && bytes.Equal(data, s.lastWrite) {
		s.mu.Unlock()
		return nil
	}
	cfg, err := Parse(data)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.current.Store(cfg)
	s.lastWrite = nil
	listeners := append([]func(*Config){}, s.listeners...)
	s.mu.Unlock()

	s.log.Info().Msg("Configuration reloaded")
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}

// Watch reloads the config whenever the file changes, until ctx is done.
// The parent directory is watched so that editors replacing the file are
// noticed.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err = watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	s.log.Debug().Str("path", abs).Msg("Watching config file for changes")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			pending = time.After(reloadDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("Config watcher error")
		case <-pending:
			pending = nil
			if err = s.Reload(); err != nil {
				s.log.Error().Err(err).Msg("Failed to reload changed config, keeping previous values")
			}
		}
	}
}
