// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-relay/pkg/config"
	"github.com/aiku/mattermost-relay/pkg/relay"
	"github.com/aiku/mattermost-relay/pkg/store"
)

const (
	testUserID   = "botuser0000000000000000000"
	testUsername = "relay-bot"
	testTeamID   = "team0000000000000000000000"
	opChannelID  = "opchannel00000000000000000"
	operatorID   = "operator000000000000000000"
	testSecret   = "s3cret"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// upload is a file received by the fake upload endpoint.
type upload struct {
	Name string
	Data []byte
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu      sync.Mutex
	calls   []endpointCall
	posts   []*model.Post
	uploads []upload

	// Users maps user ID to model.User for GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Teams maps user ID to team list.
	Teams map[string][]*model.Team
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// Files maps file ID to model.FileInfo.
	Files map[string]*model.FileInfo
	// FileData maps file ID to its content.
	FileData map[string][]byte
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		TokenToUser:   make(map[string]string),
		Teams:         make(map[string][]*model.Team),
		Channels:      make(map[string]*model.Channel),
		Files:         make(map[string]*model.FileInfo),
		FileData:      make(map[string][]byte),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func (f *fakeMM) CallCount(path string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, path) {
			n++
		}
	}
	return n
}

// Posts returns the posts created through POST /api/v4/posts.
func (f *fakeMM) Posts() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.Post(nil), f.posts...)
}

// Uploads returns the files received through POST /api/v4/files.
func (f *fakeMM) Uploads() []upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upload(nil), f.uploads...)
}

// AddChannel registers a channel of the test team.
func (f *fakeMM) AddChannel(id, name string) {
	f.Channels[id] = &model.Channel{Id: id, Name: name, DisplayName: strings.ToUpper(name), TeamId: testTeamID}
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	// Check if this endpoint should fail.
	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			_ = json.NewEncoder(w).Encode(u)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/users/{user_id}/teams
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && strings.HasSuffix(path, "/teams"):
		parts := strings.Split(path, "/")
		if len(parts) >= 5 {
			if teams, ok := f.Teams[parts[4]]; ok {
				_ = json.NewEncoder(w).Encode(teams)
				return
			}
		}
		_ = json.NewEncoder(w).Encode([]*model.Team{})

	// GET /api/v4/teams/{team_id}/channels/name/{channel_name}
	case r.Method == "GET" && strings.Contains(path, "/channels/name/"):
		name := path[strings.LastIndex(path, "/")+1:]
		for _, ch := range f.Channels {
			if ch.Name == name {
				_ = json.NewEncoder(w).Encode(ch)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "channel not found"})

	// GET /api/v4/channels/{channel_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/channels/") && !strings.Contains(path[len("/api/v4/channels/"):], "/"):
		chID := path[len("/api/v4/channels/"):]
		if ch, ok := f.Channels[chID]; ok {
			_ = json.NewEncoder(w).Encode(ch)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "channel not found"})

	// GET /api/v4/files/{file_id}/info
	case r.Method == "GET" && strings.HasSuffix(path, "/info") && strings.Contains(path, "/files/"):
		parts := strings.Split(path, "/")
		if len(parts) >= 5 {
			if fi, ok := f.Files[parts[4]]; ok {
				_ = json.NewEncoder(w).Encode(fi)
				return
			}
		}
		w.WriteHeader(http.StatusNotFound)

	// GET /api/v4/files/{file_id}
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/files/"):
		fileID := path[len("/api/v4/files/"):]
		if data, ok := f.FileData[fileID]; ok {
			_, _ = w.Write(data)
			return
		}
		w.WriteHeader(http.StatusNotFound)

	// POST /api/v4/files (upload)
	case r.Method == "POST" && path == "/api/v4/files":
		f.recordUpload(r, body)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&model.FileUploadResponse{
			FileInfos: []*model.FileInfo{{Id: "uploaded-file-id", Name: "upload"}},
		})

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		f.mu.Lock()
		f.posts = append(f.posts, &post)
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(&post)

	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "not found: " + path})
	}
}

func (f *fakeMM) recordUpload(r *http.Request, body []byte) {
	up := upload{Data: body}
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err := r.ParseMultipartForm(32 << 20); err == nil && r.MultipartForm != nil {
		for _, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				up.Name = fh.Filename
				if file, err := fh.Open(); err == nil {
					up.Data, _ = io.ReadAll(file)
					_ = file.Close()
				}
			}
		}
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, up)
	f.mu.Unlock()
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postedEventData builds the data of a "posted" WebSocket event.
func postedEventData(t *testing.T, post *model.Post, channelName, senderName string) map[string]any {
	t.Helper()
	raw, err := json.Marshal(post)
	if err != nil {
		t.Fatalf("marshal post: %v", err)
	}
	return map[string]any{
		"post":         string(raw),
		"channel_name": channelName,
		"sender_name":  senderName,
	}
}

// newTestClient creates a Client pointed at a fake server. The client is
// considered authenticated.
func newTestClient(serverURL string) *Client {
	api := model.NewAPIv4Client(serverURL)
	api.SetToken("test-token")
	return &Client{
		api:       api,
		userID:    testUserID,
		username:  testUsername,
		teamID:    testTeamID,
		serverURL: serverURL,
		botPrefix: "relay-",
		channels:  newChannelCache(),
		stopChan:  make(chan struct{}),
		log:       zerolog.Nop(),
	}
}

// mockSink captures posts that passed echo prevention.
type mockSink struct {
	mu     sync.Mutex
	events []*postedEvent
}

func (m *mockSink) handlePosted(_ context.Context, evt *postedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockSink) Events() []*postedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*postedEvent(nil), m.events...)
}

// fakeRelay records what the connector hands to the relay core.
type fakeRelay struct {
	mu         sync.Mutex
	posts      []*relay.InboundPost
	decisions  []relay.Decision
	broadcasts []string

	postCh chan *relay.InboundPost

	DecisionResult *relay.DecisionResult
	DecisionErr    error
	Report         relay.DispatchReport
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{postCh: make(chan *relay.InboundPost, 8)}
}

func (r *fakeRelay) HandlePost(_ context.Context, post *relay.InboundPost) relay.Outcome {
	r.mu.Lock()
	r.posts = append(r.posts, post)
	r.mu.Unlock()
	r.postCh <- post
	return relay.OutcomeDispatched
}

func (r *fakeRelay) HandleDecision(_ context.Context, d relay.Decision) (*relay.DecisionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return r.DecisionResult, r.DecisionErr
}

func (r *fakeRelay) Broadcast(_ context.Context, text string) (relay.DispatchReport, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, text)
	return r.Report, text
}

func (r *fakeRelay) Decisions() []relay.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relay.Decision(nil), r.decisions...)
}

func (r *fakeRelay) Broadcasts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.broadcasts...)
}

// waitPost waits for the next post handed to the relay.
func (r *fakeRelay) waitPost(t *testing.T) *relay.InboundPost {
	t.Helper()
	select {
	case post := <-r.postCh:
		return post
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for relayed post")
		return nil
	}
}

// expectNoPost fails if a post reaches the relay within a short window.
func (r *fakeRelay) expectNoPost(t *testing.T) {
	t.Helper()
	select {
	case post := <-r.postCh:
		t.Fatalf("unexpected relayed post from %s", post.OriginID)
	case <-time.After(100 * time.Millisecond):
	}
}

// fakeStats is an in-memory StatsStore.
type fakeStats struct {
	mu        sync.Mutex
	today     store.DailyStats
	templates []relay.Template
	err       error
}

func (s *fakeStats) TodayStats(context.Context) (*store.DailyStats, error) {
	if s.err != nil {
		return nil, s.err
	}
	cp := s.today
	return &cp, nil
}

func (s *fakeStats) AddTemplate(_ context.Context, tpl relay.Template) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	for _, existing := range s.templates {
		if existing.Name == tpl.Name {
			return false, nil
		}
	}
	if tpl.Category == "" {
		tpl.Category = store.DefaultCategory
	}
	s.templates = append(s.templates, tpl)
	return true, nil
}

func (s *fakeStats) Templates(_ context.Context, category string) ([]relay.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []relay.Template
	for _, tpl := range s.templates {
		if category == "" || tpl.Category == category {
			out = append(out, tpl)
		}
	}
	return out, nil
}

type fakePending int

func (p fakePending) Len() int { return int(p) }

// testConfig returns a configuration with an operator channel, one
// operator and one source and destination channel.
func testConfig(serverURL string) *config.Config {
	return &config.Config{
		Mattermost: config.MattermostConfig{
			ServerURL:         serverURL,
			Token:             "test-token",
			OperatorChannelID: opChannelID,
			Operators:         []string{operatorID, "@alice"},
			ActionSecret:      testSecret,
			PublicURL:         "https://relay.example.com/",
			CommandPrefix:     config.DefaultCommandPrefix,
		},
		Relay: relay.Config{
			SourceChannels:      []string{"~news"},
			DestinationChannels: []string{"~public"},
			Watermark:           relay.WatermarkOptions{Text: "@brand", Position: "bottom-right", Color: "white"},
			Locales:             []string{"en"},
		},
	}
}

// writeTestConfig writes a minimal valid config file and returns its path.
func writeTestConfig(t *testing.T, serverURL string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "mattermost:\n" +
		"    server_url: " + serverURL + "\n" +
		"    token: test-token\n" +
		"relay:\n" +
		"    source_channels:\n" +
		"        - ~news\n" +
		"    destination_channels:\n" +
		"        - ~public\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func newStoreFor(cfg *config.Config) *config.Store {
	return config.NewStore("", cfg, zerolog.Nop())
}

// newTestConnector creates a Connector around a test client and a fake
// relay. The config store has no file, so updates are not persisted.
func newTestConnector(f *fakeMM) (*Connector, *fakeRelay) {
	cfgStore := newStoreFor(testConfig(f.Server.URL))
	conn := New(cfgStore, newTestClient(f.Server.URL), zerolog.Nop())
	rel := newFakeRelay()
	conn.Relay = rel
	return conn, rel
}
