// Package testinfra runs end-to-end tests against a real Mattermost server
// and a running mattermost-relay started via docker compose.
//
// The relay is expected to run with AI providers disabled, so relayed text
// passes through with only the promo tag appended.
// Covers: health, admin API endpoints, source to destination relaying,
// ignored channels and echo prevention.
//
// Run:  cd testinfra && MM_TOKEN=... MM_TEAM_ID=... go test ./...
package testinfra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// ────────────────────────────────────────────────────────────────────
// Constants & shared state
// ────────────────────────────────────────────────────────────────────

const (
	relayTimeout  = 30 * time.Second
	quietInterval = 8 * time.Second
)

var (
	mmURL       string
	mmToken     string // Mattermost admin token, used for reads
	mmPostToken string // Separate user for posting (the relay ignores its own user)
	mmTeamID    string

	relayAdminURL string
	sourceChannel string
	destChannel   string
	otherChannel  string
)

func TestMain(m *testing.M) {
	mmURL = envOr("MM_URL", "http://localhost:18065")
	mmToken = os.Getenv("MM_TOKEN")
	mmPostToken = os.Getenv("MM_POSTER_TOKEN")
	mmTeamID = os.Getenv("MM_TEAM_ID")

	if mmToken == "" || mmTeamID == "" {
		fmt.Println("SKIP: MM_TOKEN and MM_TEAM_ID required (run via ./run.sh)")
		os.Exit(0)
	}
	if mmPostToken == "" {
		mmPostToken = mmToken
	}

	relayAdminURL = envOr("RELAY_ADMIN_URL", "http://localhost:29330")
	sourceChannel = envOr("RELAY_SOURCE_CHANNEL", "news")
	destChannel = envOr("RELAY_DEST_CHANNEL", "public")
	otherChannel = envOr("RELAY_OTHER_CHANNEL", "town-square")

	os.Exit(m.Run())
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ────────────────────────────────────────────────────────────────────
// HTTP helpers
// ────────────────────────────────────────────────────────────────────

func doJSON(t testing.TB, method, url string, body any, token string) (int, map[string]any) {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTP %s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var result map[string]any
	json.NewDecoder(resp.Body).Decode(&result) //nolint:errcheck
	return resp.StatusCode, result
}

func getRaw(t *testing.T, url string) (int, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("HTTP GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

// ────────────────────────────────────────────────────────────────────
// Mattermost helpers
// ────────────────────────────────────────────────────────────────────

func getMMChannel(t *testing.T, channelName string) string {
	t.Helper()
	code, resp := doJSON(t, "GET",
		fmt.Sprintf("%s/api/v4/teams/%s/channels/name/%s", mmURL, mmTeamID, channelName),
		nil, mmToken)
	if code != 200 {
		t.Fatalf("get MM channel %s: %d %v", channelName, code, resp)
	}
	return resp["id"].(string)
}

func getMMPosts(t *testing.T, channelID string) []map[string]any {
	t.Helper()
	code, resp := doJSON(t, "GET",
		fmt.Sprintf("%s/api/v4/channels/%s/posts", mmURL, channelID),
		nil, mmToken)
	if code != 200 {
		t.Fatalf("get MM posts: %d %v", code, resp)
	}

	order, _ := resp["order"].([]any)
	postsMap, _ := resp["posts"].(map[string]any)
	var posts []map[string]any
	for _, id := range order {
		idStr, _ := id.(string)
		if p, ok := postsMap[idStr]; ok {
			if pm, ok := p.(map[string]any); ok {
				posts = append(posts, pm)
			}
		}
	}
	return posts
}

func postToMM(t *testing.T, channelID, message string) string {
	t.Helper()
	body := map[string]string{"channel_id": channelID, "message": message}
	code, resp := doJSON(t, "POST", mmURL+"/api/v4/posts", body, mmPostToken)
	if code != 201 {
		t.Fatalf("MM post: %d %v", code, resp)
	}
	return resp["id"].(string)
}

func containsText(marker string) func(map[string]any) bool {
	return func(p map[string]any) bool {
		msg, _ := p["message"].(string)
		return strings.Contains(msg, marker)
	}
}

func pollMMForMessage(t *testing.T, channelID string, match func(map[string]any) bool, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, p := range getMMPosts(t, channelID) {
			if match(p) {
				return p
			}
		}
		time.Sleep(2 * time.Second)
	}
	t.Fatalf("message not found in MM channel %s within %v", channelID, timeout)
	return nil
}

func countMMMessages(t *testing.T, channelID string, match func(map[string]any) bool) int {
	t.Helper()
	n := 0
	for _, p := range getMMPosts(t, channelID) {
		if match(p) {
			n++
		}
	}
	return n
}

func uniqueMarker(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// ════════════════════════════════════════════════════════════════════
// TESTS: Health checks
// ════════════════════════════════════════════════════════════════════

func TestMattermostHealthy(t *testing.T) {
	code, _ := doJSON(t, "GET", mmURL+"/api/v4/system/ping", nil, "")
	if code != 200 {
		t.Fatalf("Mattermost /ping: %d", code)
	}
}

func TestRelayHealthy(t *testing.T) {
	code, resp := doJSON(t, "GET", relayAdminURL+"/health", nil, "")
	if code != 200 {
		t.Fatalf("relay /health: %d %v", code, resp)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if connected, _ := resp["connected"].(bool); !connected {
		t.Error("relay reports it is not connected to Mattermost")
	}
	if _, ok := resp["features"].(map[string]any); !ok {
		t.Errorf("health response has no features: %v", resp)
	}
}

// ════════════════════════════════════════════════════════════════════
// TESTS: Admin API
// ════════════════════════════════════════════════════════════════════

func TestAdminAPIStats(t *testing.T) {
	code, resp := doJSON(t, "GET", relayAdminURL+"/api/stats", nil, "")
	if code != 200 {
		t.Fatalf("/api/stats: %d %v", code, resp)
	}
	if _, ok := resp["total_messages"]; !ok {
		t.Errorf("stats response = %v", resp)
	}
}

func TestAdminAPIConfigHasNoSecrets(t *testing.T) {
	code, body := getRaw(t, relayAdminURL+"/api/config")
	if code != 200 {
		t.Fatalf("/api/config: %d %s", code, body)
	}
	for _, key := range []string{"token", "api_key", "access_token", "action_secret"} {
		if strings.Contains(body, `"`+key+`"`) {
			t.Errorf("config response exposes %q: %s", key, body)
		}
	}
	if strings.Contains(body, mmToken) {
		t.Error("config response contains the Mattermost token")
	}
}

func TestAdminAPIReloadConfigMethodNotAllowed(t *testing.T) {
	code, _ := doJSON(t, "GET", relayAdminURL+"/api/reload-config", nil, "")
	if code != 405 {
		t.Fatalf("GET /api/reload-config: %d, want 405", code)
	}
}

func TestAdminAPIReloadConfig(t *testing.T) {
	code, resp := doJSON(t, "POST", relayAdminURL+"/api/reload-config", nil, "")
	if code != 200 {
		t.Fatalf("POST /api/reload-config: %d %v", code, resp)
	}
	if resp["reloaded"] != true {
		t.Errorf("reload response = %v", resp)
	}
}

func TestAdminAPIActionsRejectsGarbage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, relayAdminURL+"/api/actions", strings.NewReader("not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /api/actions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Fatalf("POST /api/actions with garbage: %d, want 400", resp.StatusCode)
	}
}

func TestMetricsExposed(t *testing.T) {
	code, body := getRaw(t, relayAdminURL+"/metrics")
	if code != 200 {
		t.Fatalf("/metrics: %d", code)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Error("metrics output has no Go runtime metrics")
	}
}

// ════════════════════════════════════════════════════════════════════
// TESTS: Relaying
// ════════════════════════════════════════════════════════════════════

func TestSourceToDestination(t *testing.T) {
	srcID := getMMChannel(t, sourceChannel)
	dstID := getMMChannel(t, destChannel)

	marker := uniqueMarker("relay-e2e")
	postToMM(t, srcID, "Fresh news "+marker)

	p := pollMMForMessage(t, dstID, containsText(marker), relayTimeout)
	t.Logf("relayed: %v", p["message"])
}

func TestNonSourceChannelNotRelayed(t *testing.T) {
	otherID := getMMChannel(t, otherChannel)
	dstID := getMMChannel(t, destChannel)

	marker := uniqueMarker("ignored-e2e")
	postToMM(t, otherID, "Chatter "+marker)

	time.Sleep(quietInterval)
	if n := countMMMessages(t, dstID, containsText(marker)); n != 0 {
		t.Fatalf("post from a non-source channel was relayed %d times", n)
	}
}

// TestEchoPrevention checks each source post lands in the destination
// exactly once, so the relay never re-relays its own copies.
func TestEchoPrevention(t *testing.T) {
	srcID := getMMChannel(t, sourceChannel)
	dstID := getMMChannel(t, destChannel)

	marker := uniqueMarker("echo-e2e")
	postToMM(t, srcID, "Once only "+marker)
	pollMMForMessage(t, dstID, containsText(marker), relayTimeout)

	time.Sleep(quietInterval)
	if n := countMMMessages(t, dstID, containsText(marker)); n != 1 {
		t.Fatalf("destination has %d copies of the post, want 1", n)
	}
}

func TestRapidFirePostsAllRelayed(t *testing.T) {
	srcID := getMMChannel(t, sourceChannel)
	dstID := getMMChannel(t, destChannel)

	base := uniqueMarker("burst-e2e")
	const n = 5
	for i := range n {
		postToMM(t, srcID, fmt.Sprintf("Burst %s-%d", base, i))
	}
	for i := range n {
		pollMMForMessage(t, dstID, containsText(fmt.Sprintf("%s-%d", base, i)), relayTimeout)
	}
}
