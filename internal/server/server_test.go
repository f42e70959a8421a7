package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/skaric/qrdrop/internal/activity"
	"github.com/skaric/qrdrop/internal/clock"
	"github.com/skaric/qrdrop/internal/limiter"
	"github.com/skaric/qrdrop/internal/notify"
	"github.com/skaric/qrdrop/internal/session"
)

type testServerOpts struct {
	createRate int
	submitRate int
	ttl        time.Duration
	watch      notify.Config
}

func defaultOpts() testServerOpts {
	return testServerOpts{
		createRate: 10,
		submitRate: 5,
		ttl:        time.Minute,
		watch: notify.Config{
			PollInterval: 10 * time.Millisecond,
			Grace:        50 * time.Millisecond,
			TTL:          time.Minute,
		},
	}
}

func startTestServer(t *testing.T, opts testServerOpts) (string, *session.MemoryStore, func()) {
	t.Helper()

	clk := clock.NewRealClock()
	store := session.NewMemoryStore(clk)
	createLim := limiter.NewFixedWindow(opts.createRate, time.Minute, clk)
	submitLim := limiter.NewFixedWindow(opts.submitRate, time.Minute, clk)
	mgr := session.NewManager(store, clk, opts.ttl, createLim, submitLim)
	watcher := notify.New(store, clk, opts.watch)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	baseURL := "http://" + ln.Addr().String()

	srv := New(ln.Addr().String(), baseURL, mgr, watcher, clk, Options{
		Hub:      NewHub(),
		Activity: activity.New(nil),
	})
	go srv.StartOnListener(ln)

	return baseURL, store, func() {
		srv.Shutdown(context.Background())
	}
}

func createTestSession(t *testing.T, baseURL string) string {
	t.Helper()
	resp, err := http.Post(baseURL+"/session", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create session status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"sessionId"`
		ExpiresAt int64  `json:"expiresAt"`
		URL       string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.SessionID == "" {
		t.Fatal("sessionId should be set")
	}
	return body.SessionID
}

func submitLink(t *testing.T, baseURL, id, link string) *http.Response {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"link": link})
	resp, err := http.Post(baseURL+"/submit/"+id, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// readSSEEvent reads the next "data: <JSON>" record from an event stream.
func readSSEEvent(t *testing.T, r *bufio.Reader) notify.Event {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading event stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev notify.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("parsing event %q: %v", line, err)
		}
		return ev
	}
}

func TestServer_Root(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	resp, err := http.Get(baseURL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["service"] != "qrdrop" {
		t.Errorf("service = %q, want %q", body["service"], "qrdrop")
	}
}

func TestServer_Health(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_NotFound(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	resp, err := http.Get(baseURL + "/nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_CreateSession(t *testing.T) {
	baseURL, store, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	resp, err := http.Post(baseURL+"/session", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		SessionID string `json:"sessionId"`
		ExpiresAt int64  `json:"expiresAt"`
		URL       string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}

	if body.SessionID == "" {
		t.Error("sessionId should be set")
	}
	if got := time.UnixMilli(body.ExpiresAt); !got.After(time.Now()) {
		t.Errorf("expiresAt = %v, should be in the future", got)
	}
	wantURL := baseURL + "/submit/" + body.SessionID
	if body.URL != wantURL {
		t.Errorf("url = %q, want %q", body.URL, wantURL)
	}
	if _, ok := store.Get(body.SessionID); !ok {
		t.Error("session should be in the store")
	}
}

func TestServer_CreateSession_RateLimited(t *testing.T) {
	opts := defaultOpts()
	opts.createRate = 2
	baseURL, _, cleanup := startTestServer(t, opts)
	defer cleanup()

	do := func(ip string) *http.Response {
		req, _ := http.NewRequest(http.MethodPost, baseURL+"/session", nil)
		req.Header.Set("X-Forwarded-For", ip)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	for i := 0; i < 2; i++ {
		resp := do("1.2.3.4")
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, resp.StatusCode)
		}
	}

	resp := do("1.2.3.4")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] == "" {
		t.Error("429 body should carry an error message")
	}

	// A different forwarded IP has its own window.
	resp = do("5.6.7.8")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("other IP: status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_Submit_Success(t *testing.T) {
	baseURL, store, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	id := createTestSession(t, baseURL)
	resp := submitLink(t, baseURL, id, "https://example.com")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if !body.Success {
		t.Error("success should be true")
	}

	got, _ := store.Get(id)
	if got.Link != "https://example.com" {
		t.Errorf("stored link = %q, want submitted value", got.Link)
	}
}

func TestServer_Submit_UnknownSession(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	resp := submitLink(t, baseURL, "00000000-0000-4000-8000-000000000000", "https://example.com")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["error"] != "session not found or expired" {
		t.Errorf("error = %q, want generic not-found message", body["error"])
	}
}

func TestServer_Submit_InvalidLink(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	id := createTestSession(t, baseURL)

	tests := []struct {
		name string
		link string
	}{
		{"javascript scheme", "javascript:alert(1)"},
		{"data scheme", "data:text/html,x"},
		{"ftp scheme", "ftp://host/x"},
		{"missing link", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := submitLink(t, baseURL, id, tt.link)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
			var body map[string]string
			json.NewDecoder(resp.Body).Decode(&body)
			if body["error"] == "" {
				t.Error("400 body should carry an error message")
			}
		})
	}
}

func TestServer_Submit_SecondSubmitNotFound(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	id := createTestSession(t, baseURL)
	resp := submitLink(t, baseURL, id, "https://example.com")
	resp.Body.Close()

	resp = submitLink(t, baseURL, id, "https://other.example")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (consumed state must not leak)", resp.StatusCode)
	}
}

func TestServer_Submit_RateLimited(t *testing.T) {
	opts := defaultOpts()
	opts.submitRate = 2
	baseURL, _, cleanup := startTestServer(t, opts)
	defer cleanup()

	id := createTestSession(t, baseURL)
	for i := 0; i < 2; i++ {
		resp := submitLink(t, baseURL, id, "")
		resp.Body.Close()
	}

	resp := submitLink(t, baseURL, id, "https://example.com")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestServer_ListenDeliversLink(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	id := createTestSession(t, baseURL)

	resp, err := http.Get(baseURL + "/listen/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", cc)
	}

	reader := bufio.NewReader(resp.Body)

	ev := readSSEEvent(t, reader)
	if ev.Type != notify.EventConnected || ev.SessionID != id {
		t.Fatalf("first event = %+v, want connected for %s", ev, id)
	}

	sresp := submitLink(t, baseURL, id, "https://example.com")
	sresp.Body.Close()

	ev = readSSEEvent(t, reader)
	if ev.Type != notify.EventLink {
		t.Fatalf("second event = %+v, want link", ev)
	}
	if ev.Link != "https://example.com" {
		t.Errorf("link = %q, want submitted value", ev.Link)
	}

	// The stream ends after the terminal event.
	if _, err := reader.ReadString('\n'); err == nil {
		// A trailing read may drain buffered newlines; the stream must
		// close shortly after.
		if _, err := reader.ReadString('\n'); err == nil {
			t.Error("stream should close after the link event")
		}
	}
}

func TestServer_ListenTimesOut(t *testing.T) {
	opts := defaultOpts()
	opts.watch.TTL = 150 * time.Millisecond
	baseURL, _, cleanup := startTestServer(t, opts)
	defer cleanup()

	id := createTestSession(t, baseURL)

	resp, err := http.Get(baseURL + "/listen/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	if ev := readSSEEvent(t, reader); ev.Type != notify.EventConnected {
		t.Fatalf("first event = %+v, want connected", ev)
	}
	ev := readSSEEvent(t, reader)
	if ev.Type != notify.EventTimeout {
		t.Fatalf("second event = %+v, want timeout", ev)
	}
	if ev.Message == "" {
		t.Error("timeout event should carry a message")
	}
}

func TestServer_ListenUnknownSession(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	resp, err := http.Get(baseURL + "/listen/00000000-0000-4000-8000-000000000000")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	reader := bufio.NewReader(resp.Body)

	if ev := readSSEEvent(t, reader); ev.Type != notify.EventConnected {
		t.Fatalf("first event = %+v, want connected", ev)
	}
	ev := readSSEEvent(t, reader)
	if ev.Type != notify.EventError {
		t.Fatalf("second event = %+v, want error", ev)
	}
	if ev.Message != "session not found or expired" {
		t.Errorf("message = %q, want ambiguous not-found message", ev.Message)
	}
}

func TestServer_Stats(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	createTestSession(t, baseURL)
	createTestSession(t, baseURL)

	resp, err := http.Get(baseURL + "/api/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Stats activity.Stats `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Stats.Created != 2 {
		t.Errorf("Created = %d, want 2", body.Stats.Created)
	}
}

func TestServer_Dashboard(t *testing.T) {
	baseURL, _, cleanup := startTestServer(t, defaultOpts())
	defer cleanup()

	resp, err := http.Get(baseURL + "/dashboard/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
}

func TestRequesterIdentity(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"absent", "", "unknown"},
		{"single", "1.2.3.4", "1.2.3.4"},
		{"comma separated", "1.2.3.4, 10.0.0.1", "1.2.3.4"},
		{"padded", "  1.2.3.4 , 10.0.0.1", "1.2.3.4"},
		{"empty first entry", " , 10.0.0.1", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, "/session", nil)
			if tt.header != "" {
				req.Header.Set("X-Forwarded-For", tt.header)
			}
			if got := requesterIdentity(req); got != tt.want {
				t.Errorf("requesterIdentity() = %q, want %q", got, tt.want)
			}
		})
	}
}
