package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/chat-conference/internal/chance"
	"github.com/you/chat-conference/internal/conference"
	"github.com/you/chat-conference/internal/duel"
	"github.com/you/chat-conference/internal/metrics"
	"github.com/you/chat-conference/internal/poll"
	"github.com/you/chat-conference/internal/presenter"
	"github.com/you/chat-conference/internal/route"
)

func newTestServer(t *testing.T) (*Server, *presenter.Recorder) {
	t.Helper()
	rec := &presenter.Recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	conf := conference.New(rec, conference.Options{})
	p := poll.New(rec, poll.Options{})
	d := duel.New(rec, duel.Options{Tick: time.Hour})
	games := chance.New(rec, chance.Options{})
	r := &route.Router{Conf: conf, Poll: p, Duel: d, Metrics: m}
	srv := New(Deps{Conf: conf, Poll: p, Duel: d, Chance: games, Router: r, Metrics: m}, Options{
		Registry: reg,
		Build:    BuildInfo{Version: "test"},
	})
	t.Cleanup(func() {
		d.End("manual")
	})
	return srv, rec
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthzAndInfo(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Fatalf("/healthz = %d", w.Code)
	}
	w := doJSON(t, srv.Handler(), http.MethodGet, "/info", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"version":"test"`) {
		t.Fatalf("/info = %d %s", w.Code, w.Body.String())
	}
}

func TestPollLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	if w := doJSON(t, h, http.MethodPost, "/poll/start", ""); w.Code != http.StatusOK {
		t.Fatalf("start = %d", w.Code)
	}

	doJSON(t, h, http.MethodPost, "/chat/inject", `{"username":"alice","platform":"twitch","text":"3"}`)
	doJSON(t, h, http.MethodPost, "/chat/inject", `{"username":"bob","platform":"tiktok","text":"3"}`)

	w := doJSON(t, h, http.MethodPost, "/poll/end", "")
	if w.Code != http.StatusOK {
		t.Fatalf("end = %d %s", w.Code, w.Body.String())
	}
	var resp struct {
		Winners []int `json:"winners"`
		Max     int   `json:"max"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Winners) != 1 || resp.Winners[0] != 3 || resp.Max != 2 {
		t.Fatalf("end response = %+v", resp)
	}
}

func TestDuelLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/duel/start", `{"duration_s":600,"total_circles":8}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start = %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, h, http.MethodGet, "/duel/state", "")
	if !strings.Contains(w.Body.String(), `"active":true`) {
		t.Fatalf("state = %s", w.Body.String())
	}

	if w = doJSON(t, h, http.MethodPost, "/duel/end", ""); w.Code != http.StatusOK {
		t.Fatalf("end = %d", w.Code)
	}
	// idempotent End via API reports conflict
	if w = doJSON(t, h, http.MethodPost, "/duel/end", ""); w.Code != http.StatusConflict {
		t.Fatalf("second end = %d, want 409", w.Code)
	}
}

func TestSlotEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	doJSON(t, h, http.MethodPost, "/chat/inject", `{"username":"alice","platform":"twitch","text":"..player1"}`)

	w := doJSON(t, h, http.MethodPost, "/slot/pick", `{"slot":1,"platform":"twitch"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"username":"alice"`) {
		t.Fatalf("pick = %d %s", w.Code, w.Body.String())
	}

	// drained pool
	if w = doJSON(t, h, http.MethodPost, "/slot/pick", `{"slot":1,"platform":"twitch"}`); w.Code != http.StatusNotFound {
		t.Fatalf("drained pick = %d, want 404", w.Code)
	}

	// out of range
	if w = doJSON(t, h, http.MethodPost, "/slot/set", `{"slot":11,"username":"x","platform":"twitch"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("set out of range = %d, want 400", w.Code)
	}

	if w = doJSON(t, h, http.MethodPost, "/slot/voice", `{"slot":1,"voice":"bm_lewis"}`); w.Code != http.StatusNoContent {
		t.Fatalf("voice = %d", w.Code)
	}
	if w = doJSON(t, h, http.MethodPost, "/slot/remove", `{"slot":1}`); w.Code != http.StatusNoContent {
		t.Fatalf("remove = %d", w.Code)
	}
	if w = doJSON(t, h, http.MethodPost, "/slots/reset", ""); w.Code != http.StatusNoContent {
		t.Fatalf("slots reset = %d", w.Code)
	}
}

func TestMuteEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	if w := doJSON(t, h, http.MethodPost, "/tts/mute", `{"muted":true}`); w.Code != http.StatusOK {
		t.Fatalf("mute = %d", w.Code)
	}
	w := doJSON(t, h, http.MethodGet, "/state", "")
	if !strings.Contains(w.Body.String(), `"muted":true`) {
		t.Fatalf("state = %s", w.Body.String())
	}
}

func TestInjectValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	if w := doJSON(t, h, http.MethodPost, "/chat/inject", `{"username":"x","platform":"discord","text":"hi"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad platform = %d, want 400", w.Code)
	}
	if w := doJSON(t, h, http.MethodGet, "/chat/inject", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET inject = %d, want 405", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	doJSON(t, srv.Handler(), http.MethodPost, "/chat/inject", `{"username":"alice","platform":"twitch","text":"hi"}`)

	w := doJSON(t, srv.Handler(), http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "conference_chat_messages_total") {
		t.Fatal("chat counter not exported")
	}
}

func TestBroadcastAfterShutdownDropsEvents(t *testing.T) {
	srv, _ := newTestServer(t)

	// register a stream client the way handleEvents does
	ch := make(chan route.Event, 1)
	srv.mu.Lock()
	srv.clients[ch] = struct{}{}
	srv.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	// chat can still flow from draining connectors after shutdown; the event
	// must be dropped, not sent on the closed channel
	srv.Broadcast(route.Event{Kind: "chat"})

	srv.mu.Lock()
	remaining := len(srv.clients)
	srv.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("%d clients still registered after shutdown", remaining)
	}
	if _, open := <-ch; open {
		t.Fatal("event delivered to a closed stream client")
	}
}

func TestGunEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	w := doJSON(t, h, http.MethodPost, "/chance/gun/shoot", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"fired":`) {
		t.Fatalf("shoot = %d %s", w.Code, w.Body.String())
	}
	if w = doJSON(t, h, http.MethodPost, "/chance/gun/flip", ""); !strings.Contains(w.Body.String(), `"player":2`) {
		t.Fatalf("flip = %s", w.Body.String())
	}
	if w = doJSON(t, h, http.MethodPost, "/chance/gun/toggle", ""); !strings.Contains(w.Body.String(), `"hidden":true`) {
		t.Fatalf("toggle = %s", w.Body.String())
	}
	if w = doJSON(t, h, http.MethodGet, "/chance/gun/shoot", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET shoot = %d, want 405", w.Code)
	}
}

func TestCratesLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	// select before start
	if w := doJSON(t, h, http.MethodPost, "/chance/crates/select", `{"crate":1}`); w.Code != http.StatusConflict {
		t.Fatalf("select before start = %d, want 409", w.Code)
	}

	w := doJSON(t, h, http.MethodPost, "/chance/crates/start", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"crates_active":true`) {
		t.Fatalf("start = %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "bomb") {
		t.Fatalf("start response leaks the bomb: %s", w.Body.String())
	}

	if w = doJSON(t, h, http.MethodPost, "/chance/crates/select", `{"crate":0}`); w.Code != http.StatusBadRequest {
		t.Fatalf("crate 0 = %d, want 400", w.Code)
	}

	// opening every crate hits the bomb exactly once, wherever it is
	booms := 0
	for n := 1; n <= chance.NumCrates; n++ {
		w = doJSON(t, h, http.MethodPost, "/chance/crates/select", fmt.Sprintf(`{"crate":%d}`, n))
		switch w.Code {
		case http.StatusOK:
			var resp struct {
				Bomb bool `json:"bomb"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatal(err)
			}
			if resp.Bomb {
				booms++
			}
		case http.StatusConflict:
			// game over after the boom
		default:
			t.Fatalf("select %d = %d %s", n, w.Code, w.Body.String())
		}
	}
	if booms != 1 {
		t.Fatalf("hit %d bombs, want exactly 1", booms)
	}

	if w = doJSON(t, h, http.MethodPost, "/chance/crates/reset", ""); w.Code != http.StatusNoContent {
		t.Fatalf("reset = %d", w.Code)
	}
	w = doJSON(t, h, http.MethodGet, "/state", "")
	if !strings.Contains(w.Body.String(), `"crates_active":false`) {
		t.Fatalf("state = %s", w.Body.String())
	}
}
