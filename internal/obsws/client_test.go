package obsws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func TestAuthResponseVector(t *testing.T) {
	// vector checked against the obs-websocket 5.x reference handshake
	got := authResponse("supersecretpassword", "PZVbYpvAnZut2SS6JNJytDm9", "ztTBnnuqrqaKDzRM3xcVdbYm")
	want := "zZgWipvwSGrw748kHN4gNpBC1IaeiiWX3Hjkrm849Sc="
	if got != want {
		t.Fatalf("authResponse = %q, want %q", got, want)
	}
}

// fakeOBS is an in-process obs-websocket v5 endpoint good enough for the
// handshake and the requests the client issues.
type fakeOBS struct {
	srv      *httptest.Server
	requests atomic.Int64
}

func newFakeOBS(t *testing.T) *fakeOBS {
	f := &fakeOBS{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		hello := map[string]any{"obsWebSocketVersion": "5.4.2", "rpcVersion": 1}
		if err := wsjson.Write(ctx, conn, envelope{Op: opHello, D: mustJSON(hello)}); err != nil {
			return
		}

		var identify envelope
		if err := wsjson.Read(ctx, conn, &identify); err != nil || identify.Op != opIdentify {
			return
		}
		if err := wsjson.Write(ctx, conn, envelope{Op: opIdentified, D: mustJSON(map[string]any{"negotiatedRpcVersion": 1})}); err != nil {
			return
		}

		for {
			var env envelope
			if err := wsjson.Read(ctx, conn, &env); err != nil {
				return
			}
			if env.Op != opRequest {
				continue
			}
			var req requestData
			if err := json.Unmarshal(env.D, &req); err != nil {
				return
			}
			f.requests.Add(1)

			resp := responseData{RequestID: req.RequestID}
			resp.RequestStatus.Result = true
			resp.RequestStatus.Code = 100
			if req.RequestType == "GetSceneItemId" {
				resp.ResponseData = mustJSON(map[string]any{"sceneItemId": 42})
			}
			if err := wsjson.Write(ctx, conn, envelope{Op: opResponse, D: mustJSON(resp)}); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeOBS) wsURL() string {
	return "ws://" + strings.TrimPrefix(f.srv.URL, "http://")
}

func dialTestClient(t *testing.T, f *fakeOBS) *Client {
	c := New(f.wsURL(), "")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := c.SetText("probe", "x"); err == nil {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client never connected")
	return nil
}

func TestHandshakeAndSetText(t *testing.T) {
	f := newFakeOBS(t)
	c := dialTestClient(t, f)

	if err := c.SetText("Poll Winner", "Winner: 3"); err != nil {
		t.Fatalf("SetText: %v", err)
	}
	if err := c.SetFilterState("Line In", "Audio Move - Character 1", true); err != nil {
		t.Fatalf("SetFilterState: %v", err)
	}
}

func TestSceneItemIDCached(t *testing.T) {
	f := newFakeOBS(t)
	c := dialTestClient(t, f)

	before := f.requests.Load()
	if err := c.SetVisibility("Vote duel", "Blue Circle 1", true); err != nil {
		t.Fatalf("SetVisibility: %v", err)
	}
	if err := c.SetVisibility("Vote duel", "Blue Circle 1", false); err != nil {
		t.Fatalf("SetVisibility: %v", err)
	}
	// first toggle costs a lookup plus the set, the second only the set
	if got := f.requests.Load() - before; got != 3 {
		t.Fatalf("request count = %d, want 3", got)
	}
}

func TestRequestWhenDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1", "")
	if err := c.SetText("a", "b"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}
