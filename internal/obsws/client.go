// Package obsws is a minimal obs-websocket v5 client covering the handful of
// requests the overlay needs: text updates, scene item visibility and source
// filter toggles.
package obsws

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ErrNotConnected is returned while the client is between connections.
// Callers treat presentation pushes as fire-and-forget, so a lost frame during
// a reconnect is acceptable.
var ErrNotConnected = errors.New("obsws: not connected")

const (
	opHello      = 0
	opIdentify   = 1
	opIdentified = 2
	opRequest    = 6
	opResponse   = 7

	rpcVersion     = 1
	requestTimeout = 5 * time.Second
)

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type helloData struct {
	Authentication *struct {
		Challenge string `json:"challenge"`
		Salt      string `json:"salt"`
	} `json:"authentication"`
}

type requestData struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

type responseData struct {
	RequestID     string `json:"requestId"`
	RequestStatus struct {
		Result  bool   `json:"result"`
		Code    int    `json:"code"`
		Comment string `json:"comment"`
	} `json:"requestStatus"`
	ResponseData json.RawMessage `json:"responseData"`
}

// Client maintains one obs-websocket connection with automatic reconnect.
// All exported methods are safe for concurrent use.
type Client struct {
	url      string
	password string

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan responseData

	// sceneItemIDs caches GetSceneItemId lookups; obs-websocket addresses
	// scene items by numeric id, not name
	itemMu       sync.Mutex
	sceneItemIDs map[string]int
}

func New(url, password string) *Client {
	return &Client{
		url:          url,
		password:     password,
		pending:      make(map[string]chan responseData),
		sceneItemIDs: make(map[string]int),
	}
}

// Run dials OBS and keeps the connection alive until ctx is cancelled,
// reconnecting with capped exponential backoff.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := c.connect(ctx); err != nil {
			log.Printf("obsws: connect to %s failed: %v (retry in %s)", c.url, err, backoff)
		} else {
			log.Printf("obsws: connected to %s", c.url)
			backoff = time.Second
			c.readLoop(ctx)
			log.Printf("obsws: connection lost")
		}

		select {
		case <-ctx.Done():
			c.teardown()
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

// connect performs the v5 handshake: Hello, Identify (with challenge auth
// when the server demands it), Identified.
func (c *Client) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return err
	}

	var hello envelope
	if err := wsjson.Read(dialCtx, conn, &hello); err != nil {
		conn.Close(websocket.StatusProtocolError, "hello read failed")
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		conn.Close(websocket.StatusProtocolError, "unexpected opcode")
		return fmt.Errorf("expected hello op %d, got %d", opHello, hello.Op)
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil {
		conn.Close(websocket.StatusProtocolError, "bad hello")
		return fmt.Errorf("decode hello: %w", err)
	}

	identify := map[string]any{"rpcVersion": rpcVersion}
	if hd.Authentication != nil {
		identify["authentication"] = authResponse(c.password, hd.Authentication.Salt, hd.Authentication.Challenge)
	}
	if err := wsjson.Write(dialCtx, conn, envelope{Op: opIdentify, D: mustJSON(identify)}); err != nil {
		conn.Close(websocket.StatusProtocolError, "identify write failed")
		return fmt.Errorf("write identify: %w", err)
	}

	var identified envelope
	if err := wsjson.Read(dialCtx, conn, &identified); err != nil {
		conn.Close(websocket.StatusProtocolError, "identified read failed")
		return fmt.Errorf("read identified: %w", err)
	}
	if identified.Op != opIdentified {
		conn.Close(websocket.StatusPolicyViolation, "identify rejected")
		return fmt.Errorf("identify rejected, op %d", identified.Op)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// readLoop dispatches responses to their waiting requesters until the
// connection drops. Event frames (op 5) are ignored.
func (c *Client) readLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			c.teardown()
			return
		}
		if env.Op != opResponse {
			continue
		}
		var resp responseData
		if err := json.Unmarshal(env.D, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		if ok {
			delete(c.pending, resp.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "")
		c.conn = nil
	}
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	// scene item ids are only stable within a connection's view of the
	// collection; re-resolve after reconnect
	c.itemMu.Lock()
	c.sceneItemIDs = make(map[string]int)
	c.itemMu.Unlock()
}

// request sends one obs-websocket request and waits for its response.
func (c *Client) request(reqType string, reqData any, out any) error {
	id := uuid.NewString()
	ch := make(chan responseData, 1)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.pending[id] = ch
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	payload := envelope{Op: opRequest, D: mustJSON(requestData{
		RequestType: reqType,
		RequestID:   id,
		RequestData: reqData,
	})}
	if err := wsjson.Write(ctx, conn, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("obsws: write %s: %w", reqType, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if !resp.RequestStatus.Result {
			return fmt.Errorf("obsws: %s failed: code %d %s", reqType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
		}
		if out != nil && len(resp.ResponseData) > 0 {
			if err := json.Unmarshal(resp.ResponseData, out); err != nil {
				return fmt.Errorf("obsws: decode %s response: %w", reqType, err)
			}
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return fmt.Errorf("obsws: %s timed out", reqType)
	}
}

// SetText updates a text input's contents.
func (c *Client) SetText(label, value string) error {
	return c.request("SetInputSettings", map[string]any{
		"inputName":     label,
		"inputSettings": map[string]any{"text": value},
	}, nil)
}

// SetVisibility shows or hides a scene item.
func (c *Client) SetVisibility(scene, source string, visible bool) error {
	id, err := c.sceneItemID(scene, source)
	if err != nil {
		return err
	}
	return c.request("SetSceneItemEnabled", map[string]any{
		"sceneName":        scene,
		"sceneItemId":      id,
		"sceneItemEnabled": visible,
	}, nil)
}

// SetFilterState enables or disables a source filter.
func (c *Client) SetFilterState(source, filter string, enabled bool) error {
	return c.request("SetSourceFilterEnabled", map[string]any{
		"sourceName":    source,
		"filterName":    filter,
		"filterEnabled": enabled,
	}, nil)
}

func (c *Client) sceneItemID(scene, source string) (int, error) {
	key := scene + "\x00" + source
	c.itemMu.Lock()
	id, ok := c.sceneItemIDs[key]
	c.itemMu.Unlock()
	if ok {
		return id, nil
	}

	var out struct {
		SceneItemID int `json:"sceneItemId"`
	}
	if err := c.request("GetSceneItemId", map[string]any{
		"sceneName":  scene,
		"sourceName": source,
	}, &out); err != nil {
		return 0, err
	}

	c.itemMu.Lock()
	c.sceneItemIDs[key] = out.SceneItemID
	c.itemMu.Unlock()
	return out.SceneItemID, nil
}

// authResponse derives the v5 challenge answer:
// base64(sha256(base64(sha256(password+salt)) + challenge)).
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	b64 := base64.StdEncoding.EncodeToString(secret[:])
	answer := sha256.Sum256([]byte(b64 + challenge))
	return base64.StdEncoding.EncodeToString(answer[:])
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
