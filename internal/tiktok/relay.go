// Package tiktok consumes comment events from a webcast relay sidecar. The
// relay speaks the live platform protocol and republishes comments as plain
// JSON frames over a local websocket, so this side stays a thin reader.
package tiktok

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/you/chat-conference/internal/core"
)

type Config struct {
	// URL of the relay websocket, e.g. ws://127.0.0.1:8765/events
	URL string
}

type Handler func(core.ChatMessage)

// event is one relay frame. Only "comment" frames become chat messages.
type event struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	UniqueID string `json:"unique_id"`
	Comment  string `json:"comment"`
	TsMs     int64  `json:"ts_ms"`
}

type Client struct {
	cfg    Config
	handle Handler
}

func New(cfg Config, h Handler) *Client {
	return &Client{cfg: cfg, handle: h}
}

// Run reads relay frames until ctx is cancelled, reconnecting with capped
// exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return fmt.Errorf("tiktok: relay URL is required")
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := c.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("tiktok: relay disconnected: %v; reconnecting in %s", err, backoff)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			if backoff < 30*time.Second {
				backoff *= 2
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
			}
			continue
		}
		backoff = time.Second
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	log.Printf("tiktok: connected to relay at %s", c.cfg.URL)

	for {
		var ev event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		msg, ok := parseEvent(ev)
		if !ok {
			continue
		}
		if c.handle != nil {
			c.handle(msg)
		}
	}
}

// parseEvent maps a relay comment frame onto a chat message. Non-comment
// frames and comments without a usable name are skipped.
func parseEvent(ev event) (core.ChatMessage, bool) {
	if ev.Type != "comment" {
		return core.ChatMessage{}, false
	}

	user := strings.TrimSpace(ev.Nickname)
	if user == "" {
		user = strings.TrimSpace(ev.UniqueID)
	}
	if user == "" || strings.TrimSpace(ev.Comment) == "" {
		return core.ChatMessage{}, false
	}

	ts := time.Now().UTC()
	if ev.TsMs > 0 {
		ts = time.Unix(0, ev.TsMs*int64(time.Millisecond)).UTC()
	}
	id := ev.ID
	if id == "" {
		id = fmt.Sprintf("%s-%d", user, ts.UnixNano())
	}

	raw, _ := json.Marshal(ev)
	return core.ChatMessage{
		ID:       id,
		Ts:       ts,
		Username: user,
		Platform: core.PlatformTikTok,
		Text:     ev.Comment,
		RawJSON:  string(raw),
	}, true
}
