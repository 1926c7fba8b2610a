// Package twitchchat reads a Twitch channel's chat and hands each message to
// the engine.
package twitchchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/you/chat-conference/internal/core"
)

type Config struct {
	Channel string
	Nick    string
	Token   string

	// TokenProvider, when set, supplies the current OAuth token before each
	// connection attempt; it wins over Token.
	TokenProvider func() string
	// RefreshNow forces a token refresh after an authentication failure.
	RefreshNow func(context.Context) (string, error)

	// Addr overrides the IRC gateway address, for tests.
	Addr string
}

type Handler func(core.ChatMessage)

type Client struct {
	cfg    Config
	handle Handler
}

func New(cfg Config, h Handler) *Client {
	return &Client{cfg: cfg, handle: h}
}

// Run connects and keeps reading until ctx is cancelled, reconnecting with
// capped exponential backoff. Authentication failures trigger a token refresh
// when a refresher is configured.
func (c *Client) Run(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Channel) == "" || strings.TrimSpace(c.cfg.Nick) == "" {
		return errors.New("twitchchat: channel and nick are required")
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			backoff = time.Second
			continue
		}

		if errors.Is(err, twitch.ErrLoginAuthenticationFailed) && c.cfg.RefreshNow != nil {
			log.Printf("twitchchat: authentication failed; refreshing token")
			if _, refreshErr := c.cfg.RefreshNow(ctx); refreshErr == nil {
				backoff = time.Second
				continue
			} else {
				log.Printf("twitchchat: refresh failed: %v", refreshErr)
			}
		}

		log.Printf("twitchchat: disconnected: %v; reconnecting in %s", err, backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff < time.Minute {
			backoff *= 2
			if backoff > time.Minute {
				backoff = time.Minute
			}
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	token := strings.TrimSpace(c.cfg.Token)
	if c.cfg.TokenProvider != nil {
		if provided := strings.TrimSpace(c.cfg.TokenProvider()); provided != "" {
			token = provided
		}
	}
	if token == "" {
		return errors.New("twitchchat: token is required")
	}

	client := twitch.NewClient(c.cfg.Nick, ensureOAuthPrefix(token))
	if addr := strings.TrimSpace(c.cfg.Addr); addr != "" {
		client.IrcAddress = addr
		client.TLS = false
	}
	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if c.handle != nil {
			c.handle(convert(msg))
		}
	})
	client.Join(c.cfg.Channel)

	// unblock the blocking Connect when ctx ends
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()

	log.Printf("twitchchat: joining #%s as %s", c.cfg.Channel, c.cfg.Nick)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// ensureOAuthPrefix normalizes a raw token into the "oauth:" form the IRC
// gateway expects.
func ensureOAuthPrefix(token string) string {
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

func convert(msg twitch.PrivateMessage) core.ChatMessage {
	user := msg.User.Name
	if msg.User.DisplayName != "" {
		user = msg.User.DisplayName
	}
	ts := msg.Time
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	id := msg.ID
	if id == "" {
		id = fmt.Sprintf("%s-%d", user, ts.UnixNano())
	}

	raw, _ := json.Marshal(map[string]any{
		"id":      msg.ID,
		"channel": msg.Channel,
		"user":    msg.User.Name,
		"color":   msg.User.Color,
		"badges":  msg.User.Badges,
		"raw":     msg.Raw,
	})

	return core.ChatMessage{
		ID:       id,
		Ts:       ts.UTC(),
		Username: user,
		Platform: core.PlatformTwitch,
		Text:     msg.Message,
		RawJSON:  string(raw),
	}
}
