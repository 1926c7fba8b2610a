package twitchchat

import (
	"context"
	"testing"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/you/chat-conference/internal/core"
)

func TestEnsureOAuthPrefix(t *testing.T) {
	cases := map[string]string{
		"abc123":       "oauth:abc123",
		"oauth:abc123": "oauth:abc123",
	}
	for in, want := range cases {
		if got := ensureOAuthPrefix(in); got != want {
			t.Errorf("ensureOAuthPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestConvertPrefersDisplayName(t *testing.T) {
	ts := time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)
	msg := twitch.PrivateMessage{
		ID:      "abc-123",
		Time:    ts,
		Channel: "somechannel",
		Message: "hello",
		User: twitch.User{
			Name:        "somEuser",
			DisplayName: "SomeUser",
		},
	}

	got := convert(msg)
	if got.Username != "SomeUser" {
		t.Fatalf("username = %q, want display name", got.Username)
	}
	if got.Platform != core.PlatformTwitch || got.Text != "hello" || got.ID != "abc-123" {
		t.Fatalf("converted = %+v", got)
	}
	if !got.Ts.Equal(ts) {
		t.Fatalf("ts = %v, want %v", got.Ts, ts)
	}
	if got.RawJSON == "" {
		t.Fatal("raw payload not captured")
	}
}

func TestConvertFillsMissingIDAndTime(t *testing.T) {
	got := convert(twitch.PrivateMessage{
		Message: "hi",
		User:    twitch.User{Name: "anon"},
	})
	if got.ID == "" {
		t.Fatal("missing synthetic ID")
	}
	if got.Ts.IsZero() {
		t.Fatal("missing timestamp")
	}
}

func TestRunRequiresChannelAndNick(t *testing.T) {
	c := New(Config{}, nil)
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("expected config error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	c := New(Config{Channel: "chan", Nick: "nick", Token: "tok", Addr: "127.0.0.1:1"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	select {
	case err := <-errc:
		if err != context.DeadlineExceeded && err != context.Canceled {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
