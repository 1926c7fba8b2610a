package core

import (
	"strings"
	"time"
)

// Platform identifies the chat network a message or chatter came from.
type Platform string

const (
	PlatformTwitch Platform = "Twitch"
	PlatformTikTok Platform = "TikTok"
)

// ParsePlatform normalizes user-supplied platform names. ok=false means the
// input named no known platform.
func ParsePlatform(s string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "twitch", "tw", "t":
		return PlatformTwitch, true
	case "tiktok", "tt":
		return PlatformTikTok, true
	default:
		return "", false
	}
}

// Identity is a chatter keyed by (platform, username).
type Identity struct {
	Username string   `json:"username"`
	Platform Platform `json:"platform"`
}

func (id Identity) Zero() bool { return id.Username == "" }

// ChatMessage is the unified structure connectors deliver to the engine.
type ChatMessage struct {
	ID       string    `json:"id"`
	Ts       time.Time `json:"ts"`
	Username string    `json:"username"`
	Platform Platform  `json:"platform"`
	Text     string    `json:"text"`
	RawJSON  string    `json:"raw_json,omitempty"`
}

func (m ChatMessage) Identity() Identity {
	return Identity{Username: m.Username, Platform: m.Platform}
}
