// Package config reads the process configuration from CONF_* environment
// variables. Flags in the command mains override individual fields.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	OBS        OBSConfig
	TTS        TTSConfig
	Twitch     TwitchConfig
	TikTok     TikTokConfig
	Transcript TranscriptConfig
	HTTP       HTTPConfig
	Engine     EngineConfig
}

type OBSConfig struct {
	URL      string
	Password string
}

type TTSConfig struct {
	Enabled bool
	URL     string
}

type TwitchConfig struct {
	Enabled      bool
	Channel      string
	Nick         string
	Token        string
	TokenFile    string
	ClientID     string
	ClientSecret string
	RefreshFile  string
}

type TikTokConfig struct {
	Enabled  bool
	RelayURL string
}

type TranscriptConfig struct {
	Enabled    bool
	Path       string
	BatchSize  int
	FlushMaxMS int
}

type HTTPConfig struct {
	Addr        string
	RPS         int
	Burst       int
	CORSOrigins []string
}

type EngineConfig struct {
	PoolTimeoutS  int
	DuelThreshold float64
}

const (
	defaultOBSURL         = "ws://127.0.0.1:4455"
	defaultTTSURL         = "http://127.0.0.1:5002"
	defaultTranscriptPath = "transcript.db"
	defaultHTTPAddr       = ":8008"
	defaultBatchSize      = 1
	defaultPoolTimeoutS   = 60
)

func Load() Config {
	cfg := Config{}

	cfg.OBS.URL = readString("CONF_OBS_URL", defaultOBSURL)
	cfg.OBS.Password = readString("CONF_OBS_PASSWORD", "")

	cfg.TTS.URL = readString("CONF_TTS_URL", defaultTTSURL)
	cfg.TTS.Enabled = readBool("CONF_TTS_ENABLED", true)

	cfg.Twitch.Channel = readString("CONF_TWITCH_CHANNEL", "")
	cfg.Twitch.Nick = readString("CONF_TWITCH_NICK", "")
	cfg.Twitch.Token = readString("CONF_TWITCH_TOKEN", "")
	cfg.Twitch.TokenFile = readString("CONF_TWITCH_TOKEN_FILE", "")
	cfg.Twitch.ClientID = readString("CONF_TWITCH_CLIENT_ID", "")
	cfg.Twitch.ClientSecret = readString("CONF_TWITCH_CLIENT_SECRET", "")
	cfg.Twitch.RefreshFile = readString("CONF_TWITCH_REFRESH_TOKEN_FILE", "")
	cfg.Twitch.Enabled = readBool("CONF_TWITCH_ENABLED", cfg.Twitch.Channel != "")

	cfg.TikTok.RelayURL = readString("CONF_TIKTOK_RELAY_URL", "")
	cfg.TikTok.Enabled = readBool("CONF_TIKTOK_ENABLED", cfg.TikTok.RelayURL != "")

	cfg.Transcript.Path = readString("CONF_TRANSCRIPT_PATH", defaultTranscriptPath)
	cfg.Transcript.Enabled = readBool("CONF_TRANSCRIPT_ENABLED", true)
	cfg.Transcript.BatchSize = readInt("CONF_TRANSCRIPT_BATCH_SIZE", defaultBatchSize)
	cfg.Transcript.FlushMaxMS = readInt("CONF_TRANSCRIPT_FLUSH_MAX_MS", 0)

	cfg.HTTP.Addr = readString("CONF_HTTP_ADDR", defaultHTTPAddr)
	cfg.HTTP.RPS = readInt("CONF_HTTP_RPS", 0)
	cfg.HTTP.Burst = readInt("CONF_HTTP_BURST", 0)
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("CONF_HTTP_CORS_ORIGINS"))

	cfg.Engine.PoolTimeoutS = readInt("CONF_POOL_TIMEOUT_S", defaultPoolTimeoutS)
	cfg.Engine.DuelThreshold = readFloat("CONF_DUEL_THRESHOLD", 0)

	return cfg
}

func (c Config) PoolTimeout() time.Duration {
	s := c.Engine.PoolTimeoutS
	if s <= 0 {
		s = defaultPoolTimeoutS
	}
	return time.Duration(s) * time.Second
}

func (c Config) FlushInterval() time.Duration {
	if c.Transcript.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Transcript.FlushMaxMS) * time.Millisecond
}

// RefreshEnabled reports whether enough credentials exist to mint new Twitch
// tokens.
func (c Config) RefreshEnabled() bool {
	return c.Twitch.ClientID != "" && c.Twitch.ClientSecret != "" && c.Twitch.RefreshFile != ""
}

// Redacted returns a loggable view of the configuration with secrets masked.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"obs": map[string]any{
			"url":      c.OBS.URL,
			"password": redactString(c.OBS.Password),
		},
		"tts": map[string]any{
			"enabled": c.TTS.Enabled,
			"url":     c.TTS.URL,
		},
		"twitch": map[string]any{
			"enabled":            c.Twitch.Enabled,
			"channel":            c.Twitch.Channel,
			"nick":               c.Twitch.Nick,
			"token":              redactString(c.Twitch.Token),
			"token_file":         c.Twitch.TokenFile,
			"client_id":          redactString(c.Twitch.ClientID),
			"client_secret":      redactString(c.Twitch.ClientSecret),
			"refresh_token_file": c.Twitch.RefreshFile,
			"refresh_enabled":    c.RefreshEnabled(),
		},
		"tiktok": map[string]any{
			"enabled":   c.TikTok.Enabled,
			"relay_url": c.TikTok.RelayURL,
		},
		"transcript": map[string]any{
			"enabled":  c.Transcript.Enabled,
			"path":     c.Transcript.Path,
			"batch":    c.Transcript.BatchSize,
			"flush_ms": c.Transcript.FlushMaxMS,
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"rps":          c.HTTP.RPS,
			"burst":        c.HTTP.Burst,
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
		},
		"engine": map[string]any{
			"pool_timeout_s": c.Engine.PoolTimeoutS,
			"duel_threshold": c.Engine.DuelThreshold,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func readString(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
