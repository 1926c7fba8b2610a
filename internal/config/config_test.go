package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.OBS.URL != defaultOBSURL {
		t.Fatalf("obs url = %q", cfg.OBS.URL)
	}
	if cfg.TTS.URL != defaultTTSURL || !cfg.TTS.Enabled {
		t.Fatalf("tts = %+v", cfg.TTS)
	}
	if cfg.Twitch.Enabled {
		t.Fatal("twitch enabled without a channel")
	}
	if cfg.TikTok.Enabled {
		t.Fatal("tiktok enabled without a relay url")
	}
	if cfg.HTTP.Addr != defaultHTTPAddr {
		t.Fatalf("http addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Transcript.Path != defaultTranscriptPath || cfg.Transcript.BatchSize != 1 {
		t.Fatalf("transcript = %+v", cfg.Transcript)
	}
	if got := cfg.PoolTimeout(); got != 60*time.Second {
		t.Fatalf("pool timeout = %v", got)
	}
	if got := cfg.FlushInterval(); got != 0 {
		t.Fatalf("flush interval = %v", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONF_OBS_URL", "ws://obs.local:4455")
	t.Setenv("CONF_OBS_PASSWORD", "hunter2")
	t.Setenv("CONF_TWITCH_CHANNEL", "somestreamer")
	t.Setenv("CONF_TWITCH_TOKEN_FILE", "/run/secrets/twitch_token")
	t.Setenv("CONF_TIKTOK_RELAY_URL", "ws://127.0.0.1:8765")
	t.Setenv("CONF_TRANSCRIPT_BATCH_SIZE", "64")
	t.Setenv("CONF_TRANSCRIPT_FLUSH_MAX_MS", "1500")
	t.Setenv("CONF_HTTP_CORS_ORIGINS", "http://localhost:3000, https://overlay.example.com")
	t.Setenv("CONF_POOL_TIMEOUT_S", "90")

	cfg := Load()

	if cfg.OBS.URL != "ws://obs.local:4455" || cfg.OBS.Password != "hunter2" {
		t.Fatalf("obs = %+v", cfg.OBS)
	}
	if !cfg.Twitch.Enabled || cfg.Twitch.Channel != "somestreamer" {
		t.Fatalf("twitch = %+v", cfg.Twitch)
	}
	if cfg.Twitch.TokenFile != "/run/secrets/twitch_token" {
		t.Fatalf("token file = %q", cfg.Twitch.TokenFile)
	}
	if !cfg.TikTok.Enabled || cfg.TikTok.RelayURL != "ws://127.0.0.1:8765" {
		t.Fatalf("tiktok = %+v", cfg.TikTok)
	}
	if cfg.Transcript.BatchSize != 64 {
		t.Fatalf("batch = %d", cfg.Transcript.BatchSize)
	}
	if got := cfg.FlushInterval(); got != 1500*time.Millisecond {
		t.Fatalf("flush interval = %v", got)
	}
	want := []string{"http://localhost:3000", "https://overlay.example.com"}
	if len(cfg.HTTP.CORSOrigins) != len(want) {
		t.Fatalf("cors origins = %v", cfg.HTTP.CORSOrigins)
	}
	for i := range want {
		if cfg.HTTP.CORSOrigins[i] != want[i] {
			t.Fatalf("cors origins = %v", cfg.HTTP.CORSOrigins)
		}
	}
	if got := cfg.PoolTimeout(); got != 90*time.Second {
		t.Fatalf("pool timeout = %v", got)
	}
}

func TestExplicitDisableWinsOverPresence(t *testing.T) {
	t.Setenv("CONF_TWITCH_CHANNEL", "somestreamer")
	t.Setenv("CONF_TWITCH_ENABLED", "false")
	t.Setenv("CONF_TIKTOK_RELAY_URL", "ws://127.0.0.1:8765")
	t.Setenv("CONF_TIKTOK_ENABLED", "0")

	cfg := Load()
	if cfg.Twitch.Enabled || cfg.TikTok.Enabled {
		t.Fatalf("twitch=%v tiktok=%v, want both disabled", cfg.Twitch.Enabled, cfg.TikTok.Enabled)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("CONF_TRANSCRIPT_BATCH_SIZE", "not-a-number")
	t.Setenv("CONF_POOL_TIMEOUT_S", "-5")
	t.Setenv("CONF_TTS_ENABLED", "maybe")
	t.Setenv("CONF_DUEL_THRESHOLD", "lots")

	cfg := Load()
	if cfg.Transcript.BatchSize != 1 {
		t.Fatalf("batch = %d", cfg.Transcript.BatchSize)
	}
	if cfg.Engine.PoolTimeoutS != 60 {
		t.Fatalf("pool timeout = %d", cfg.Engine.PoolTimeoutS)
	}
	if !cfg.TTS.Enabled {
		t.Fatal("tts disabled by malformed bool")
	}
	if cfg.Engine.DuelThreshold != 0 {
		t.Fatalf("threshold = %v", cfg.Engine.DuelThreshold)
	}
}

func TestRefreshEnabledDerivation(t *testing.T) {
	cases := []struct {
		name string
		cfg  TwitchConfig
		want bool
	}{
		{name: "nothing configured", cfg: TwitchConfig{}, want: false},
		{
			name: "client creds without refresh file",
			cfg:  TwitchConfig{ClientID: "id", ClientSecret: "secret"},
			want: false,
		},
		{
			name: "missing secret",
			cfg:  TwitchConfig{ClientID: "id", RefreshFile: "/tmp/refresh"},
			want: false,
		},
		{
			name: "full credentials",
			cfg:  TwitchConfig{ClientID: "id", ClientSecret: "secret", RefreshFile: "/tmp/refresh"},
			want: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Config{Twitch: tc.cfg}
			if got := cfg.RefreshEnabled(); got != tc.want {
				t.Fatalf("refresh enabled = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRedactedHidesSecrets(t *testing.T) {
	t.Setenv("CONF_OBS_PASSWORD", "hunter2")
	t.Setenv("CONF_TWITCH_TOKEN", "oauth:abcdef123456")
	t.Setenv("CONF_TWITCH_CLIENT_SECRET", "topsecret")

	cfg := Load()
	out := string(cfg.RedactedJSON())
	for _, secret := range []string{"hunter2", "abcdef123456", "topsecret"} {
		if strings.Contains(out, secret) {
			t.Fatalf("secret %q leaked into redacted output", secret)
		}
	}
	if !strings.Contains(out, "***REDACTED*** (len=7)") {
		t.Fatalf("redaction marker missing: %s", out)
	}

	twitch := cfg.Redacted()["twitch"].(map[string]any)
	if twitch["token"].(string) != "***REDACTED*** (len=18)" {
		t.Fatalf("unexpected redacted token: %v", twitch["token"])
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a,b;  c\td ,,")
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("splitList = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitList = %v", got)
		}
	}
	if splitList("   ") != nil {
		t.Fatal("blank input should yield nil")
	}
}
