package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/chat-conference/internal/chance"
	"github.com/you/chat-conference/internal/conference"
	"github.com/you/chat-conference/internal/config"
	"github.com/you/chat-conference/internal/control"
	"github.com/you/chat-conference/internal/duel"
	"github.com/you/chat-conference/internal/metrics"
	"github.com/you/chat-conference/internal/obsws"
	"github.com/you/chat-conference/internal/poll"
	"github.com/you/chat-conference/internal/presenter"
	"github.com/you/chat-conference/internal/route"
	"github.com/you/chat-conference/internal/sink"
	"github.com/you/chat-conference/internal/speech"
	"github.com/you/chat-conference/internal/tiktok"
	"github.com/you/chat-conference/internal/twitchauth"
	"github.com/you/chat-conference/internal/twitchchat"
	"github.com/you/chat-conference/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("conference: load .env: %v", err)
	}

	var (
		versionFlag   bool
		obsURL        string
		obsPassword   string
		ttsURL        string
		noTTS         bool
		twChannel     string
		twNick        string
		twToken       string
		twTokenFile   string
		twClientID    string
		twClientSec   string
		twRefreshFile string
		ttRelayURL    string
		dbPath        string
		noTranscript  bool
		httpAddr      string
		httpCORS      string
		httpRPS       int
		httpBurst     int
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&obsURL, "obs-url", "", "obs-websocket URL (e.g. ws://127.0.0.1:4455)")
	flag.StringVar(&obsPassword, "obs-password", "", "obs-websocket password")
	flag.StringVar(&ttsURL, "tts-url", "", "Speech sidecar base URL")
	flag.BoolVar(&noTTS, "no-tts", false, "Disable speech synthesis")
	flag.StringVar(&twChannel, "twitch-channel", "", "Twitch channel to join (without #)")
	flag.StringVar(&twNick, "twitch-nick", "", "Twitch nickname to login as")
	flag.StringVar(&twToken, "twitch-token", "", "Twitch OAuth token (format: oauth:xxxxx)")
	flag.StringVar(&twTokenFile, "twitch-token-file", "", "Path to file containing the Twitch OAuth token")
	flag.StringVar(&twClientID, "twitch-client-id", "", "Twitch application client ID")
	flag.StringVar(&twClientSec, "twitch-client-secret", "", "Twitch application client secret")
	flag.StringVar(&twRefreshFile, "twitch-refresh-token-file", "", "Path to file containing the Twitch refresh token")
	flag.StringVar(&ttRelayURL, "tiktok-relay-url", "", "TikTok relay websocket URL")
	flag.StringVar(&dbPath, "sqlite", "", "Path to the transcript SQLite database")
	flag.BoolVar(&noTranscript, "no-transcript", false, "Disable transcript persistence")
	flag.StringVar(&httpAddr, "http-addr", "", "Control API listen address (e.g. :8008)")
	flag.StringVar(&httpCORS, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRPS, "http-rate-rps", 0, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpBurst, "http-rate-burst", 0, "Burst size for HTTP rate limiter")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"conference version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["obs-url"] {
		cfg.OBS.URL = strings.TrimSpace(obsURL)
	}
	if overrides["obs-password"] {
		cfg.OBS.Password = obsPassword
	}
	if overrides["tts-url"] {
		cfg.TTS.URL = strings.TrimSpace(ttsURL)
	}
	if overrides["no-tts"] {
		cfg.TTS.Enabled = !noTTS
	}
	if overrides["twitch-channel"] {
		cfg.Twitch.Channel = strings.TrimSpace(twChannel)
		cfg.Twitch.Enabled = cfg.Twitch.Channel != ""
	}
	if overrides["twitch-nick"] {
		cfg.Twitch.Nick = strings.TrimSpace(twNick)
	}
	if overrides["twitch-token"] {
		cfg.Twitch.Token = strings.TrimSpace(twToken)
	}
	if overrides["twitch-token-file"] {
		cfg.Twitch.TokenFile = strings.TrimSpace(twTokenFile)
	}
	if overrides["twitch-client-id"] {
		cfg.Twitch.ClientID = strings.TrimSpace(twClientID)
	}
	if overrides["twitch-client-secret"] {
		cfg.Twitch.ClientSecret = strings.TrimSpace(twClientSec)
	}
	if overrides["twitch-refresh-token-file"] {
		cfg.Twitch.RefreshFile = strings.TrimSpace(twRefreshFile)
	}
	if overrides["tiktok-relay-url"] {
		cfg.TikTok.RelayURL = strings.TrimSpace(ttRelayURL)
		cfg.TikTok.Enabled = cfg.TikTok.RelayURL != ""
	}
	if overrides["sqlite"] {
		cfg.Transcript.Path = strings.TrimSpace(dbPath)
	}
	if overrides["no-transcript"] {
		cfg.Transcript.Enabled = !noTranscript
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCORS, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RPS = httpRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.Burst = httpBurst
	}

	log.Printf("conference: config %s", cfg.RedactedJSON())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("conference: received %s, shutting down", sig)
		cancel()
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	obs := obsws.New(cfg.OBS.URL, cfg.OBS.Password)
	go obs.Run(ctx)

	var speaker presenter.Speaker = presenter.Log{}
	if cfg.TTS.Enabled {
		speaker = speech.New(cfg.TTS.URL, nil)
	} else {
		log.Printf("conference: speech synthesis disabled")
	}

	async := presenter.NewAsync(presenter.NewBackend(obs, speaker), presenter.AsyncOptions{
		OnDrop: m.PresenterDrops.Inc,
	})
	pr := presenter.NewTextDebouncer(async, 0)

	conf := conference.New(pr, conference.Options{PoolTimeout: cfg.PoolTimeout()})
	pollEngine := poll.New(pr, poll.Options{})
	duelEngine := duel.New(pr, duel.Options{Threshold: cfg.Engine.DuelThreshold})
	games := chance.New(pr, chance.Options{})

	router := &route.Router{
		Conf:    conf,
		Poll:    pollEngine,
		Duel:    duelEngine,
		Metrics: m,
	}

	deps := control.Deps{
		Conf:    conf,
		Poll:    pollEngine,
		Duel:    duelEngine,
		Chance:  games,
		Router:  router,
		Metrics: m,
	}

	var (
		transcript *sink.Transcript
		buffered   *sink.BufferedWriter
	)
	if cfg.Transcript.Enabled {
		tr, err := sink.OpenTranscript(cfg.Transcript.Path)
		if err != nil {
			log.Fatalf("conference: open transcript: %v", err)
		}
		if err := tr.Ping(); err != nil {
			log.Fatalf("conference: ping transcript: %v", err)
		}
		transcript = tr
		buffered = sink.NewBufferedWriter(tr, sink.BufferedOptions{
			BatchSize:     cfg.Transcript.BatchSize,
			FlushInterval: cfg.FlushInterval(),
		})
		router.Transcript = buffered
		deps.Selections = tr
		log.Printf("conference: transcript %s", tr)
	} else {
		log.Printf("conference: transcript persistence disabled")
	}

	var auth *twitchauth.Manager
	if cfg.Twitch.TokenFile != "" {
		auth = &twitchauth.Manager{
			ClientID:     cfg.Twitch.ClientID,
			ClientSecret: cfg.Twitch.ClientSecret,
			AccessPath:   cfg.Twitch.TokenFile,
			RefreshPath:  cfg.Twitch.RefreshFile,
		}
		go func() {
			err := auth.Watch(ctx, func(string) {
				log.Printf("twitch: token file rotated; next reconnect uses the new token")
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("twitchauth: watch token file", "err", err)
			}
		}()
		if cfg.RefreshEnabled() {
			deps.Twitch = auth
		}
	}

	build := control.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}

	srv := control.New(deps, control.Options{
		Addr:        cfg.HTTP.Addr,
		RPS:         cfg.HTTP.RPS,
		Burst:       cfg.HTTP.Burst,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Registry:    reg,
		Build:       build,
	})
	router.OnEvent = srv.Broadcast
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("conference: control api: %v", err)
		}
	}()

	started := 0

	if cfg.Twitch.Enabled {
		if strings.TrimSpace(cfg.Twitch.Nick) == "" {
			log.Fatal("conference: twitch-nick is required when twitch-channel provided")
		}
		tcfg := twitchchat.Config{
			Channel: cfg.Twitch.Channel,
			Nick:    cfg.Twitch.Nick,
			Token:   cfg.Twitch.Token,
		}
		if auth != nil {
			tcfg.TokenProvider = auth.Token
			if cfg.RefreshEnabled() {
				tcfg.RefreshNow = auth.Refresh
			}
		}
		client := twitchchat.New(tcfg, router.HandleMessage)
		started++
		go func() {
			if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("conference: twitch client exited: %v", err)
				cancel()
			}
		}()
		log.Printf("conference: twitch receiver started for #%s", cfg.Twitch.Channel)
	}

	if cfg.TikTok.Enabled {
		relay := tiktok.New(tiktok.Config{URL: cfg.TikTok.RelayURL}, router.HandleMessage)
		started++
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("conference: tiktok relay exited: %v", err)
				cancel()
			}
		}()
		log.Printf("conference: tiktok receiver started for %s", cfg.TikTok.RelayURL)
	}

	if started == 0 {
		log.Printf("conference: no chat receivers configured; only /chat/inject will feed the engine")
	}

	_ = pr.SpeakUtterance("The Chat Conference App is now running!", "")

	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("conference: control api shutdown: %v", err)
	}
	cancelShutdown()

	// drain queued presentation commands before closing the transcript
	async.Close()

	if buffered != nil {
		if err := buffered.Close(); err != nil {
			log.Printf("conference: flush transcript: %v", err)
		}
	}
	if transcript != nil {
		if err := transcript.Close(); err != nil {
			log.Printf("conference: close transcript: %v", err)
		}
	}

	// allow receiver goroutines to finish cleanly
	time.Sleep(100 * time.Millisecond)
	log.Printf("conference: shutdown complete")
}
