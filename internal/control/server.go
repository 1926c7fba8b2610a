// Package control is the operator-facing HTTP API: poll and duel lifecycle,
// slot management, dev chat injection and an SSE event stream.
package control

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/you/chat-conference/internal/chance"
	"github.com/you/chat-conference/internal/conference"
	"github.com/you/chat-conference/internal/core"
	"github.com/you/chat-conference/internal/duel"
	"github.com/you/chat-conference/internal/metrics"
	"github.com/you/chat-conference/internal/poll"
	"github.com/you/chat-conference/internal/route"
)

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

// SelectionWriter persists pick/set decisions; nil disables persistence.
type SelectionWriter interface {
	WriteSelection(slot int, username string, platform core.Platform, kind string) error
}

// TwitchReloader forces a Twitch token refresh; nil disables the endpoint.
type TwitchReloader interface {
	Refresh(ctx context.Context) (string, error)
}

// Deps are the engine pieces the API drives.
type Deps struct {
	Conf    *conference.Coordinator
	Poll    *poll.Poll
	Duel    *duel.Duel
	Chance  *chance.Games
	Router  *route.Router
	Metrics *metrics.Metrics

	Selections SelectionWriter
	Twitch     TwitchReloader
}

type Options struct {
	Addr        string
	RPS         int
	Burst       int
	CORSOrigins []string
	Registry    *prometheus.Registry
	Build       BuildInfo
}

type Server struct {
	httpServer *http.Server
	deps       Deps
	opts       Options
	metrics    *metrics.Metrics
	limiter    *ipRateLimiter
	cors       *corsPolicy

	mu      sync.Mutex
	clients map[chan route.Event]struct{}
	closed  bool
}

func New(deps Deps, opts Options) *Server {
	s := &Server{
		deps:    deps,
		opts:    opts,
		metrics: deps.Metrics,
		limiter: newIPRateLimiter(opts.RPS, opts.Burst),
		cors:    newCORSPolicy(opts.CORSOrigins),
		clients: make(map[chan route.Event]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.wrap("/healthz", s.handleHealthz))
	mux.HandleFunc("/info", s.wrap("/info", s.handleInfo))
	mux.HandleFunc("/state", s.wrap("/state", s.handleState))
	mux.HandleFunc("/events", s.wrap("/events", s.handleEvents))

	mux.HandleFunc("/poll/start", s.wrap("/poll/start", s.handlePollStart))
	mux.HandleFunc("/poll/end", s.wrap("/poll/end", s.handlePollEnd))
	mux.HandleFunc("/poll/hide", s.wrap("/poll/hide", s.handlePollHide))
	mux.HandleFunc("/poll/totals", s.wrap("/poll/totals", s.handlePollTotals))

	mux.HandleFunc("/duel/start", s.wrap("/duel/start", s.handleDuelStart))
	mux.HandleFunc("/duel/end", s.wrap("/duel/end", s.handleDuelEnd))
	mux.HandleFunc("/duel/hide", s.wrap("/duel/hide", s.handleDuelHide))
	mux.HandleFunc("/duel/state", s.wrap("/duel/state", s.handleDuelState))

	mux.HandleFunc("/slot/pick", s.wrap("/slot/pick", s.handleSlotPick))
	mux.HandleFunc("/slot/set", s.wrap("/slot/set", s.handleSlotSet))
	mux.HandleFunc("/slot/remove", s.wrap("/slot/remove", s.handleSlotRemove))
	mux.HandleFunc("/slot/voice", s.wrap("/slot/voice", s.handleSlotVoice))
	mux.HandleFunc("/slot/speak-as", s.wrap("/slot/speak-as", s.handleSlotSpeakAs))
	mux.HandleFunc("/slot/reset", s.wrap("/slot/reset", s.handleSlotReset))
	mux.HandleFunc("/slots/reset", s.wrap("/slots/reset", s.handleSlotsReset))

	mux.HandleFunc("/chance/gun/shoot", s.wrap("/chance/gun/shoot", s.handleGunShoot))
	mux.HandleFunc("/chance/gun/flip", s.wrap("/chance/gun/flip", s.handleGunFlip))
	mux.HandleFunc("/chance/gun/toggle", s.wrap("/chance/gun/toggle", s.handleGunToggle))
	mux.HandleFunc("/chance/crates/start", s.wrap("/chance/crates/start", s.handleCratesStart))
	mux.HandleFunc("/chance/crates/select", s.wrap("/chance/crates/select", s.handleCratesSelect))
	mux.HandleFunc("/chance/crates/reset", s.wrap("/chance/crates/reset", s.handleCratesReset))

	mux.HandleFunc("/pools/clear", s.wrap("/pools/clear", s.handlePoolsClear))
	mux.HandleFunc("/tts/mute", s.wrap("/tts/mute", s.handleMute))
	mux.HandleFunc("/chat/inject", s.wrap("/chat/inject", s.handleChatInject))

	if deps.Twitch != nil {
		mux.HandleFunc("/admin/twitch/reload", s.wrap("/admin/twitch/reload", s.handleTwitchReload))
	}
	if opts.Registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the routing table, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Broadcast fans an event out to every connected SSE client. Slow clients
// lose events rather than blocking the engine. After Shutdown every client
// channel is closed, so events arriving from still-draining connectors are
// dropped here.
func (s *Server) Broadcast(ev route.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for ch := range s.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Server) Start() error {
	log.Printf("control api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
