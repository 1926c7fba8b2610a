package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/you/chat-conference/internal/chance"
	"github.com/you/chat-conference/internal/conference"
	"github.com/you/chat-conference/internal/core"
	"github.com/you/chat-conference/internal/duel"
	"github.com/you/chat-conference/internal/poll"
	"github.com/you/chat-conference/internal/route"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps the engine's expected-outcome sentinels to client errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, poll.ErrNotActive),
		errors.Is(err, duel.ErrNotActive),
		errors.Is(err, chance.ErrNotActive),
		errors.Is(err, chance.ErrCrateOpened):
		return http.StatusConflict
	case errors.Is(err, poll.ErrInvalidChoice),
		errors.Is(err, duel.ErrInvalidSide),
		errors.Is(err, conference.ErrSlotRange),
		errors.Is(err, chance.ErrCrateRange):
		return http.StatusBadRequest
	case errors.Is(err, conference.ErrNoCandidate):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{
		"version": s.opts.Build.Version,
		"rev":     s.opts.Build.Revision,
		"go":      runtime.Version(),
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		resp["built_at"] = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"poll": map[string]any{
			"active": s.deps.Poll.Active(),
			"totals": s.deps.Poll.Totals(),
		},
		"duel":   s.deps.Duel.Snapshot(),
		"slots":  s.deps.Conf.Slots(),
		"muted":  s.deps.Conf.Muted(),
		"chance": s.deps.Chance.Snapshot(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientCh := make(chan route.Event, 256)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	s.clients[clientCh] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, clientCh)
		s.mu.Unlock()
	}()

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case ev, ok := <-clientCh:
			if !ok {
				return
			}
			data, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handlePollStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.deps.Poll.Start()
	s.Broadcast(route.Event{Kind: "poll_start", Data: map[string]any{}})
	writeJSON(w, http.StatusOK, map[string]any{"active": true})
}

func (s *Server) handlePollEnd(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	winners, max := s.deps.Poll.End()
	resp := map[string]any{"winners": winners, "max": max}
	s.Broadcast(route.Event{Kind: "poll_end", Data: resp})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePollHide(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.deps.Poll.Hide()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePollTotals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active": s.deps.Poll.Active(),
		"totals": s.deps.Poll.Totals(),
	})
}

func (s *Server) handleDuelStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		DurationS    int `json:"duration_s"`
		TotalCircles int `json:"total_circles"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.deps.Duel.Start(req.DurationS, req.TotalCircles)
	s.Broadcast(route.Event{Kind: "duel_start", Data: s.deps.Duel.Snapshot()})
	writeJSON(w, http.StatusOK, s.deps.Duel.Snapshot())
}

func (s *Server) handleDuelEnd(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	out, ended := s.deps.Duel.End("manual")
	if !ended {
		writeError(w, http.StatusConflict, duel.ErrNotActive)
		return
	}
	s.Broadcast(route.Event{Kind: "duel_end", Data: out})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDuelHide(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.deps.Duel.Hide()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuelState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Duel.Snapshot())
}

func (s *Server) handleSlotPick(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Slot     int    `json:"slot"`
		Platform string `json:"platform"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := s.deps.Conf.Pick(req.Slot, req.Platform)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.deps.Metrics.Picks.WithLabelValues(pickPref(req.Platform)).Inc()
	s.recordSelection(req.Slot, id.Username, id.Platform, "pick")
	s.Broadcast(route.Event{Kind: "slot_pick", Data: map[string]any{"slot": req.Slot, "username": id.Username, "platform": id.Platform}})
	writeJSON(w, http.StatusOK, map[string]any{"slot": req.Slot, "username": id.Username, "platform": id.Platform})
}

func (s *Server) handleSlotSet(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Slot     int    `json:"slot"`
		Username string `json:"username"`
		Platform string `json:"platform"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	platform, ok := core.ParsePlatform(req.Platform)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown platform %q", req.Platform))
		return
	}
	if err := s.deps.Conf.Set(req.Slot, req.Username, platform); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.recordSelection(req.Slot, req.Username, platform, "set")
	writeJSON(w, http.StatusOK, map[string]any{"slot": req.Slot})
}

func (s *Server) handleSlotRemove(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Slot int `json:"slot"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Conf.Remove(req.Slot); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlotVoice(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Slot  int    `json:"slot"`
		Voice string `json:"voice"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Conf.SetVoice(req.Slot, req.Voice); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlotSpeakAs(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Slot    int    `json:"slot"`
		Alias   string `json:"alias"`
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Conf.SpeakAs(req.Slot, req.Alias, req.Message); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlotReset(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Slot int `json:"slot"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.deps.Conf.ResetPool(req.Slot); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSlotsReset(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.deps.Conf.RemoveAll()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePoolsClear(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.deps.Conf.ResetAllPools()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMute(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Muted bool `json:"muted"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.deps.Conf.SetMuted(req.Muted)
	writeJSON(w, http.StatusOK, map[string]bool{"muted": req.Muted})
}

// handleChatInject feeds a synthetic message through the same path real chat
// takes. Dev tool; the overlay cannot tell the difference.
func (s *Server) handleChatInject(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Platform string `json:"platform"`
		Text     string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	platform, ok := core.ParsePlatform(req.Platform)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unknown platform %q", req.Platform))
		return
	}
	msg := core.ChatMessage{
		ID:       fmt.Sprintf("inject-%d", time.Now().UnixNano()),
		Ts:       time.Now().UTC(),
		Username: req.Username,
		Platform: platform,
		Text:     req.Text,
	}
	s.deps.Router.HandleMessage(msg)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": msg.ID})
}

func (s *Server) handleTwitchReload(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if _, err := s.deps.Twitch.Refresh(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) recordSelection(slot int, username string, platform core.Platform, kind string) {
	if s.deps.Selections == nil {
		return
	}
	if err := s.deps.Selections.WriteSelection(slot, username, platform, kind); err != nil {
		// persistence is best-effort; the seat change already happened
		log.Printf("control: selection write failed: %v", err)
	}
}

func pickPref(platform string) string {
	switch platform {
	case "twitch", "tiktok":
		return platform
	default:
		return "either"
	}
}

func (s *Server) handleGunShoot(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	fired := s.deps.Chance.ShootGun()
	resp := map[string]any{"fired": fired}
	s.Broadcast(route.Event{Kind: "gun_shoot", Data: resp})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGunFlip(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"player": s.deps.Chance.FlipGun()})
}

func (s *Server) handleGunToggle(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hidden": s.deps.Chance.ToggleGun()})
}

func (s *Server) handleCratesStart(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.deps.Chance.StartCrates()
	// the snapshot never carries the bomb position, so it is safe to return
	resp := s.deps.Chance.Snapshot()
	s.Broadcast(route.Event{Kind: "crates_start", Data: resp})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCratesSelect(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Crate int `json:"crate"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	boom, err := s.deps.Chance.SelectCrate(req.Crate)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	resp := map[string]any{
		"crate":  req.Crate,
		"bomb":   boom,
		"active": s.deps.Chance.Snapshot().CratesActive,
	}
	s.Broadcast(route.Event{Kind: "crates_result", Data: resp})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCratesReset(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	s.deps.Chance.ResetCrates()
	w.WriteHeader(http.StatusNoContent)
}
