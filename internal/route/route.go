// Package route validates inbound chat tuples and dispatches them to the
// pools, the polls and the character slots.
package route

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/you/chat-conference/internal/conference"
	"github.com/you/chat-conference/internal/core"
	"github.com/you/chat-conference/internal/duel"
	"github.com/you/chat-conference/internal/metrics"
	"github.com/you/chat-conference/internal/poll"
)

// joinPrefix is the chat command that enters the sender into a slot's pool,
// e.g. "..player3".
const joinPrefix = "..player"

// Event is a fan-out notification for stream listeners.
type Event struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// TranscriptWriter receives every accepted chat message for persistence.
type TranscriptWriter interface {
	Message(msg core.ChatMessage)
}

// Router owns no state of its own; it serializes nothing and may be called
// from any connector goroutine. Malformed input is dropped without reaching
// core state and never aborts the caller's loop.
type Router struct {
	Conf    *conference.Coordinator
	Poll    *poll.Poll
	Duel    *duel.Duel
	Metrics *metrics.Metrics

	// optional collaborators
	Transcript TranscriptWriter
	OnEvent    func(Event)
}

// HandleMessage classifies one inbound message and applies it. Order matters:
// pool-join commands are consumed outright; with both polls active the duel
// claims the shared "1"/"2" tokens; everything else still gets a chance to be
// spoken by a seated character.
func (r *Router) HandleMessage(msg core.ChatMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" || strings.TrimSpace(msg.Username) == "" {
		return
	}

	r.Metrics.ChatMessages.WithLabelValues(string(msg.Platform)).Inc()
	if r.Transcript != nil {
		r.Transcript.Message(msg)
	}
	r.publish(Event{Kind: "chat", Data: msg})

	if n, ok := parseJoin(text); ok {
		if err := r.Conf.AddChatter(n, msg.Username, msg.Platform); err != nil {
			slog.Debug("route: join rejected", "user", msg.Username, "slot", n, "err", err)
			return
		}
		r.Metrics.PoolJoins.Inc()
		return
	}

	switch {
	case r.Duel.Active() && duel.IsValidVote(text):
		if err := r.Duel.Vote(text); err != nil {
			r.Metrics.RejectedVotes.WithLabelValues("duel").Inc()
		} else {
			r.Metrics.Votes.WithLabelValues("duel").Inc()
		}
	case r.Poll.Active() && poll.IsValidVote(text):
		choice, _ := strconv.Atoi(strings.TrimSpace(text))
		if _, err := r.Poll.Vote(choice); err != nil {
			r.Metrics.RejectedVotes.WithLabelValues("poll").Inc()
		} else {
			r.Metrics.Votes.WithLabelValues("poll").Inc()
		}
	}

	// seated chatters speak everything they type, ballots included
	if r.Conf.RouteIncomingMessage(msg.Username, msg.Platform, text) {
		r.Metrics.Speaks.Inc()
	}
}

func (r *Router) publish(ev Event) {
	if r.OnEvent != nil {
		r.OnEvent(ev)
	}
}

// parseJoin extracts the slot number from a "..playerN" command.
func parseJoin(text string) (int, bool) {
	if !strings.HasPrefix(strings.ToLower(text), joinPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(text[len(joinPrefix):]))
	if err != nil {
		return 0, false
	}
	return n, true
}
