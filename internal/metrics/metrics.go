// Package metrics registers the engine's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter the engine emits. Construct one per process
// with New and share it; the zero value is unusable.
type Metrics struct {
	ChatMessages   *prometheus.CounterVec // by platform
	Votes          *prometheus.CounterVec // by kind: poll|duel
	RejectedVotes  *prometheus.CounterVec // by kind
	PoolJoins      prometheus.Counter
	Picks          *prometheus.CounterVec // by platform preference
	Speaks         prometheus.Counter
	PresenterDrops prometheus.Counter
	HTTPRequests   *prometheus.CounterVec // by path and code
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChatMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conference_chat_messages_total",
			Help: "Inbound chat messages by platform.",
		}, []string{"platform"}),
		Votes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conference_votes_total",
			Help: "Accepted ballots by poll kind.",
		}, []string{"kind"}),
		RejectedVotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conference_votes_rejected_total",
			Help: "Ballots rejected as inactive or malformed, by poll kind.",
		}, []string{"kind"}),
		PoolJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conference_pool_joins_total",
			Help: "Chatters recorded into slot pools.",
		}),
		Picks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conference_picks_total",
			Help: "Successful random picks by platform preference.",
		}, []string{"pref"}),
		Speaks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conference_speaks_total",
			Help: "Messages routed to a seated character's voice.",
		}),
		PresenterDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conference_presenter_drops_total",
			Help: "Presentation commands dropped by a full dispatch queue.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conference_http_requests_total",
			Help: "Control API requests by path and status code.",
		}, []string{"path", "code"}),
	}
	reg.MustRegister(
		m.ChatMessages, m.Votes, m.RejectedVotes, m.PoolJoins,
		m.Picks, m.Speaks, m.PresenterDrops, m.HTTPRequests,
	)
	return m
}
