// internal/metrics/metrics.go
// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "impostor_rooms_created_total",
		Help: "Rooms created.",
	})

	GamesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "impostor_games_started_total",
		Help: "Games started.",
	})

	GamesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "impostor_games_ended_total",
		Help: "Games ended, labeled by result reason.",
	}, []string{"reason"})

	VotesCast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "impostor_votes_cast_total",
		Help: "Votes recorded during voting phases.",
	})

	PayloadsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "impostor_payloads_sent_total",
		Help: "Outbound payloads queued to websocket clients.",
	})

	ActiveTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "impostor_active_timer_tasks",
		Help: "Currently running per-room timer tasks.",
	})
)
