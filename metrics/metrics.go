package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crowdchess/crowdchess/common/log"
)

var (
	// GameMetrics is the registry for everything the coordinator counts.
	GameMetrics = prometheus.NewRegistry()

	// Connections is the number of live websocket clients.
	Connections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crowdchess_connections",
		Help: "Number of connected clients",
	})
	// Proposals counts accepted move proposals.
	Proposals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crowdchess_proposals_total",
		Help: "Number of move proposals accepted",
	})
	// MovesSelected counts committed moves per side.
	MovesSelected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdchess_moves_selected_total",
		Help: "Number of moves committed after engine arbitration",
	}, []string{"side"})
	// Votes counts vote state changes by kind and outcome.
	Votes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdchess_votes_total",
		Help: "Number of votes by kind and outcome",
	}, []string{"kind", "outcome"})
	// GamesFinished counts terminated games by end reason.
	GamesFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crowdchess_games_finished_total",
		Help: "Number of finished games by reason",
	}, []string{"reason"})

	metricsBound = false
)

func bindMetrics() {
	if metricsBound {
		return
	}
	metricsBound = true

	GameMetrics.MustRegister(prometheus.NewGoCollector())
	GameMetrics.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	for _, c := range []prometheus.Collector{
		Connections,
		Proposals,
		MovesSelected,
		Votes,
		GamesFinished,
	} {
		GameMetrics.MustRegister(c)
	}
}

// Start serves the metrics registry over HTTP at addr.
func Start(logger log.Logger, addr string) *http.Server {
	bindMetrics()
	logger.Infow("metrics listening", "addr", addr)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(GameMetrics, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("metrics server stopped", "err", err)
		}
	}()
	return srv
}
