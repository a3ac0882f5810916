package banmgr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var unbansProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_unbans_processed",
	Help: "Number of expired bans processed, by outcome",
}, []string{"outcome"})

var unbanQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_unban_queue_depth",
	Help: "Number of pending unbans in the scheduler queue",
})
