package automod

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messagesProcessed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_messages_processed",
	Help: "Number of messages run through the rule pipeline",
})

var messagesSkipped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_messages_skipped",
	Help: "Number of messages skipped before rule evaluation (bots, DMs, empty)",
})

var rulesTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_rules_triggered",
	Help: "Number of rule triggers, by rule type",
}, []string{"type"})

var actionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_actions_executed",
	Help: "Number of punishment actions executed, by action and outcome",
}, []string{"action", "outcome"})

var notifyErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_staff_notify_errors",
	Help: "Number of failed staff channel notifications",
})

var processErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "warden_process_errors",
	Help: "Number of messages which failed processing",
})

var spamWindowsTracked = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "warden_spam_windows_tracked",
	Help: "Number of per-user spam windows currently held in memory",
})
