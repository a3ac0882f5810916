// Package automod implements warden's rule-evaluation and violation-response
// pipeline: message inspection, first-match rule evaluation, punishment
// execution, and infraction record-keeping.
package automod

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/warden-bot/warden/store"
)

// BanScheduler queues an unban for a time-bounded ban. The banmgr package
// provides the production implementation.
type BanScheduler interface {
	Schedule(userID, guildID string, infractionID primitive.ObjectID, d time.Duration)
}

// Engine drives the moderation pipeline for inbound messages. All
// dependencies are injected; there is no global state beyond process metrics.
type Engine struct {
	Logger    *slog.Logger
	Rules     RuleSource
	Evaluator *Evaluator
	Recorder  *Recorder
	Stats     store.StatsStore
	Executor  *Executor
	Notifier  StaffNotifier
	Scheduler BanScheduler
}

// ProcessMessage runs one message through the pipeline. A single message's
// failure must never take down or stall the event loop, so rule execution is
// guarded against panics and all side-effect failures are absorbed here.
func (e *Engine) ProcessMessage(ctx context.Context, evt *MessageEvent) {
	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("automod message processing panic", "err", r, "user", evt.UserID, "channel", evt.ChannelID)
		}
	}()

	if !ShouldProcess(evt) {
		messagesSkipped.Inc()
		return
	}
	messagesProcessed.Inc()

	now := time.Now()
	rules, err := e.Rules.ActiveRules(ctx, evt.GuildID)
	if err != nil {
		processErrorCount.Inc()
		e.Logger.Error("failed to fetch active rules", "guild", evt.GuildID, "err", err)
		return
	}

	match := e.Evaluator.Evaluate(evt, rules, now)
	if match != nil {
		rulesTriggered.WithLabelValues(string(match.Rule.Type)).Inc()
		e.handleViolation(ctx, evt, match, now)
	}

	e.Evaluator.Spam.Sweep(now)
	spamWindowsTracked.Set(float64(e.Evaluator.Spam.TrackedUsers()))
}

// handleViolation records the infraction, then fans out the independent side
// effects. Punishment and staff notification run concurrently and settle
// independently: a failure in one is logged and counted but never rolls back
// or blocks the others. The stats increment follows the punishment in its
// branch so the success/failure counters reflect the actual outcome.
func (e *Engine) handleViolation(ctx context.Context, evt *MessageEvent, match *Match, now time.Time) {
	rule := &match.Rule.Rule

	inf, err := e.Recorder.Record(ctx, evt, rule, match.Reason, now)
	if err != nil {
		processErrorCount.Inc()
		e.Logger.Error("failed to record violation", "user", evt.UserID, "rule", rule.Name, "err", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		punishErr := e.Executor.Apply(ctx, evt, rule.Action, rule.ActionDuration)
		if err := e.Stats.IncrementRuleTrigger(ctx, evt.GuildID, rule.ID, now, punishErr == nil); err != nil {
			e.Logger.Error("failed to update automod stats", "guild", evt.GuildID, "rule", rule.Name, "err", err)
		}
	}()

	go func() {
		defer wg.Done()
		notice := &ViolationNotice{
			UserID:         evt.UserID,
			UserTag:        evt.UserTag,
			ChannelID:      evt.ChannelID,
			RuleName:       rule.Name,
			Action:         rule.Action,
			Reason:         match.Reason,
			MessageContent: evt.Content,
		}
		if err := e.Notifier.NotifyViolation(ctx, notice); err != nil {
			notifyErrorCount.Inc()
			e.Logger.Error("failed to send staff notification", "channel", evt.ChannelID, "err", err)
		}
	}()

	wg.Wait()

	// A timed ban gets its unban queued regardless of the punishment
	// outcome: if the ban call failed, the eventual unban resolves as
	// already-lifted, which is benign.
	if rule.Action == store.ActionBan && rule.ActionDuration > 0 && e.Scheduler != nil {
		e.Scheduler.Schedule(evt.UserID, evt.GuildID, inf.ID, time.Duration(rule.ActionDuration)*time.Minute)
	}

	e.Logger.Info("automod action taken",
		"action", rule.Action, "user", evt.UserTag, "userID", evt.UserID, "rule", rule.Name, "reason", match.Reason)
}
