package automod

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warden-bot/warden/store"
)

// Recorder persists infraction records for triggered rules. Creating the
// infraction is the one step that strictly precedes the side-effect fan-out;
// everything downstream tolerates partial failure, but a violation with no
// record is not acceptable.
type Recorder struct {
	Infractions store.InfractionStore
	Logger      *slog.Logger
}

// Record writes the infraction for a violation and returns it. ExpiresAt is
// only set for time-bounded actions carrying a duration.
func (r *Recorder) Record(ctx context.Context, evt *MessageEvent, rule *store.Rule, reason string, now time.Time) (*store.Infraction, error) {
	inf := &store.Infraction{
		UserID:         evt.UserID,
		GuildID:        evt.GuildID,
		Type:           rule.Action,
		Reason:         fmt.Sprintf("[AutoMod: %s] %s", rule.Name, reason),
		RuleID:         &rule.ID,
		Duration:       rule.ActionDuration,
		Active:         true,
		MessageContent: evt.Content,
		MessageID:      evt.MessageID,
		ChannelID:      evt.ChannelID,
		CreatedAt:      now.UTC(),
	}
	if rule.ActionDuration > 0 && (rule.Action == store.ActionMute || rule.Action == store.ActionBan) {
		expires := now.Add(time.Duration(rule.ActionDuration) * time.Minute).UTC()
		inf.ExpiresAt = &expires
	}
	if err := r.Infractions.CreateInfraction(ctx, inf); err != nil {
		return nil, fmt.Errorf("creating infraction: %w", err)
	}
	r.Logger.Info("infraction recorded", "user", evt.UserID, "guild", evt.GuildID, "rule", rule.Name, "action", rule.Action)
	return inf, nil
}
