package automod

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/warden-bot/warden/store"
)

// ModerationClient is the narrow slice of the chat platform the punishment
// path needs. The discord package provides the production implementation.
type ModerationClient interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// SendWarning posts a rule-violation notice to the originating channel.
	SendWarning(ctx context.Context, channelID string) error
	TimeoutMember(ctx context.Context, guildID, userID string, d time.Duration, reason string) error
	KickMember(ctx context.Context, guildID, userID, reason string) error
	// BanMember removes membership and requests deletion of the member's
	// recent message history.
	BanMember(ctx context.Context, guildID, userID, reason string, deleteHistory time.Duration) error
}

const punishmentReason = "AutoMod violation"

// banHistoryPurge is how much of a banned member's message history is
// bulk-deleted along with the ban.
const banHistoryPurge = 24 * time.Hour

// Executor maps a rule's configured action onto a single platform call. Each
// action is one external call, never retried: a transient platform failure
// surfaces as a failed punishment rather than risking a duplicate one.
type Executor struct {
	Mod    ModerationClient
	Logger *slog.Logger
}

// Apply executes the punishment for a triggered rule. Failures are logged and
// returned so the caller can count them; they never propagate further.
func (x *Executor) Apply(ctx context.Context, evt *MessageEvent, action store.Action, durationMinutes int) error {
	var err error
	switch action {
	case store.ActionDelete:
		err = x.Mod.DeleteMessage(ctx, evt.ChannelID, evt.MessageID)
	case store.ActionWarn:
		err = x.Mod.SendWarning(ctx, evt.ChannelID)
	case store.ActionMute:
		if durationMinutes <= 0 {
			return fmt.Errorf("mute action requires a duration")
		}
		err = x.Mod.TimeoutMember(ctx, evt.GuildID, evt.UserID, time.Duration(durationMinutes)*time.Minute, punishmentReason)
	case store.ActionKick:
		err = x.Mod.KickMember(ctx, evt.GuildID, evt.UserID, punishmentReason)
	case store.ActionBan:
		err = x.Mod.BanMember(ctx, evt.GuildID, evt.UserID, punishmentReason, banHistoryPurge)
	default:
		return fmt.Errorf("unknown punishment action: %s", action)
	}

	if err != nil {
		x.Logger.Error("failed to execute punishment", "action", action, "user", evt.UserID, "channel", evt.ChannelID, "err", err)
		actionCount.WithLabelValues(string(action), "error").Inc()
		return fmt.Errorf("executing %s: %w", action, err)
	}
	actionCount.WithLabelValues(string(action), "ok").Inc()
	return nil
}
