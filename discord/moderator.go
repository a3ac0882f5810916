package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/warden-bot/warden/banmgr"
)

// Moderator wraps the REST calls the punishment executor, the unban
// scheduler, and the web companion make against Discord. Every call is bound
// to the caller's context.
type Moderator struct {
	Session *discordgo.Session
	Logger  *slog.Logger
}

func NewModerator(s *discordgo.Session, logger *slog.Logger) *Moderator {
	return &Moderator{Session: s, Logger: logger}
}

func (m *Moderator) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return m.Session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func (m *Moderator) SendWarning(ctx context.Context, channelID string) error {
	_, err := m.Session.ChannelMessageSendEmbed(channelID, &discordgo.MessageEmbed{
		Title:       "⚠️ Rule Violation",
		Description: "Your message violated a server rule. Please review the rules before posting again.",
		Color:       0xffcc00,
	}, discordgo.WithContext(ctx))
	return err
}

func (m *Moderator) TimeoutMember(ctx context.Context, guildID, userID string, d time.Duration, reason string) error {
	until := time.Now().Add(d)
	return m.Session.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx))
}

func (m *Moderator) KickMember(ctx context.Context, guildID, userID, reason string) error {
	return m.Session.GuildMemberDeleteWithReason(guildID, userID, reason, discordgo.WithContext(ctx))
}

func (m *Moderator) BanMember(ctx context.Context, guildID, userID, reason string, deleteHistory time.Duration) error {
	days := int(deleteHistory / (24 * time.Hour))
	if days < 0 {
		days = 0
	}
	if days > 7 {
		days = 7
	}
	return m.Session.GuildBanCreateWithReason(guildID, userID, reason, days, discordgo.WithContext(ctx))
}

// UnbanMember lifts a ban. A 10026 (unknown ban) from the API is mapped to
// banmgr.ErrUnknownBan so the scheduler treats it as already lifted.
func (m *Moderator) UnbanMember(ctx context.Context, guildID, userID string) error {
	err := m.Session.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx))
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownBan {
		return banmgr.ErrUnknownBan
	}
	return err
}

// GrantRole assigns a role to a member; used by the web companion to grant the
// verified role after OAuth completes.
func (m *Moderator) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	return m.Session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
}

// GuildName returns the guild's display name for user-facing pages.
func (m *Moderator) GuildName(ctx context.Context, guildID string) (string, error) {
	if g, err := m.Session.State.Guild(guildID); err == nil {
		return g.Name, nil
	}
	g, err := m.Session.Guild(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("fetching guild %s: %w", guildID, err)
	}
	return g.Name, nil
}
