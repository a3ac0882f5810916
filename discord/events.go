package discord

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/warden-bot/warden/automod"
)

// EventBridge translates gateway events into the pipeline's platform-neutral
// shapes and hands them to the engine.
type EventBridge struct {
	Engine *automod.Engine
	Logger *slog.Logger
}

func NewEventBridge(engine *automod.Engine, logger *slog.Logger) *EventBridge {
	return &EventBridge{Engine: engine, Logger: logger}
}

// Attach registers the bridge's handlers on the session. Call before Open.
func (b *EventBridge) Attach(s *discordgo.Session) {
	s.AddHandler(b.onReady)
	s.AddHandler(b.onMessageCreate)
}

func (b *EventBridge) onReady(s *discordgo.Session, r *discordgo.Ready) {
	b.Logger.Info("gateway connected", "user", r.User.String(), "guilds", len(r.Guilds))
}

func (b *EventBridge) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	evt := &automod.MessageEvent{
		MessageID:    m.ID,
		GuildID:      m.GuildID,
		ChannelID:    m.ChannelID,
		UserID:       m.Author.ID,
		UserTag:      m.Author.String(),
		Bot:          m.Author.Bot,
		Content:      m.Content,
		MentionUsers: len(m.Mentions),
		MentionRoles: len(m.MentionRoles),
	}
	for _, a := range m.Attachments {
		evt.AttachmentNames = append(evt.AttachmentNames, a.Filename)
	}
	if m.Member != nil {
		evt.MemberRoles = m.Member.Roles
	}
	if m.GuildID != "" && !m.Author.Bot {
		perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
		if err != nil {
			b.Logger.Warn("failed to resolve channel permissions", "user", m.Author.ID, "channel", m.ChannelID, "err", err)
		} else {
			evt.CanManageMessages = perms&discordgo.PermissionManageMessages != 0
		}
	}

	b.Engine.ProcessMessage(context.Background(), evt)
}
