package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/warden-bot/warden/automod"
)

const maxQuotedContent = 900

// StaffNotifier posts violation audit embeds to the configured staff channel.
type StaffNotifier struct {
	Session   *discordgo.Session
	ChannelID string
}

var _ automod.StaffNotifier = (*StaffNotifier)(nil)

func (n *StaffNotifier) NotifyViolation(ctx context.Context, notice *automod.ViolationNotice) error {
	content := notice.MessageContent
	if len(content) > maxQuotedContent {
		content = content[:maxQuotedContent] + "…"
	}
	embed := &discordgo.MessageEmbed{
		Title: "🛡️ AutoMod Action",
		Color: 0xe74c3c,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: fmt.Sprintf("%s (<@%s>)", notice.UserTag, notice.UserID), Inline: true},
			{Name: "Channel", Value: fmt.Sprintf("<#%s>", notice.ChannelID), Inline: true},
			{Name: "Rule", Value: notice.RuleName, Inline: true},
			{Name: "Action", Value: string(notice.Action), Inline: true},
			{Name: "Reason", Value: notice.Reason},
			{Name: "Message", Value: "```" + content + "```"},
		},
	}
	_, err := n.Session.ChannelMessageSendEmbed(n.ChannelID, embed, discordgo.WithContext(ctx))
	return err
}
