// Package discord adapts the gateway and REST surface of Discord to the
// interfaces the moderation pipeline and ban scheduler consume.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/go-cleanhttp"
)

// NewSession builds a gateway session with the intents the pipeline needs.
// Message content is a privileged intent and must also be enabled on the
// application in the developer portal.
func NewSession(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	s.Client = cleanhttp.DefaultPooledClient()
	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent
	s.StateEnabled = true
	return s, nil
}
