package automod

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/warden-bot/warden/store"
)

func testEvaluator() *Evaluator {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEvaluator(NewSpamDetector(DefaultSpamWindow, DefaultSpamThreshold, DefaultMaxSpamWindows), logger)
}

func compiled(t *testing.T, rules ...store.Rule) []CompiledRule {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for i := range rules {
		if rules[i].ID.IsZero() {
			rules[i].ID = primitive.NewObjectID()
		}
	}
	out := CompileRules(logger, rules)
	require.Len(t, out, len(rules))
	return out
}

func guildMessage(content string) *MessageEvent {
	return &MessageEvent{
		MessageID: "m1",
		GuildID:   "g1",
		ChannelID: "c1",
		UserID:    "u1",
		UserTag:   "someone#1234",
		Content:   content,
	}
}

func TestShouldProcess(t *testing.T) {
	assert := assert.New(t)

	assert.True(ShouldProcess(guildMessage("hello")))

	bot := guildMessage("hello")
	bot.Bot = true
	assert.False(ShouldProcess(bot))

	dm := guildMessage("hello")
	dm.GuildID = ""
	assert.False(ShouldProcess(dm))

	empty := guildMessage("")
	assert.False(ShouldProcess(empty))
}

func TestFirstMatchWins(t *testing.T) {
	assert := assert.New(t)
	e := testEvaluator()

	rules := compiled(t,
		store.Rule{GuildID: "g1", Name: "mass-mentions", Type: store.RuleMentions, Action: store.ActionWarn, Enabled: true},
		store.Rule{GuildID: "g1", Name: "no-links", Type: store.RuleLinks, Pattern: `https?://\S+`, Action: store.ActionDelete, Enabled: true},
	)

	// triggers both MENTIONS and LINKS; only the first rule's result returns
	evt := guildMessage("look http://spam.example everyone")
	evt.MentionUsers = 4
	evt.MentionRoles = 3

	match := e.Evaluate(evt, rules, time.Now())
	require.NotNil(t, match)
	assert.Equal("mass-mentions", match.Rule.Name)
	assert.Contains(match.Reason, "7 mentions")
}

func TestExemptMemberNeverTriggers(t *testing.T) {
	assert := assert.New(t)
	e := testEvaluator()

	rules := compiled(t,
		store.Rule{GuildID: "g1", Name: "no-links", Type: store.RuleLinks, Pattern: `https?://\S+`, Action: store.ActionDelete, Enabled: true, ExemptRoles: []string{"mod-role"}},
		store.Rule{GuildID: "g1", Name: "words", Type: store.RuleToxicity, Keywords: []string{"badword"}, Action: store.ActionWarn, Enabled: true, ExemptRoles: []string{"mod-role"}},
	)

	evt := guildMessage("badword and http://spam.example")
	evt.MemberRoles = []string{"member", "mod-role"}
	assert.Nil(e.Evaluate(evt, rules, time.Now()))

	// message-management capability is exempt even without the role
	evt2 := guildMessage("badword and http://spam.example")
	evt2.CanManageMessages = true
	assert.Nil(e.Evaluate(evt2, rules, time.Now()))

	// without either, the same message triggers
	evt3 := guildMessage("badword and http://spam.example")
	evt3.MemberRoles = []string{"member"}
	assert.NotNil(e.Evaluate(evt3, rules, time.Now()))
}

func TestLinksRule(t *testing.T) {
	assert := assert.New(t)
	e := testEvaluator()

	rules := compiled(t,
		store.Rule{GuildID: "g1", Name: "no-links", Type: store.RuleLinks, Pattern: `https?://\S+`, Action: store.ActionDelete, Enabled: true},
	)

	match := e.Evaluate(guildMessage("check out http://evil.example"), rules, time.Now())
	require.NotNil(t, match)
	assert.Contains(match.Reason, "http://evil.example")

	assert.Nil(e.Evaluate(guildMessage("no links here"), rules, time.Now()))
}

func TestToxicityKeywords(t *testing.T) {
	assert := assert.New(t)
	e := testEvaluator()

	rules := compiled(t,
		store.Rule{GuildID: "g1", Name: "words", Type: store.RuleToxicity, Keywords: []string{"Heck", "darn"}, Action: store.ActionWarn, Enabled: true},
	)

	// case-insensitive substring match, reason lists every matched keyword
	match := e.Evaluate(guildMessage("oh HECK that is darn rude"), rules, time.Now())
	require.NotNil(t, match)
	assert.Contains(match.Reason, "`Heck`")
	assert.Contains(match.Reason, "`darn`")

	assert.Nil(e.Evaluate(guildMessage("perfectly polite"), rules, time.Now()))
}

func TestAttachmentsRule(t *testing.T) {
	assert := assert.New(t)
	e := testEvaluator()

	rules := compiled(t,
		store.Rule{GuildID: "g1", Name: "no-executables", Type: store.RuleAttachments, Pattern: `\.(exe|bat|scr)$`, Action: store.ActionDelete, Enabled: true},
	)

	evt := guildMessage("here you go")
	evt.AttachmentNames = []string{"notes.txt", "totally-safe.exe"}
	match := e.Evaluate(evt, rules, time.Now())
	require.NotNil(t, match)
	assert.Contains(match.Reason, "totally-safe.exe")

	clean := guildMessage("here you go")
	clean.AttachmentNames = []string{"notes.txt"}
	assert.Nil(e.Evaluate(clean, rules, time.Now()))
}

func TestCustomPattern(t *testing.T) {
	assert := assert.New(t)
	e := testEvaluator()

	rules := compiled(t,
		store.Rule{GuildID: "g1", Name: "invite-codes", Type: store.RuleCustom, Pattern: `discord\.gg/\w+`, Action: store.ActionDelete, Enabled: true},
	)

	match := e.Evaluate(guildMessage("join DISCORD.GG/abc123"), rules, time.Now())
	require.NotNil(t, match)
	assert.Contains(match.Reason, `discord\.gg`)
}

func TestChannelScopedRule(t *testing.T) {
	assert := assert.New(t)
	e := testEvaluator()

	rules := compiled(t,
		store.Rule{GuildID: "g1", Name: "no-links", Type: store.RuleLinks, Pattern: `https?://\S+`, Action: store.ActionDelete, Enabled: true, Channels: []string{"general"}},
	)

	evt := guildMessage("http://spam.example")
	evt.ChannelID = "off-topic"
	assert.Nil(e.Evaluate(evt, rules, time.Now()))

	evt.ChannelID = "general"
	assert.NotNil(e.Evaluate(evt, rules, time.Now()))
}

func TestSpamRuleDelegation(t *testing.T) {
	assert := assert.New(t)
	e := testEvaluator()

	rules := compiled(t,
		store.Rule{GuildID: "g1", Name: "spam", Type: store.RuleSpam, Action: store.ActionMute, ActionDuration: 10, Enabled: true},
	)

	now := time.Now()
	var match *Match
	for i := 0; i < 5; i++ {
		evt := guildMessage("same thing again")
		match = e.Evaluate(evt, rules, now.Add(time.Duration(i)*100*time.Millisecond))
	}
	require.NotNil(t, match)
	assert.Equal("spam", match.Rule.Name)
	assert.Contains(match.Reason, "duplicate messages")
}

func TestCompileRulesSkipsInvalidPattern(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rules := CompileRules(logger, []store.Rule{
		{GuildID: "g1", Name: "broken", Type: store.RuleCustom, Pattern: `([unclosed`, Action: store.ActionWarn},
		{GuildID: "g1", Name: "fine", Type: store.RuleCustom, Pattern: `ok`, Action: store.ActionWarn},
	})
	require.Len(t, rules, 1)
	assert.Equal(t, "fine", rules[0].Name)
}
