package automod

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-bot/warden/store"
)

func seedRule(t *testing.T, f *TestFixture, r store.Rule) store.Rule {
	t.Helper()
	r.Enabled = true
	require.NoError(t, f.Store.CreateRule(context.TODO(), &r))
	return r
}

func TestEngineViolationFlow(t *testing.T) {
	assert := assert.New(t)
	f := NewTestFixture()
	ctx := context.TODO()

	rule := seedRule(t, f, store.Rule{
		GuildID: "g1", Name: "no-links", Type: store.RuleLinks,
		Pattern: `https?://\S+`, Action: store.ActionDelete,
	})

	evt := guildMessage("spam here http://evil.example")
	f.Engine.ProcessMessage(ctx, evt)

	// infraction recorded with the automod-prefixed reason
	infs := f.Store.Infractions()
	require.Len(t, infs, 1)
	assert.Equal("u1", infs[0].UserID)
	assert.Equal(store.ActionDelete, infs[0].Type)
	assert.Contains(infs[0].Reason, "[AutoMod: no-links]")
	assert.True(infs[0].Active)

	// punishment applied
	assert.Equal([]string{"m1"}, f.Mod.Deleted)

	// staff notified
	require.Len(t, f.Notifier.Notices, 1)
	assert.Equal("no-links", f.Notifier.Notices[0].RuleName)
	assert.Contains(f.Notifier.Notices[0].Reason, "http://evil.example")

	// stats bucket incremented as a success
	start, end := store.DayBucket(time.Now())
	stats, err := f.Store.StatsForPeriod(ctx, "g1", start, end)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(rule.ID, stats[0].RuleID)
	assert.Equal(1, stats[0].TriggerCount)
	assert.Equal(1, stats[0].SuccessCount)
	assert.Equal(0, stats[0].FailureCount)

	// no ban, nothing scheduled
	assert.Empty(f.Scheduler.Scheduled)
}

func TestEngineNotifierFailureDoesNotBlockOthers(t *testing.T) {
	assert := assert.New(t)
	f := NewTestFixture()
	f.Notifier.Err = errors.New("staff channel gone")

	seedRule(t, f, store.Rule{
		GuildID: "g1", Name: "no-links", Type: store.RuleLinks,
		Pattern: `https?://\S+`, Action: store.ActionDelete,
	})

	f.Engine.ProcessMessage(context.TODO(), guildMessage("http://evil.example"))

	// infraction and punishment land despite the notification failure
	assert.Len(f.Store.Infractions(), 1)
	assert.Equal([]string{"m1"}, f.Mod.Deleted)
	assert.Empty(f.Notifier.Notices)
}

func TestEnginePunishmentFailureCountsAsFailure(t *testing.T) {
	assert := assert.New(t)
	f := NewTestFixture()
	f.Mod.Err = errors.New("missing permissions")
	ctx := context.TODO()

	rule := seedRule(t, f, store.Rule{
		GuildID: "g1", Name: "no-links", Type: store.RuleLinks,
		Pattern: `https?://\S+`, Action: store.ActionDelete,
	})

	f.Engine.ProcessMessage(ctx, guildMessage("http://evil.example"))

	// infraction still recorded, notification still sent
	assert.Len(f.Store.Infractions(), 1)
	assert.Len(f.Notifier.Notices, 1)

	start, end := store.DayBucket(time.Now())
	stats, err := f.Store.StatsForPeriod(ctx, "g1", start, end)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(rule.ID, stats[0].RuleID)
	assert.Equal(1, stats[0].TriggerCount)
	assert.Equal(0, stats[0].SuccessCount)
	assert.Equal(1, stats[0].FailureCount)
}

func TestEngineTimedBanSchedulesUnban(t *testing.T) {
	assert := assert.New(t)
	f := NewTestFixture()

	seedRule(t, f, store.Rule{
		GuildID: "g1", Name: "hard-ban", Type: store.RuleToxicity,
		Keywords: []string{"bannable"}, Action: store.ActionBan, ActionDuration: 60,
	})

	f.Engine.ProcessMessage(context.TODO(), guildMessage("that was bannable"))

	infs := f.Store.Infractions()
	require.Len(t, infs, 1)
	require.NotNil(t, infs[0].ExpiresAt)

	assert.Equal([]string{"u1"}, f.Mod.Banned)
	require.Len(t, f.Scheduler.Scheduled, 1)
	sched := f.Scheduler.Scheduled[0]
	assert.Equal("u1", sched.UserID)
	assert.Equal("g1", sched.GuildID)
	assert.Equal(infs[0].ID, sched.InfractionID)
	assert.Equal(60*time.Minute, sched.Duration)
}

func TestEngineTimedBanScheduledEvenIfBanFails(t *testing.T) {
	assert := assert.New(t)
	f := NewTestFixture()
	f.Mod.Err = errors.New("missing permissions")

	seedRule(t, f, store.Rule{
		GuildID: "g1", Name: "hard-ban", Type: store.RuleToxicity,
		Keywords: []string{"bannable"}, Action: store.ActionBan, ActionDuration: 60,
	})

	f.Engine.ProcessMessage(context.TODO(), guildMessage("that was bannable"))

	assert.Empty(f.Mod.Banned)
	assert.Len(f.Scheduler.Scheduled, 1)
}

func TestEngineSkipsFilteredMessages(t *testing.T) {
	assert := assert.New(t)
	f := NewTestFixture()

	seedRule(t, f, store.Rule{
		GuildID: "g1", Name: "no-links", Type: store.RuleLinks,
		Pattern: `https?://\S+`, Action: store.ActionDelete,
	})

	bot := guildMessage("http://evil.example")
	bot.Bot = true
	f.Engine.ProcessMessage(context.TODO(), bot)

	assert.Empty(f.Store.Infractions())
	assert.Empty(f.Mod.Deleted)
	assert.Empty(f.Notifier.Notices)
}

func TestEngineCleanMessageNoSideEffects(t *testing.T) {
	assert := assert.New(t)
	f := NewTestFixture()

	seedRule(t, f, store.Rule{
		GuildID: "g1", Name: "no-links", Type: store.RuleLinks,
		Pattern: `https?://\S+`, Action: store.ActionDelete,
	})

	f.Engine.ProcessMessage(context.TODO(), guildMessage("just saying hello"))

	assert.Empty(f.Store.Infractions())
	assert.Empty(f.Mod.Deleted)
	assert.Empty(f.Notifier.Notices)
	assert.Empty(f.Scheduler.Scheduled)
}
