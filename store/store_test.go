package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRuleValidation(t *testing.T) {
	assert := assert.New(t)

	good := Rule{
		GuildID: "g1",
		Name:    "no-links",
		Type:    RuleLinks,
		Pattern: `https?://\S+`,
		Action:  ActionDelete,
	}
	assert.NoError(good.Validate())
	assert.Equal(3, good.StrikeThreshold)

	badPattern := good
	badPattern.Pattern = `https?://(\S+`
	assert.Error(badPattern.Validate())

	badType := good
	badType.Type = "SEVERITY"
	assert.Error(badType.Validate())

	badAction := good
	badAction.Action = "ESCALATE"
	assert.Error(badAction.Validate())
}

func TestRuleStoreOrderingAndUniqueness(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := NewMemStore()

	first := Rule{GuildID: "g1", Name: "mentions", Type: RuleMentions, Action: ActionWarn, Enabled: true, CreatedAt: time.Now().Add(-time.Hour)}
	second := Rule{GuildID: "g1", Name: "links", Type: RuleLinks, Pattern: `https?://\S+`, Action: ActionDelete, Enabled: true}
	disabled := Rule{GuildID: "g1", Name: "off", Type: RuleCustom, Pattern: "x", Action: ActionWarn, Enabled: false}

	require.NoError(s.CreateRule(ctx, &first))
	require.NoError(s.CreateRule(ctx, &second))
	require.NoError(s.CreateRule(ctx, &disabled))

	dup := Rule{GuildID: "g1", Name: "links", Type: RuleLinks, Pattern: "y", Action: ActionWarn}
	assert.ErrorIs(s.CreateRule(ctx, &dup), ErrDuplicate)

	rules, err := s.ActiveRules(ctx, "g1")
	require.NoError(err)
	require.Len(rules, 2)
	assert.Equal("mentions", rules[0].Name)
	assert.Equal("links", rules[1].Name)
}

func TestStatsConcurrentIncrements(t *testing.T) {
	// two concurrent triggers of the same rule in the same day must both land
	require := require.New(t)
	ctx := context.Background()
	s := NewMemStore()
	ruleID := primitive.NewObjectID()
	now := time.Now().UTC()

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.IncrementRuleTrigger(ctx, "g1", ruleID, now, true)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(err)
	}

	start, end := DayBucket(now)
	stats, err := s.StatsForPeriod(ctx, "g1", start, end)
	require.NoError(err)
	require.Len(stats, 1)
	require.Equal(2, stats[0].TriggerCount)
	require.Equal(2, stats[0].SuccessCount)
	require.Equal(0, stats[0].FailureCount)
}

func TestStatsSeparateDayBuckets(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s := NewMemStore()
	ruleID := primitive.NewObjectID()

	today := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)
	yesterday := today.Add(-24 * time.Hour)
	require.NoError(s.IncrementRuleTrigger(ctx, "g1", ruleID, today, true))
	require.NoError(s.IncrementRuleTrigger(ctx, "g1", ruleID, yesterday, false))

	stats, err := s.StatsForPeriod(ctx, "g1", yesterday.Add(-24*time.Hour), today.Add(24*time.Hour))
	require.NoError(err)
	require.Len(stats, 2)
}

func TestInfractionDeactivation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	s := NewMemStore()

	expires := time.Now().Add(time.Hour)
	ban := Infraction{UserID: "u1", GuildID: "g1", Type: ActionBan, Reason: "spam", Active: true, ChannelID: "c1", ExpiresAt: &expires}
	require.NoError(s.CreateInfraction(ctx, &ban))

	bans, err := s.ActiveTimedBans(ctx)
	require.NoError(err)
	require.Len(bans, 1)

	require.NoError(s.DeactivateInfraction(ctx, ban.ID))
	bans, err = s.ActiveTimedBans(ctx)
	require.NoError(err)
	require.Empty(bans)

	// deactivating an unknown id is a benign no-op
	require.NoError(s.DeactivateInfraction(ctx, primitive.NewObjectID()))
}

func TestAppealLifecycle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := NewMemStore()

	req := UnbanRequest{UserID: "u1", GuildID: "g1", BanReason: "spam", AppealMessage: "sorry"}
	require.NoError(s.CreateAppeal(ctx, &req))
	assert.NotEmpty(req.RequestCode)
	assert.Equal(AppealPending, req.Status)

	// one pending appeal per user
	dup := UnbanRequest{UserID: "u1", GuildID: "g1", BanReason: "spam", AppealMessage: "again"}
	assert.ErrorIs(s.CreateAppeal(ctx, &dup), ErrDuplicate)

	resolved, err := s.ResolveAppeal(ctx, req.RequestCode, AppealApproved, "ok", "mod1")
	require.NoError(err)
	assert.Equal(AppealApproved, resolved.Status)
	assert.Equal("mod1", resolved.HandledBy)
	require.NotNil(resolved.HandledAt)

	// a resolved appeal cannot be resolved again
	_, err = s.ResolveAppeal(ctx, req.RequestCode, AppealDenied, "no", "mod2")
	assert.ErrorIs(err, ErrNotFound)

	// and a new appeal may now be filed
	again := UnbanRequest{UserID: "u1", GuildID: "g1", BanReason: "spam", AppealMessage: "please"}
	assert.NoError(s.CreateAppeal(ctx, &again))
}
