package automod

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/warden-bot/warden/store"
)

// RuleSource supplies the compiled, evaluation-ordered rules for a guild.
type RuleSource interface {
	ActiveRules(ctx context.Context, guildID string) ([]CompiledRule, error)
}

// CachedRuleSource fronts the rule store with a short-TTL LRU so the hot
// message path doesn't hit the database on every event. Administrative rule
// changes call Invalidate; otherwise staleness is bounded by the TTL.
type CachedRuleSource struct {
	rules  store.RuleStore
	logger *slog.Logger
	cache  *expirable.LRU[string, []CompiledRule]
}

func NewCachedRuleSource(rules store.RuleStore, logger *slog.Logger, size int, ttl time.Duration) *CachedRuleSource {
	if size <= 0 {
		size = 128
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &CachedRuleSource{
		rules:  rules,
		logger: logger,
		cache:  expirable.NewLRU[string, []CompiledRule](size, nil, ttl),
	}
}

func (c *CachedRuleSource) ActiveRules(ctx context.Context, guildID string) ([]CompiledRule, error) {
	if cached, ok := c.cache.Get(guildID); ok {
		return cached, nil
	}
	raw, err := c.rules.ActiveRules(ctx, guildID)
	if err != nil {
		return nil, err
	}
	compiled := CompileRules(c.logger, raw)
	c.cache.Add(guildID, compiled)
	return compiled, nil
}

// Invalidate drops the cached rules for a guild after an administrative
// change.
func (c *CachedRuleSource) Invalidate(guildID string) {
	c.cache.Remove(guildID)
}
