// Package store holds the persisted data model for warden (rules, infractions,
// aggregate stats, ban appeals) along with a MongoDB-backed implementation and
// an in-memory implementation used in tests.
//
// The interfaces are deliberately narrow: the moderation pipeline only reads
// rules and writes infractions/stats, and treats the underlying document store
// as a set of commutative create/find/update primitives. No cross-collection
// transactions.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound is returned when a lookup matches no document.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned when a unique constraint (rule name per guild,
// pending appeal per user) would be violated.
var ErrDuplicate = errors.New("store: duplicate")

type RuleStore interface {
	// ActiveRules returns the enabled rules for a guild in creation order.
	// The returned order is the evaluation order.
	ActiveRules(ctx context.Context, guildID string) ([]Rule, error)
	CreateRule(ctx context.Context, r *Rule) error
	UpdateRule(ctx context.Context, r *Rule) error
	DeleteRule(ctx context.Context, guildID, name string) error
}

type InfractionStore interface {
	CreateInfraction(ctx context.Context, inf *Infraction) error
	// ActiveTimedBans returns active BAN infractions that carry an expiry,
	// sorted ascending by expiry. Used to rebuild the unban queue at startup.
	ActiveTimedBans(ctx context.Context) ([]Infraction, error)
	ActiveInfractions(ctx context.Context, userID, guildID string) ([]Infraction, error)
	// DeactivateInfraction flips a single infraction inactive. Missing
	// documents are a no-op, not an error.
	DeactivateInfraction(ctx context.Context, id primitive.ObjectID) error
	// DeactivateUserBans flips all active bans for a user in a guild,
	// returning how many were touched.
	DeactivateUserBans(ctx context.Context, userID, guildID string) (int64, error)
}

type StatsStore interface {
	// IncrementRuleTrigger upserts the daily bucket for (guild, rule) and
	// atomically bumps triggerCount plus successCount or failureCount.
	IncrementRuleTrigger(ctx context.Context, guildID string, ruleID primitive.ObjectID, at time.Time, success bool) error
	StatsForPeriod(ctx context.Context, guildID string, start, end time.Time) ([]AutoModStats, error)
}

type AppealStore interface {
	CreateAppeal(ctx context.Context, req *UnbanRequest) error
	AppealByCode(ctx context.Context, code string) (*UnbanRequest, error)
	// PendingAppeal returns the user's pending request, or ErrNotFound.
	PendingAppeal(ctx context.Context, userID string) (*UnbanRequest, error)
	ListAppeals(ctx context.Context, status AppealStatus) ([]UnbanRequest, error)
	ResolveAppeal(ctx context.Context, code string, status AppealStatus, response, moderatorID string) (*UnbanRequest, error)
}

// NewRequestCode generates the public identifier for an unban request, in the
// same "0x"-prefixed hex form the appeal form displays to users.
func NewRequestCode() string {
	buf := make([]byte, 4)
	rand.Read(buf)
	return "0x" + strings.ToUpper(hex.EncodeToString(buf))
}
