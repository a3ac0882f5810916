package store

import (
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// RuleType selects which check a moderation rule applies to message content.
type RuleType string

const (
	RuleSpam        RuleType = "SPAM"
	RuleToxicity    RuleType = "TOXICITY"
	RuleLinks       RuleType = "LINKS"
	RuleMentions    RuleType = "MENTIONS"
	RuleAttachments RuleType = "ATTACHMENTS"
	RuleCustom      RuleType = "CUSTOM"
)

// Action is the punishment applied when a rule triggers.
type Action string

const (
	ActionWarn   Action = "WARN"
	ActionMute   Action = "MUTE"
	ActionKick   Action = "KICK"
	ActionBan    Action = "BAN"
	ActionDelete Action = "DELETE"
)

// Rule is a guild-scoped auto-moderation rule. Name is unique per guild.
type Rule struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GuildID         string             `bson:"guildId" json:"guildId"`
	Name            string             `bson:"name" json:"name"`
	Description     string             `bson:"description,omitempty" json:"description,omitempty"`
	Enabled         bool               `bson:"enabled" json:"enabled"`
	Type            RuleType           `bson:"type" json:"type"`
	Pattern         string             `bson:"pattern,omitempty" json:"pattern,omitempty"`
	Keywords        []string           `bson:"keywords,omitempty" json:"keywords,omitempty"`
	Action          Action             `bson:"action" json:"action"`
	ActionDuration  int                `bson:"actionDuration,omitempty" json:"actionDuration,omitempty"` // minutes
	StrikeThreshold int                `bson:"strikeThreshold,omitempty" json:"strikeThreshold,omitempty"`
	ExemptRoles     []string           `bson:"exemptRoles,omitempty" json:"exemptRoles,omitempty"`
	Channels        []string           `bson:"channels,omitempty" json:"channels,omitempty"`
	CreatedAt       time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time          `bson:"updatedAt" json:"updatedAt"`
}

var validRuleTypes = map[RuleType]bool{
	RuleSpam: true, RuleToxicity: true, RuleLinks: true,
	RuleMentions: true, RuleAttachments: true, RuleCustom: true,
}

var validActions = map[Action]bool{
	ActionWarn: true, ActionMute: true, ActionKick: true,
	ActionBan: true, ActionDelete: true,
}

// Validate rejects malformed rules at the write boundary, before they can
// reach the evaluation pipeline. The pattern must compile here; the evaluator
// assumes stored patterns are valid.
func (r *Rule) Validate() error {
	if r.GuildID == "" {
		return fmt.Errorf("rule is missing guild id")
	}
	if r.Name == "" {
		return fmt.Errorf("rule is missing a name")
	}
	if !validRuleTypes[r.Type] {
		return fmt.Errorf("unknown rule type: %s", r.Type)
	}
	if !validActions[r.Action] {
		return fmt.Errorf("unknown rule action: %s", r.Action)
	}
	if r.Pattern != "" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("invalid rule pattern: %w", err)
		}
	}
	if r.ActionDuration < 0 {
		return fmt.Errorf("action duration must be positive")
	}
	if r.StrikeThreshold < 0 {
		return fmt.Errorf("strike threshold must be at least 1")
	}
	if r.StrikeThreshold == 0 {
		r.StrikeThreshold = 3
	}
	return nil
}

// Infraction records a moderation action taken against a user. Infractions are
// never deleted; expiry and resolution only flip Active to false.
type Infraction struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	UserID         string              `bson:"userId" json:"userId"`
	GuildID        string              `bson:"guildId" json:"guildId"`
	Type           Action              `bson:"type" json:"type"`
	Reason         string              `bson:"reason" json:"reason"`
	RuleID         *primitive.ObjectID `bson:"ruleId,omitempty" json:"ruleId,omitempty"`
	ModeratorID    string              `bson:"moderatorId,omitempty" json:"moderatorId,omitempty"`
	Duration       int                 `bson:"duration,omitempty" json:"duration,omitempty"` // minutes
	Active         bool                `bson:"active" json:"active"`
	ExpiresAt      *time.Time          `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`
	MessageContent string              `bson:"messageContent,omitempty" json:"messageContent,omitempty"`
	MessageID      string              `bson:"messageId,omitempty" json:"messageId,omitempty"`
	ChannelID      string              `bson:"channelId" json:"channelId"`
	CreatedAt      time.Time           `bson:"createdAt" json:"createdAt"`
}

// AutoModStats is a daily aggregate bucket keyed by (guild, rule, period).
// Counters are only ever touched with atomic server-side increments, so
// concurrent triggers within the same bucket never lose updates.
type AutoModStats struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	GuildID      string             `bson:"guildId" json:"guildId"`
	RuleID       primitive.ObjectID `bson:"ruleId" json:"ruleId"`
	PeriodStart  time.Time          `bson:"periodStart" json:"periodStart"`
	PeriodEnd    time.Time          `bson:"periodEnd" json:"periodEnd"`
	TriggerCount int                `bson:"triggerCount" json:"triggerCount"`
	SuccessCount int                `bson:"successCount" json:"successCount"`
	FailureCount int                `bson:"failureCount" json:"failureCount"`
	UniqueUsers  int                `bson:"uniqueUsers" json:"uniqueUsers"`
}

// DayBucket returns the UTC day boundaries containing t, used as the stats
// bucket key.
func DayBucket(t time.Time) (start, end time.Time) {
	start = t.UTC().Truncate(24 * time.Hour)
	return start, start.Add(24 * time.Hour)
}

// AppealStatus is the lifecycle state of an unban request.
type AppealStatus string

const (
	AppealPending  AppealStatus = "PENDING"
	AppealApproved AppealStatus = "APPROVED"
	AppealDenied   AppealStatus = "DENIED"
	AppealExpired  AppealStatus = "EXPIRED"
)

// UnbanRequest is a ban appeal submitted through the web companion. The
// RequestCode is the public handle shared with the banned user.
type UnbanRequest struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RequestCode       string             `bson:"requestCode" json:"requestCode"`
	UserID            string             `bson:"userId" json:"userId"`
	GuildID           string             `bson:"guildId" json:"guildId"`
	BanReason         string             `bson:"banReason" json:"banReason"`
	AppealMessage     string             `bson:"appealMessage" json:"appealMessage"`
	Evidence          string             `bson:"evidence,omitempty" json:"evidence,omitempty"`
	Status            AppealStatus       `bson:"status" json:"status"`
	ModeratorResponse string             `bson:"moderatorResponse,omitempty" json:"moderatorResponse,omitempty"`
	HandledBy         string             `bson:"handledBy,omitempty" json:"handledBy,omitempty"`
	HandledAt         *time.Time         `bson:"handledAt,omitempty" json:"handledAt,omitempty"`
	RequestIP         string             `bson:"requestIp" json:"-"`
	ContactEmail      string             `bson:"contactEmail" json:"-"`
	CreatedAt         time.Time          `bson:"createdAt" json:"createdAt"`
}
