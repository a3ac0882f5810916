package automod

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/warden-bot/warden/store"
)

// DefaultMentionLimit is the combined user+role mention count above which a
// MENTIONS rule triggers.
const DefaultMentionLimit = 5

// MessageEvent is the platform-neutral view of an inbound chat message, as
// much of it as the rule pipeline needs. The gateway adapter translates wire
// events into this shape.
type MessageEvent struct {
	MessageID       string
	GuildID         string
	ChannelID       string
	UserID          string
	UserTag         string
	Bot             bool
	Content         string
	MentionUsers    int
	MentionRoles    int
	AttachmentNames []string
	MemberRoles     []string
	// CanManageMessages marks holders of a message-management capability,
	// who are exempt from every rule.
	CanManageMessages bool
}

// CompiledRule pairs a stored rule with its pre-compiled pattern. Rules whose
// patterns fail to compile are dropped at compile time, never during
// evaluation.
type CompiledRule struct {
	store.Rule
	re *regexp.Regexp
}

// CompileRules prepares stored rules for evaluation, preserving order. A rule
// with an uncompilable pattern is skipped with a warning; the write path
// should have rejected it already.
func CompileRules(logger *slog.Logger, rules []store.Rule) []CompiledRule {
	out := make([]CompiledRule, 0, len(rules))
	for _, r := range rules {
		cr := CompiledRule{Rule: r}
		if r.Pattern != "" {
			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				logger.Warn("skipping rule with invalid pattern", "rule", r.Name, "guild", r.GuildID, "err", err)
				continue
			}
			cr.re = re
		}
		out = append(out, cr)
	}
	return out
}

// Match is a triggered rule together with a human-readable reason.
type Match struct {
	Rule   CompiledRule
	Reason string
}

// Evaluator runs a message against a guild's active rules in order and stops
// at the first rule that triggers, regardless of the severity of later rules
// that would also match.
type Evaluator struct {
	Spam         *SpamDetector
	MentionLimit int
	Logger       *slog.Logger
}

func NewEvaluator(spam *SpamDetector, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		Spam:         spam,
		MentionLimit: DefaultMentionLimit,
		Logger:       logger,
	}
}

// ShouldProcess filters out messages the pipeline never evaluates: bot
// authors, direct messages, and empty bodies.
func ShouldProcess(evt *MessageEvent) bool {
	return !evt.Bot && evt.GuildID != "" && len(evt.Content) > 0
}

// Evaluate returns the first triggered rule and reason, or nil when no rule
// triggers. Rules are checked in the caller-supplied (persisted) order.
func (e *Evaluator) Evaluate(evt *MessageEvent, rules []CompiledRule, now time.Time) *Match {
	for i := range rules {
		rule := &rules[i]
		if reason, ok := e.checkRule(evt, rule, now); ok {
			return &Match{Rule: *rule, Reason: reason}
		}
	}
	return nil
}

func (e *Evaluator) checkRule(evt *MessageEvent, rule *CompiledRule, now time.Time) (string, bool) {
	if e.isExempt(evt, rule) {
		return "", false
	}
	if len(rule.Channels) > 0 && !containsString(rule.Channels, evt.ChannelID) {
		return "", false
	}

	content := strings.ToLower(evt.Content)

	switch rule.Type {
	case store.RuleSpam:
		res := e.Spam.Observe(evt.UserID, evt.Content, now)
		if res.Triggered {
			return fmt.Sprintf("Message spam detected (%d duplicate messages in %ds)",
				res.DuplicateCount+1, int(e.Spam.Window()/time.Second)), true
		}

	case store.RuleToxicity:
		var matched []string
		for _, kw := range rule.Keywords {
			if strings.Contains(content, strings.ToLower(kw)) {
				matched = append(matched, "`"+kw+"`")
			}
		}
		if len(matched) > 0 {
			return "Prohibited keywords detected: " + strings.Join(matched, ", "), true
		}

	case store.RuleLinks:
		if rule.re != nil && rule.re.MatchString(content) {
			matches := rule.re.FindAllString(content, -1)
			return "Unauthorized link(s) detected: " + strings.Join(matches, ", "), true
		}

	case store.RuleMentions:
		limit := e.MentionLimit
		if limit <= 0 {
			limit = DefaultMentionLimit
		}
		count := evt.MentionUsers + evt.MentionRoles
		if count > limit {
			return fmt.Sprintf("Mass mentions detected (%d mentions)", count), true
		}

	case store.RuleAttachments:
		if rule.re != nil && len(evt.AttachmentNames) > 0 {
			var violating []string
			for _, name := range evt.AttachmentNames {
				if rule.re.MatchString(name) {
					violating = append(violating, name)
				}
			}
			if len(violating) > 0 {
				return "Prohibited file type(s) detected: " + strings.Join(violating, ", "), true
			}
		}

	case store.RuleCustom:
		if rule.re != nil && rule.re.MatchString(content) {
			return "Custom pattern matched: " + rule.Pattern, true
		}
	}

	return "", false
}

// isExempt short-circuits rule checks for members holding an exempt role or a
// message-management capability.
func (e *Evaluator) isExempt(evt *MessageEvent, rule *CompiledRule) bool {
	if evt.CanManageMessages {
		return true
	}
	for _, role := range evt.MemberRoles {
		if containsString(rule.ExemptRoles, role) {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
