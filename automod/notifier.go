package automod

import (
	"context"

	"github.com/warden-bot/warden/store"
)

// ViolationNotice is the audit payload sent to the staff channel when a rule
// fires.
type ViolationNotice struct {
	UserID         string
	UserTag        string
	ChannelID      string
	RuleName       string
	Action         store.Action
	Reason         string
	MessageContent string
}

// StaffNotifier delivers violation notices to the staff audit channel.
// Delivery is fire-and-forget: a failed notification is logged by the engine
// and never blocks or undoes the punishment.
type StaffNotifier interface {
	NotifyViolation(ctx context.Context, notice *ViolationNotice) error
}

// NoopNotifier drops notices. Used when no staff channel is configured.
type NoopNotifier struct{}

func (NoopNotifier) NotifyViolation(ctx context.Context, notice *ViolationNotice) error { return nil }
