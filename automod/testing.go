package automod

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/warden-bot/warden/store"
)

// RecordingModClient is a ModerationClient fake that records every call.
// Setting Err makes all calls fail with it.
type RecordingModClient struct {
	mu       sync.Mutex
	Err      error
	Deleted  []string
	Warned   []string
	TimedOut []string
	Kicked   []string
	Banned   []string
}

func (c *RecordingModClient) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Deleted = append(c.Deleted, messageID)
	return nil
}

func (c *RecordingModClient) SendWarning(ctx context.Context, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Warned = append(c.Warned, channelID)
	return nil
}

func (c *RecordingModClient) TimeoutMember(ctx context.Context, guildID, userID string, d time.Duration, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.TimedOut = append(c.TimedOut, userID)
	return nil
}

func (c *RecordingModClient) KickMember(ctx context.Context, guildID, userID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Kicked = append(c.Kicked, userID)
	return nil
}

func (c *RecordingModClient) BanMember(ctx context.Context, guildID, userID, reason string, deleteHistory time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.Banned = append(c.Banned, userID)
	return nil
}

// RecordingNotifier captures staff notices.
type RecordingNotifier struct {
	mu      sync.Mutex
	Err     error
	Notices []*ViolationNotice
}

func (n *RecordingNotifier) NotifyViolation(ctx context.Context, notice *ViolationNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Notices = append(n.Notices, notice)
	return nil
}

// ScheduledBan is one recorded BanScheduler call.
type ScheduledBan struct {
	UserID       string
	GuildID      string
	InfractionID primitive.ObjectID
	Duration     time.Duration
}

// RecordingScheduler captures Schedule calls.
type RecordingScheduler struct {
	mu        sync.Mutex
	Scheduled []ScheduledBan
}

func (s *RecordingScheduler) Schedule(userID, guildID string, infractionID primitive.ObjectID, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scheduled = append(s.Scheduled, ScheduledBan{UserID: userID, GuildID: guildID, InfractionID: infractionID, Duration: d})
}

// TestFixture bundles an engine wired entirely to in-memory fakes.
type TestFixture struct {
	Engine    *Engine
	Store     *store.MemStore
	Mod       *RecordingModClient
	Notifier  *RecordingNotifier
	Scheduler *RecordingScheduler
}

// NewTestFixture builds an engine against the in-memory store and recording
// fakes, with logging discarded.
func NewTestFixture() *TestFixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemStore()
	mod := &RecordingModClient{}
	notifier := &RecordingNotifier{}
	scheduler := &RecordingScheduler{}
	spam := NewSpamDetector(DefaultSpamWindow, DefaultSpamThreshold, DefaultMaxSpamWindows)

	eng := &Engine{
		Logger:    logger,
		Rules:     NewCachedRuleSource(mem, logger, 16, time.Minute),
		Evaluator: NewEvaluator(spam, logger),
		Recorder:  &Recorder{Infractions: mem, Logger: logger},
		Stats:     mem,
		Executor:  &Executor{Mod: mod, Logger: logger},
		Notifier:  notifier,
		Scheduler: scheduler,
	}
	return &TestFixture{Engine: eng, Store: mem, Mod: mod, Notifier: notifier, Scheduler: scheduler}
}
