// Package banmgr runs the temporary-ban expiry scheduler: an in-memory queue
// of pending unbans ordered by expiry, driven by a single timer armed for the
// earliest one. The queue is rebuilt from active timed bans at startup, so a
// restart never strands a ban.
package banmgr

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/warden-bot/warden/store"
)

// ErrUnknownBan reports that the platform has no ban for the user. The gateway
// adapter maps the wire error to this sentinel so the scheduler can treat a
// manually-lifted ban as already done.
var ErrUnknownBan = errors.New("banmgr: ban not found")

// UnbanClient lifts a ban on the chat platform.
type UnbanClient interface {
	UnbanMember(ctx context.Context, guildID, userID string) error
}

const processTimeout = 30 * time.Second

type pendingUnban struct {
	userID       string
	guildID      string
	infractionID primitive.ObjectID
	expiresAt    time.Time
}

// Manager owns the unban queue. One timer is armed for the head entry;
// scheduling, cancelling, or firing re-arms it. Due entries are processed off
// the lock so a slow API call never blocks new schedules.
type Manager struct {
	logger      *slog.Logger
	infractions store.InfractionStore
	client      UnbanClient

	mu     sync.Mutex
	queue  []pendingUnban
	timer  *time.Timer
	closed bool
}

func NewManager(logger *slog.Logger, infractions store.InfractionStore, client UnbanClient) *Manager {
	return &Manager{
		logger:      logger,
		infractions: infractions,
		client:      client,
	}
}

// LoadExisting rebuilds the queue from active timed bans in the store.
// Already-expired bans are enqueued as-is; the timer fires for them
// immediately.
func (m *Manager) LoadExisting(ctx context.Context) error {
	bans, err := m.infractions.ActiveTimedBans(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inf := range bans {
		if inf.ExpiresAt == nil {
			continue
		}
		m.enqueueLocked(pendingUnban{
			userID:       inf.UserID,
			guildID:      inf.GuildID,
			infractionID: inf.ID,
			expiresAt:    *inf.ExpiresAt,
		})
	}
	m.rearmLocked()
	m.logger.Info("unban queue rebuilt", "pending", len(m.queue))
	return nil
}

// Schedule queues an unban to fire after d. A second schedule for the same
// (user, guild) replaces the first.
func (m *Manager) Schedule(userID, guildID string, infractionID primitive.ObjectID, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.enqueueLocked(pendingUnban{
		userID:       userID,
		guildID:      guildID,
		infractionID: infractionID,
		expiresAt:    time.Now().Add(d),
	})
	m.rearmLocked()
	m.logger.Info("unban scheduled", "user", userID, "guild", guildID, "in", d)
}

// Cancel removes a pending unban, reporting whether one existed. Used when an
// appeal approval unbans the user ahead of schedule.
func (m *Manager) Cancel(userID, guildID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.removeLocked(userID, guildID) {
		return false
	}
	m.rearmLocked()
	return true
}

// Pending returns the current queue depth.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close stops the timer. Entries still queued are dropped; they are rebuilt
// from the store on the next start.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) enqueueLocked(e pendingUnban) {
	m.removeLocked(e.userID, e.guildID)
	i := sort.Search(len(m.queue), func(i int) bool {
		return m.queue[i].expiresAt.After(e.expiresAt)
	})
	m.queue = append(m.queue, pendingUnban{})
	copy(m.queue[i+1:], m.queue[i:])
	m.queue[i] = e
	unbanQueueDepth.Set(float64(len(m.queue)))
}

func (m *Manager) removeLocked(userID, guildID string) bool {
	for i, e := range m.queue {
		if e.userID == userID && e.guildID == guildID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			unbanQueueDepth.Set(float64(len(m.queue)))
			return true
		}
	}
	return false
}

// rearmLocked stops any armed timer and arms one for the queue head. Callers
// hold the lock.
func (m *Manager) rearmLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.closed || len(m.queue) == 0 {
		return
	}
	d := time.Until(m.queue[0].expiresAt)
	if d < 0 {
		d = 0
	}
	m.timer = time.AfterFunc(d, m.fire)
}

// fire pops and processes every due entry, then re-arms for whatever remains.
// Processing happens outside the lock.
func (m *Manager) fire() {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		if len(m.queue) == 0 || m.queue[0].expiresAt.After(time.Now()) {
			m.rearmLocked()
			m.mu.Unlock()
			return
		}
		head := m.queue[0]
		m.queue = m.queue[1:]
		unbanQueueDepth.Set(float64(len(m.queue)))
		m.mu.Unlock()

		m.process(head)
	}
}

// process lifts one expired ban. A ban the platform no longer knows about
// counts as already lifted and the infraction is closed out anyway. Any other
// API failure is logged and the entry dropped; the infraction stays active so
// the next LoadExisting retries it.
func (m *Manager) process(e pendingUnban) {
	ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
	defer cancel()

	err := m.client.UnbanMember(ctx, e.guildID, e.userID)
	switch {
	case err == nil:
		m.logger.Info("temporary ban lifted", "user", e.userID, "guild", e.guildID)
		unbansProcessed.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrUnknownBan):
		m.logger.Info("ban already lifted", "user", e.userID, "guild", e.guildID)
		unbansProcessed.WithLabelValues("already_lifted").Inc()
	default:
		m.logger.Error("failed to lift ban", "user", e.userID, "guild", e.guildID, "err", err)
		unbansProcessed.WithLabelValues("error").Inc()
		return
	}

	if err := m.infractions.DeactivateInfraction(ctx, e.infractionID); err != nil {
		m.logger.Error("failed to deactivate ban infraction", "infraction", e.infractionID.Hex(), "err", err)
	}
}
