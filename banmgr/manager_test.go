package banmgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/warden-bot/warden/store"
)

type recordingUnbanClient struct {
	mu     sync.Mutex
	err    error
	unbans []string
	notify chan string
}

func newRecordingUnbanClient() *recordingUnbanClient {
	return &recordingUnbanClient{notify: make(chan string, 32)}
}

func (c *recordingUnbanClient) UnbanMember(ctx context.Context, guildID, userID string) error {
	c.mu.Lock()
	err := c.err
	if err == nil {
		c.unbans = append(c.unbans, userID)
	}
	c.mu.Unlock()
	c.notify <- userID
	return err
}

func (c *recordingUnbanClient) lifted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.unbans))
	copy(out, c.unbans)
	return out
}

func (c *recordingUnbanClient) waitFor(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.notify:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for unban %d of %d", i+1, n)
		}
	}
}

func newTestManager(t *testing.T) (*Manager, *store.MemStore, *recordingUnbanClient) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemStore()
	client := newRecordingUnbanClient()
	m := NewManager(logger, mem, client)
	t.Cleanup(m.Close)
	return m, mem, client
}

func seedTimedBan(t *testing.T, mem *store.MemStore, userID string, expiresIn time.Duration) primitive.ObjectID {
	t.Helper()
	expires := time.Now().Add(expiresIn)
	inf := &store.Infraction{
		UserID:    userID,
		GuildID:   "g1",
		Type:      store.ActionBan,
		Reason:    "test ban",
		Active:    true,
		ExpiresAt: &expires,
	}
	require.NoError(t, mem.CreateInfraction(context.TODO(), inf))
	return inf.ID
}

func TestScheduleFiresAscending(t *testing.T) {
	assert := assert.New(t)
	m, mem, client := newTestManager(t)

	id1 := seedTimedBan(t, mem, "u1", time.Hour)
	id2 := seedTimedBan(t, mem, "u2", time.Hour)
	id3 := seedTimedBan(t, mem, "u3", time.Hour)

	// scheduled out of order, fired in expiry order
	m.Schedule("u2", "g1", id2, 30*time.Millisecond)
	m.Schedule("u3", "g1", id3, 60*time.Millisecond)
	m.Schedule("u1", "g1", id1, 5*time.Millisecond)

	client.waitFor(t, 3)
	assert.Equal([]string{"u1", "u2", "u3"}, client.lifted())
	assert.Equal(0, m.Pending())

	// every processed ban is deactivated
	assert.Eventually(func() bool {
		for _, id := range []primitive.ObjectID{id1, id2, id3} {
			inf, ok := mem.Infraction(id)
			if !ok || inf.Active {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func TestCancelBeforeExpiry(t *testing.T) {
	assert := assert.New(t)
	m, mem, client := newTestManager(t)

	id := seedTimedBan(t, mem, "u1", time.Hour)
	m.Schedule("u1", "g1", id, 40*time.Millisecond)
	assert.True(m.Cancel("u1", "g1"))
	assert.False(m.Cancel("u1", "g1"))

	time.Sleep(120 * time.Millisecond)
	assert.Empty(client.lifted())
	assert.Equal(0, m.Pending())
}

func TestScheduleReplacesDuplicate(t *testing.T) {
	assert := assert.New(t)
	m, mem, client := newTestManager(t)

	id := seedTimedBan(t, mem, "u1", time.Hour)
	m.Schedule("u1", "g1", id, time.Hour)
	m.Schedule("u1", "g1", id, 10*time.Millisecond)
	assert.Equal(1, m.Pending())

	client.waitFor(t, 1)
	assert.Equal([]string{"u1"}, client.lifted())
}

func TestUnknownBanStillDeactivates(t *testing.T) {
	assert := assert.New(t)
	m, mem, client := newTestManager(t)
	client.err = ErrUnknownBan

	id := seedTimedBan(t, mem, "u1", time.Hour)
	m.Schedule("u1", "g1", id, 5*time.Millisecond)

	client.waitFor(t, 1)

	// manually-lifted ban: the infraction is still closed out
	assert.Eventually(func() bool {
		inf, ok := mem.Infraction(id)
		return ok && !inf.Active
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAPIErrorDropsWithoutDeactivating(t *testing.T) {
	assert := assert.New(t)
	m, mem, client := newTestManager(t)
	client.err = errors.New("missing permissions")

	id := seedTimedBan(t, mem, "u1", time.Hour)
	m.Schedule("u1", "g1", id, 5*time.Millisecond)

	client.waitFor(t, 1)
	time.Sleep(20 * time.Millisecond)

	// not re-enqueued, infraction left active for the next startup pass
	assert.Equal(0, m.Pending())
	inf, ok := mem.Infraction(id)
	require.True(t, ok)
	assert.True(inf.Active)
}

func TestLoadExistingRebuildsQueue(t *testing.T) {
	assert := assert.New(t)
	m, mem, client := newTestManager(t)

	seedTimedBan(t, mem, "u1", -time.Minute) // already expired
	seedTimedBan(t, mem, "u2", 20*time.Millisecond)
	seedTimedBan(t, mem, "u3", time.Hour)

	// active but untimed bans are not queued
	require.NoError(t, mem.CreateInfraction(context.TODO(), &store.Infraction{
		UserID: "u4", GuildID: "g1", Type: store.ActionBan, Active: true,
	}))

	require.NoError(t, m.LoadExisting(context.TODO()))

	// the expired and the near-expiry bans fire; the distant one waits
	client.waitFor(t, 2)
	assert.Equal([]string{"u1", "u2"}, client.lifted())
	assert.Equal(1, m.Pending())
}

func TestCloseStopsFiring(t *testing.T) {
	assert := assert.New(t)
	m, mem, client := newTestManager(t)

	id := seedTimedBan(t, mem, "u1", time.Hour)
	m.Schedule("u1", "g1", id, 30*time.Millisecond)
	m.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Empty(client.lifted())
}
