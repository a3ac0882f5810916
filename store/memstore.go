package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemStore is an in-memory implementation of the repository interfaces, used
// in tests and for local development without a database. Unlike the real
// store, everything lives under one mutex; the increment paths are still
// atomic from the caller's perspective, which is what the stats invariant
// needs.
type MemStore struct {
	mu          sync.Mutex
	rules       []Rule
	infractions []Infraction
	stats       map[statsKey]*AutoModStats
	appeals     []UnbanRequest
}

type statsKey struct {
	guildID     string
	ruleID      primitive.ObjectID
	periodStart time.Time
}

var _ RuleStore = (*MemStore)(nil)
var _ InfractionStore = (*MemStore)(nil)
var _ StatsStore = (*MemStore)(nil)
var _ AppealStore = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{stats: make(map[statsKey]*AutoModStats)}
}

func (m *MemStore) ActiveRules(ctx context.Context, guildID string) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Rule
	for _, r := range m.rules {
		if r.GuildID == guildID && r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) CreateRule(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.rules {
		if existing.GuildID == r.GuildID && existing.Name == r.Name {
			return ErrDuplicate
		}
	}
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	r.UpdatedAt = r.CreatedAt
	m.rules = append(m.rules, *r)
	return nil
}

func (m *MemStore) UpdateRule(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.rules {
		if existing.GuildID == r.GuildID && existing.Name == r.Name {
			r.ID = existing.ID
			r.CreatedAt = existing.CreatedAt
			r.UpdatedAt = time.Now().UTC()
			m.rules[i] = *r
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemStore) DeleteRule(ctx context.Context, guildID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.rules {
		if existing.GuildID == guildID && existing.Name == name {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemStore) CreateInfraction(ctx context.Context, inf *Infraction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inf.ID.IsZero() {
		inf.ID = primitive.NewObjectID()
	}
	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = time.Now().UTC()
	}
	m.infractions = append(m.infractions, *inf)
	return nil
}

func (m *MemStore) ActiveTimedBans(ctx context.Context) ([]Infraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Infraction
	for _, inf := range m.infractions {
		if inf.Type == ActionBan && inf.Active && inf.ExpiresAt != nil {
			out = append(out, inf)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (m *MemStore) ActiveInfractions(ctx context.Context, userID, guildID string) ([]Infraction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Infraction
	for _, inf := range m.infractions {
		if inf.UserID == userID && inf.GuildID == guildID && inf.Active {
			out = append(out, inf)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) DeactivateInfraction(ctx context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.infractions {
		if m.infractions[i].ID == id {
			m.infractions[i].Active = false
		}
	}
	return nil
}

func (m *MemStore) DeactivateUserBans(ctx context.Context, userID, guildID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i := range m.infractions {
		inf := &m.infractions[i]
		if inf.UserID == userID && inf.GuildID == guildID && inf.Type == ActionBan && inf.Active {
			inf.Active = false
			n++
		}
	}
	return n, nil
}

// Infraction returns a copy of the stored infraction by id. Test helper.
func (m *MemStore) Infraction(id primitive.ObjectID) (Infraction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inf := range m.infractions {
		if inf.ID == id {
			return inf, true
		}
	}
	return Infraction{}, false
}

// Infractions returns a copy of all stored infractions. Test helper.
func (m *MemStore) Infractions() []Infraction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Infraction, len(m.infractions))
	copy(out, m.infractions)
	return out
}

func (m *MemStore) IncrementRuleTrigger(ctx context.Context, guildID string, ruleID primitive.ObjectID, at time.Time, success bool) error {
	start, end := DayBucket(at)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := statsKey{guildID: guildID, ruleID: ruleID, periodStart: start}
	bucket, ok := m.stats[key]
	if !ok {
		bucket = &AutoModStats{
			ID:          primitive.NewObjectID(),
			GuildID:     guildID,
			RuleID:      ruleID,
			PeriodStart: start,
			PeriodEnd:   end,
		}
		m.stats[key] = bucket
	}
	bucket.TriggerCount++
	bucket.UniqueUsers++
	if success {
		bucket.SuccessCount++
	} else {
		bucket.FailureCount++
	}
	return nil
}

func (m *MemStore) StatsForPeriod(ctx context.Context, guildID string, start, end time.Time) ([]AutoModStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AutoModStats
	for _, bucket := range m.stats {
		if bucket.GuildID == guildID && !bucket.PeriodStart.Before(start) && !bucket.PeriodEnd.After(end) {
			out = append(out, *bucket)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TriggerCount > out[j].TriggerCount })
	return out, nil
}

func (m *MemStore) CreateAppeal(ctx context.Context, req *UnbanRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appeals {
		if a.UserID == req.UserID && a.Status == AppealPending {
			return ErrDuplicate
		}
	}
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	if req.RequestCode == "" {
		req.RequestCode = NewRequestCode()
	}
	req.Status = AppealPending
	req.CreatedAt = time.Now().UTC()
	m.appeals = append(m.appeals, *req)
	return nil
}

func (m *MemStore) AppealByCode(ctx context.Context, code string) (*UnbanRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appeals {
		if a.RequestCode == code {
			out := a
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) PendingAppeal(ctx context.Context, userID string) (*UnbanRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appeals {
		if a.UserID == userID && a.Status == AppealPending {
			out := a
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) ListAppeals(ctx context.Context, status AppealStatus) ([]UnbanRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UnbanRequest
	for _, a := range m.appeals {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) ResolveAppeal(ctx context.Context, code string, status AppealStatus, response, moderatorID string) (*UnbanRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for i := range m.appeals {
		a := &m.appeals[i]
		if a.RequestCode == code && a.Status == AppealPending {
			a.Status = status
			a.ModeratorResponse = response
			a.HandledBy = moderatorID
			a.HandledAt = &now
			out := *a
			return &out, nil
		}
	}
	return nil, ErrNotFound
}
