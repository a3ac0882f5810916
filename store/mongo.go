package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colRules       = "automod_rules"
	colInfractions = "infractions"
	colStats       = "automod_stats"
	colAppeals     = "unban_requests"
)

// Mongo implements all the repository interfaces against a single MongoDB
// database.
type Mongo struct {
	db *mongo.Database
}

var _ RuleStore = (*Mongo)(nil)
var _ InfractionStore = (*Mongo)(nil)
var _ StatsStore = (*Mongo)(nil)
var _ AppealStore = (*Mongo)(nil)

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}
	return client, nil
}

func NewMongo(client *mongo.Client, dbName string) *Mongo {
	return &Mongo{db: client.Database(dbName)}
}

// EnsureIndexes creates the indexes the query paths rely on. Safe to call on
// every startup.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.db.Collection(colRules).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "guildId", Value: 1}, {Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "type", Value: 1}, {Key: "enabled", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating rule indexes: %w", err)
	}
	_, err = m.db.Collection(colInfractions).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "guildId", Value: 1}, {Key: "active", Value: 1}}},
		{Keys: bson.D{{Key: "guildId", Value: 1}, {Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("creating infraction indexes: %w", err)
	}
	_, err = m.db.Collection(colStats).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "guildId", Value: 1}, {Key: "ruleId", Value: 1}, {Key: "periodStart", Value: 1}, {Key: "periodEnd", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("creating stats indexes: %w", err)
	}
	_, err = m.db.Collection(colAppeals).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "requestCode", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating appeal indexes: %w", err)
	}
	return nil
}

func (m *Mongo) ActiveRules(ctx context.Context, guildID string) ([]Rule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := m.db.Collection(colRules).Find(ctx, bson.M{"guildId": guildID, "enabled": true}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rules []Rule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func (m *Mongo) CreateRule(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	_, err := m.db.Collection(colRules).InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (m *Mongo) UpdateRule(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()
	res, err := m.db.Collection(colRules).UpdateOne(ctx,
		bson.M{"guildId": r.GuildID, "name": r.Name},
		bson.M{"$set": bson.M{
			"description":     r.Description,
			"enabled":         r.Enabled,
			"type":            r.Type,
			"pattern":         r.Pattern,
			"keywords":        r.Keywords,
			"action":          r.Action,
			"actionDuration":  r.ActionDuration,
			"strikeThreshold": r.StrikeThreshold,
			"exemptRoles":     r.ExemptRoles,
			"channels":        r.Channels,
			"updatedAt":       r.UpdatedAt,
		}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) DeleteRule(ctx context.Context, guildID, name string) error {
	res, err := m.db.Collection(colRules).DeleteOne(ctx, bson.M{"guildId": guildID, "name": name})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) CreateInfraction(ctx context.Context, inf *Infraction) error {
	if inf.ID.IsZero() {
		inf.ID = primitive.NewObjectID()
	}
	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = time.Now().UTC()
	}
	_, err := m.db.Collection(colInfractions).InsertOne(ctx, inf)
	return err
}

func (m *Mongo) ActiveTimedBans(ctx context.Context) ([]Infraction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "expiresAt", Value: 1}})
	cursor, err := m.db.Collection(colInfractions).Find(ctx, bson.M{
		"type":      ActionBan,
		"active":    true,
		"expiresAt": bson.M{"$ne": nil},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var bans []Infraction
	if err := cursor.All(ctx, &bans); err != nil {
		return nil, err
	}
	return bans, nil
}

func (m *Mongo) ActiveInfractions(ctx context.Context, userID, guildID string) ([]Infraction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := m.db.Collection(colInfractions).Find(ctx, bson.M{
		"userId":  userID,
		"guildId": guildID,
		"active":  true,
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var infs []Infraction
	if err := cursor.All(ctx, &infs); err != nil {
		return nil, err
	}
	return infs, nil
}

func (m *Mongo) DeactivateInfraction(ctx context.Context, id primitive.ObjectID) error {
	// a missing document is benign: the record may have been resolved manually
	_, err := m.db.Collection(colInfractions).UpdateByID(ctx, id, bson.M{"$set": bson.M{"active": false}})
	return err
}

func (m *Mongo) DeactivateUserBans(ctx context.Context, userID, guildID string) (int64, error) {
	res, err := m.db.Collection(colInfractions).UpdateMany(ctx, bson.M{
		"userId":  userID,
		"guildId": guildID,
		"type":    ActionBan,
		"active":  true,
	}, bson.M{"$set": bson.M{"active": false}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (m *Mongo) IncrementRuleTrigger(ctx context.Context, guildID string, ruleID primitive.ObjectID, at time.Time, success bool) error {
	start, end := DayBucket(at)
	inc := bson.M{"triggerCount": 1, "uniqueUsers": 1}
	if success {
		inc["successCount"] = 1
	} else {
		inc["failureCount"] = 1
	}
	opts := options.FindOneAndUpdate().SetUpsert(true)
	err := m.db.Collection(colStats).FindOneAndUpdate(ctx, bson.M{
		"guildId":     guildID,
		"ruleId":      ruleID,
		"periodStart": start,
		"periodEnd":   end,
	}, bson.M{"$inc": inc}, opts).Err()
	// ErrNoDocuments here means the upsert inserted a fresh bucket
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	return err
}

func (m *Mongo) StatsForPeriod(ctx context.Context, guildID string, start, end time.Time) ([]AutoModStats, error) {
	opts := options.Find().SetSort(bson.D{{Key: "triggerCount", Value: -1}})
	cursor, err := m.db.Collection(colStats).Find(ctx, bson.M{
		"guildId":     guildID,
		"periodStart": bson.M{"$gte": start},
		"periodEnd":   bson.M{"$lte": end},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var stats []AutoModStats
	if err := cursor.All(ctx, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func (m *Mongo) CreateAppeal(ctx context.Context, req *UnbanRequest) error {
	if _, err := m.PendingAppeal(ctx, req.UserID); err == nil {
		return ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	if req.RequestCode == "" {
		req.RequestCode = NewRequestCode()
	}
	req.Status = AppealPending
	req.CreatedAt = time.Now().UTC()
	_, err := m.db.Collection(colAppeals).InsertOne(ctx, req)
	return err
}

func (m *Mongo) AppealByCode(ctx context.Context, code string) (*UnbanRequest, error) {
	var req UnbanRequest
	err := m.db.Collection(colAppeals).FindOne(ctx, bson.M{"requestCode": code}).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (m *Mongo) PendingAppeal(ctx context.Context, userID string) (*UnbanRequest, error) {
	var req UnbanRequest
	err := m.db.Collection(colAppeals).FindOne(ctx, bson.M{"userId": userID, "status": AppealPending}).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (m *Mongo) ListAppeals(ctx context.Context, status AppealStatus) ([]UnbanRequest, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := m.db.Collection(colAppeals).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var reqs []UnbanRequest
	if err := cursor.All(ctx, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func (m *Mongo) ResolveAppeal(ctx context.Context, code string, status AppealStatus, response, moderatorID string) (*UnbanRequest, error) {
	now := time.Now().UTC()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var req UnbanRequest
	err := m.db.Collection(colAppeals).FindOneAndUpdate(ctx,
		bson.M{"requestCode": code, "status": AppealPending},
		bson.M{"$set": bson.M{
			"status":            status,
			"moderatorResponse": response,
			"handledBy":         moderatorID,
			"handledAt":         now,
		}}, opts).Decode(&req)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}
