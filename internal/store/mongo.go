package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/block-reminders/internal/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	reminderCollection    = "notification_queue"
	deliveryLogCollection = "email_logs"
)

// MongoStore keeps reminders and delivery logs in MongoDB. Collection and
// field names match the documents the scheduler web app already writes.
type MongoStore struct {
	client    *mongo.Client
	reminders *mongo.Collection
	logs      *mongo.Collection
}

type reminderDoc struct {
	ID               bson.ObjectID `bson:"_id,omitempty"`
	BlockID          string        `bson:"studyBlockId"`
	UserID           string        `bson:"userId"`
	RecipientAddress string        `bson:"userEmail"`
	RecipientName    string        `bson:"userName"`
	Title            string        `bson:"studyBlockTitle"`
	Description      *string       `bson:"studyBlockDescription,omitempty"`
	DueAt            time.Time     `bson:"scheduledTime"`
	BlockStartTime   time.Time     `bson:"studyStartTime"`
	BlockEndTime     time.Time     `bson:"studyEndTime"`
	Status           string        `bson:"status"`
	AttemptCount     int           `bson:"attempts"`
	LastAttemptAt    *time.Time    `bson:"lastAttempt,omitempty"`
	LastError        *string       `bson:"error,omitempty"`
	CreatedAt        time.Time     `bson:"createdAt"`
	UpdatedAt        time.Time     `bson:"updatedAt"`
}

type deliveryLogDoc struct {
	ID               bson.ObjectID `bson:"_id,omitempty"`
	ReminderID       string        `bson:"notificationId"`
	UserID           string        `bson:"userId"`
	RecipientAddress string        `bson:"userEmail"`
	SubjectLine      string        `bson:"subject"`
	Outcome          string        `bson:"status"`
	ErrorDetail      *string       `bson:"error,omitempty"`
	OccurredAt       time.Time     `bson:"sentAt"`
}

// NewMongo connects to MongoDB, verifies the connection and makes sure the
// indexes the queue relies on exist.
func NewMongo(ctx context.Context, url, database string, connectTimeout time.Duration) (*MongoStore, error) {
	client, err := mongo.Connect(
		options.Client().
			ApplyURI(url).
			SetConnectTimeout(connectTimeout).
			SetRetryWrites(true).
			SetRetryReads(true),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:    client,
		reminders: db.Collection(reminderCollection),
		logs:      db.Collection(deliveryLogCollection),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return s, nil
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks the server is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.reminders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "studyBlockId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduledTime", Value: 1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("creating reminder indexes: %w", err)
	}

	_, err = s.logs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "userId", Value: 1}, {Key: "sentAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("creating delivery log indexes: %w", err)
	}
	return nil
}

// InsertReminder upserts on the block ID so a repeated enqueue for the same
// block leaves the first reminder untouched.
func (s *MongoStore) InsertReminder(ctx context.Context, r domain.Reminder) (*domain.Reminder, bool, error) {
	return insertRetryingVanished(func() (*domain.Reminder, bool, error) {
		return s.insertReminder(ctx, r)
	})
}

func (s *MongoStore) insertReminder(ctx context.Context, r domain.Reminder) (*domain.Reminder, bool, error) {
	onInsert := bson.M{
		"userId":          r.UserID,
		"userEmail":       r.RecipientAddress,
		"userName":        r.RecipientName,
		"studyBlockTitle": r.Title,
		"scheduledTime":   r.DueAt,
		"studyStartTime":  r.BlockStartTime,
		"studyEndTime":    r.BlockEndTime,
		"status":          string(r.Status),
		"attempts":        r.AttemptCount,
		"createdAt":       r.CreatedAt,
		"updatedAt":       r.UpdatedAt,
	}
	if r.Description != nil {
		onInsert["studyBlockDescription"] = *r.Description
	}

	res, err := s.reminders.UpdateOne(ctx,
		bson.M{"studyBlockId": r.BlockID},
		bson.M{"$setOnInsert": onInsert},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return nil, false, fmt.Errorf("inserting reminder: %w", err)
	}

	var doc reminderDoc
	if err := s.reminders.FindOne(ctx, bson.M{"studyBlockId": r.BlockID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, false, fmt.Errorf("querying reminder: %w", errReminderVanished)
		}
		return nil, false, fmt.Errorf("querying reminder: %w", err)
	}

	out := doc.toDomain()
	return &out, res.UpsertedCount == 1, nil
}

func (s *MongoStore) GetReminder(ctx context.Context, id string) (*domain.Reminder, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	var doc reminderDoc
	if err := s.reminders.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying reminder: %w", err)
	}

	out := doc.toDomain()
	return &out, nil
}

func (s *MongoStore) DeleteRemindersByBlock(ctx context.Context, blockID string) (int64, error) {
	res, err := s.reminders.DeleteMany(ctx, bson.M{"studyBlockId": blockID})
	if err != nil {
		return 0, fmt.Errorf("deleting reminders: %w", err)
	}
	return res.DeletedCount, nil
}

// FindEligibleReminders returns due pending and failed reminders, oldest first.
func (s *MongoStore) FindEligibleReminders(ctx context.Context, now time.Time, maxAttempts, limit int) ([]domain.Reminder, error) {
	filter := bson.M{
		"status":        bson.M{"$in": statusStrings(domain.RetryableStatuses)},
		"scheduledTime": bson.M{"$lte": now},
		"attempts":      bson.M{"$lt": maxAttempts},
	}

	opts := options.Find().SetSort(bson.D{{Key: "scheduledTime", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	return s.findReminders(ctx, filter, opts)
}

// ApplyTransition performs a compare-and-set update on _id, status and attempts.
func (s *MongoStore) ApplyTransition(ctx context.Context, t domain.Transition) (bool, error) {
	oid, err := bson.ObjectIDFromHex(t.ReminderID)
	if err != nil {
		return false, nil
	}

	set := bson.M{
		"status":    string(t.Status),
		"attempts":  t.AttemptCount,
		"updatedAt": t.UpdatedAt,
	}
	if t.LastAttemptAt != nil {
		set["lastAttempt"] = *t.LastAttemptAt
	}
	if t.LastError != nil {
		set["error"] = *t.LastError
	}

	res, err := s.reminders.UpdateOne(ctx,
		bson.M{"_id": oid, "status": string(t.ExpectedStatus), "attempts": t.ExpectedAttempts},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("updating reminder: %w", err)
	}
	return res.MatchedCount == 1, nil
}

func (s *MongoStore) CountRemindersByStatus(ctx context.Context, userID string) (domain.StatusCounts, error) {
	var counts domain.StatusCounts

	cursor, err := s.reminders.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"userId": userID}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return counts, fmt.Errorf("counting reminders: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int    `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return counts, fmt.Errorf("decoding reminder count: %w", err)
		}
		counts.Add(domain.Status(row.Status), row.Count)
	}
	if err := cursor.Err(); err != nil {
		return counts, fmt.Errorf("counting reminders: %w", err)
	}

	return counts, nil
}

func (s *MongoStore) ListExhaustedReminders(ctx context.Context, userID string, limit int) ([]domain.Reminder, error) {
	filter := bson.M{"status": string(domain.StatusExhausted)}
	if userID != "" {
		filter["userId"] = userID
	}

	opts := options.Find().SetSort(bson.D{{Key: "lastAttempt", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	return s.findReminders(ctx, filter, opts)
}

func (s *MongoStore) InsertDeliveryLog(ctx context.Context, e *domain.DeliveryLogEntry) error {
	doc := deliveryLogDoc{
		ReminderID:       e.ReminderID,
		UserID:           e.UserID,
		RecipientAddress: e.RecipientAddress,
		SubjectLine:      e.SubjectLine,
		Outcome:          string(e.Outcome),
		ErrorDetail:      e.ErrorDetail,
		OccurredAt:       e.OccurredAt,
	}

	res, err := s.logs.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("inserting delivery log: %w", err)
	}
	if oid, ok := res.InsertedID.(bson.ObjectID); ok {
		e.ID = oid.Hex()
	}
	return nil
}

func (s *MongoStore) ListDeliveryLogs(ctx context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sentAt", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.logs.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("querying delivery logs: %w", err)
	}

	var docs []deliveryLogDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding delivery logs: %w", err)
	}

	entries := make([]domain.DeliveryLogEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, domain.DeliveryLogEntry{
			ID:               d.ID.Hex(),
			ReminderID:       d.ReminderID,
			UserID:           d.UserID,
			RecipientAddress: d.RecipientAddress,
			SubjectLine:      d.SubjectLine,
			Outcome:          domain.Outcome(d.Outcome),
			ErrorDetail:      d.ErrorDetail,
			OccurredAt:       d.OccurredAt,
		})
	}
	return entries, nil
}

func (s *MongoStore) GetDeliveryMetrics(ctx context.Context) (*domain.DeliveryMetrics, error) {
	var m domain.DeliveryMetrics

	counts := []struct {
		coll   *mongo.Collection
		filter bson.M
		dst    *int
	}{
		{s.logs, bson.M{}, &m.TotalDeliveries},
		{s.logs, bson.M{"status": string(domain.OutcomeSent)}, &m.SuccessCount},
		{s.logs, bson.M{"status": string(domain.OutcomeFailed)}, &m.FailedCount},
		{s.reminders, bson.M{"status": bson.M{"$in": statusStrings(domain.RetryableStatuses)}}, &m.PendingReminders},
		{s.reminders, bson.M{"status": string(domain.StatusExhausted)}, &m.ExhaustedReminders},
	}

	for _, c := range counts {
		n, err := c.coll.CountDocuments(ctx, c.filter)
		if err != nil {
			return nil, fmt.Errorf("querying delivery metrics: %w", err)
		}
		*c.dst = int(n)
	}

	m.ComputeSuccessRate()
	return &m, nil
}

func (s *MongoStore) findReminders(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]domain.Reminder, error) {
	cursor, err := s.reminders.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying reminders: %w", err)
	}

	var docs []reminderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding reminders: %w", err)
	}

	reminders := make([]domain.Reminder, 0, len(docs))
	for _, d := range docs {
		reminders = append(reminders, d.toDomain())
	}
	return reminders, nil
}

func (d reminderDoc) toDomain() domain.Reminder {
	return domain.Reminder{
		ID:               d.ID.Hex(),
		BlockID:          d.BlockID,
		UserID:           d.UserID,
		RecipientAddress: d.RecipientAddress,
		RecipientName:    d.RecipientName,
		Title:            d.Title,
		Description:      d.Description,
		BlockStartTime:   d.BlockStartTime,
		BlockEndTime:     d.BlockEndTime,
		DueAt:            d.DueAt,
		Status:           domain.Status(d.Status),
		AttemptCount:     d.AttemptCount,
		LastAttemptAt:    d.LastAttemptAt,
		LastError:        d.LastError,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}
