package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

// RecordsCollection is the default collection for subscription records.
const RecordsCollection = "subscription_records"

// RecordStore persists billing records, one document per user keyed by user id.
type RecordStore struct {
	coll *mongo.Collection
}

// NewRecordStore returns a billing.RecordStore over db.
func NewRecordStore(db *mongo.Database) *RecordStore {
	return &RecordStore{coll: db.Collection(RecordsCollection)}
}

type recordDocument struct {
	UserID                    string     `bson:"_id"`
	Status                    string     `bson:"status"`
	Tier                      string     `bson:"tier"`
	RemoteCustomerID          string     `bson:"remote_customer_id,omitempty"`
	RemoteSubscriptionID      string     `bson:"remote_subscription_id,omitempty"`
	CurrentPeriodEnd          *time.Time `bson:"current_period_end,omitempty"`
	CancelAtPeriodEnd         bool       `bson:"cancel_at_period_end"`
	PendingCheckoutSessionID  string     `bson:"pending_checkout_session_id,omitempty"`
	PendingSince              *time.Time `bson:"pending_since,omitempty"`
	LastAppliedEventTimestamp time.Time  `bson:"last_applied_event_timestamp"`
	LastUpdated               time.Time  `bson:"last_updated"`
	Version                   int64      `bson:"version"`
}

func (s *RecordStore) Get(ctx context.Context, userID string) (*billing.Record, error) {
	var doc recordDocument
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: userID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, billing.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	rec := fromRecordDocument(doc)
	return &rec, nil
}

// CompareAndSwap inserts the first version of a record and replaces later
// versions only while the stored version still matches expectedVersion.
func (s *RecordStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next billing.Record) error {
	doc := toRecordDocument(next)

	if expectedVersion == 0 {
		_, err := s.coll.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		return nil
	}

	res, err := s.coll.ReplaceOne(ctx, bson.D{
		{Key: "_id", Value: next.UserID},
		{Key: "version", Value: expectedVersion},
	}, doc)
	if err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	if res.MatchedCount == 0 {
		return billing.ErrVersionConflict
	}
	return nil
}

func toRecordDocument(r billing.Record) recordDocument {
	return recordDocument{
		UserID:                    r.UserID,
		Status:                    string(r.Status),
		Tier:                      string(r.Tier),
		RemoteCustomerID:          r.RemoteCustomerID,
		RemoteSubscriptionID:      r.RemoteSubscriptionID,
		CurrentPeriodEnd:          r.CurrentPeriodEnd,
		CancelAtPeriodEnd:         r.CancelAtPeriodEnd,
		PendingCheckoutSessionID:  r.PendingCheckoutSessionID,
		PendingSince:              r.PendingSince,
		LastAppliedEventTimestamp: r.LastAppliedEventTimestamp,
		LastUpdated:               r.LastUpdated,
		Version:                   r.Version,
	}
}

func fromRecordDocument(d recordDocument) billing.Record {
	return billing.Record{
		UserID:                    d.UserID,
		Status:                    billing.Status(d.Status),
		Tier:                      billing.Tier(d.Tier),
		RemoteCustomerID:          d.RemoteCustomerID,
		RemoteSubscriptionID:      d.RemoteSubscriptionID,
		CurrentPeriodEnd:          utcPtr(d.CurrentPeriodEnd),
		CancelAtPeriodEnd:         d.CancelAtPeriodEnd,
		PendingCheckoutSessionID:  d.PendingCheckoutSessionID,
		PendingSince:              utcPtr(d.PendingSince),
		LastAppliedEventTimestamp: d.LastAppliedEventTimestamp.UTC(),
		LastUpdated:               d.LastUpdated.UTC(),
		Version:                   d.Version,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Healthcheck pings the primary; record writes need it.
func (s *RecordStore) Healthcheck(ctx context.Context) error {
	if err := s.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	return nil
}
