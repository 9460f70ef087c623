package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

const recordColumns = `user_id, status, tier, remote_customer_id, remote_subscription_id,
	current_period_end, cancel_at_period_end, pending_checkout_session_id, pending_since,
	last_applied_event_timestamp, last_updated, version`

// RecordStore persists billing records in the subscription_records table.
type RecordStore struct {
	db DB
}

// NewRecordStore returns a billing.RecordStore over db.
func NewRecordStore(db DB) *RecordStore {
	return &RecordStore{db: db}
}

func (s *RecordStore) Get(ctx context.Context, userID string) (*billing.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM subscription_records WHERE user_id = $1`, userID)
	rec, err := scanRecord(row)
	if IsNotFoundError(err) {
		return nil, billing.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}
	return rec, nil
}

// CompareAndSwap inserts the first version of a record and updates later
// versions only while the stored version still matches expectedVersion.
func (s *RecordStore) CompareAndSwap(ctx context.Context, expectedVersion int64, next billing.Record) error {
	args := recordArgs(next)

	if expectedVersion == 0 {
		tag, err := s.db.Exec(ctx, `INSERT INTO subscription_records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (user_id) DO NOTHING`, args...)
		if err != nil {
			return fmt.Errorf("insert record: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return billing.ErrVersionConflict
		}
		return nil
	}

	tag, err := s.db.Exec(ctx, `UPDATE subscription_records SET
			status = $2,
			tier = $3,
			remote_customer_id = $4,
			remote_subscription_id = $5,
			current_period_end = $6,
			cancel_at_period_end = $7,
			pending_checkout_session_id = $8,
			pending_since = $9,
			last_applied_event_timestamp = $10,
			last_updated = $11,
			version = $12
		WHERE user_id = $1 AND version = $13`, append(args, expectedVersion)...)
	if err != nil {
		return fmt.Errorf("update record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return billing.ErrVersionConflict
	}
	return nil
}

func recordArgs(r billing.Record) []any {
	return []any{
		r.UserID,
		string(r.Status),
		string(r.Tier),
		r.RemoteCustomerID,
		r.RemoteSubscriptionID,
		r.CurrentPeriodEnd,
		r.CancelAtPeriodEnd,
		r.PendingCheckoutSessionID,
		r.PendingSince,
		r.LastAppliedEventTimestamp.UTC(),
		r.LastUpdated.UTC(),
		r.Version,
	}
}

func scanRecord(row pgx.Row) (*billing.Record, error) {
	var (
		rec            billing.Record
		status, tier   string
		periodEnd      *time.Time
		pendingSince   *time.Time
		watermark, upd time.Time
	)
	err := row.Scan(
		&rec.UserID,
		&status,
		&tier,
		&rec.RemoteCustomerID,
		&rec.RemoteSubscriptionID,
		&periodEnd,
		&rec.CancelAtPeriodEnd,
		&rec.PendingCheckoutSessionID,
		&pendingSince,
		&watermark,
		&upd,
		&rec.Version,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = billing.Status(status)
	rec.Tier = billing.Tier(tier)
	rec.CurrentPeriodEnd = utcPtr(periodEnd)
	rec.PendingSince = utcPtr(pendingSince)
	rec.LastAppliedEventTimestamp = watermark.UTC()
	rec.LastUpdated = upd.UTC()
	return &rec, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ billing.RecordStore = (*RecordStore)(nil)

// Healthcheck confirms the database answers and the records table exists.
func (s *RecordStore) Healthcheck(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `SELECT 1 FROM subscription_records LIMIT 1`); err != nil {
		return errors.Join(ErrHealthcheckFailed, err)
	}
	return nil
}
