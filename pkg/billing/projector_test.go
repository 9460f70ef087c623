package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

func TestProject(t *testing.T) {
	t.Parallel()

	end := baseTime.Add(30 * 24 * time.Hour)

	t.Run("nil snapshot is inactive", func(t *testing.T) {
		t.Parallel()
		f := billing.Project(nil)
		assert.Equal(t, billing.StatusInactive, f.Status)
		assert.Empty(t, f.RemoteSubscriptionID)
		assert.Nil(t, f.CurrentPeriodEnd)
		assert.False(t, f.CancelAtPeriodEnd)
		assert.Equal(t, billing.TierBasic, billing.TierFor(f.Status))
	})

	t.Run("live subscription is active", func(t *testing.T) {
		t.Parallel()
		f := billing.Project(liveSnapshot("sub_1", end))
		assert.Equal(t, billing.StatusActive, f.Status)
		assert.Equal(t, "sub_1", f.RemoteSubscriptionID)
		assert.Equal(t, "cus_1", f.RemoteCustomerID)
		require.NotNil(t, f.CurrentPeriodEnd)
		assert.True(t, end.Equal(*f.CurrentPeriodEnd))
		assert.False(t, f.CancelAtPeriodEnd)
		assert.Equal(t, billing.TierPro, billing.TierFor(f.Status))
	})

	t.Run("cancel at period end is canceling", func(t *testing.T) {
		t.Parallel()
		snap := liveSnapshot("sub_1", end)
		snap.CancelAtPeriodEnd = true
		f := billing.Project(snap)
		assert.Equal(t, billing.StatusCanceling, f.Status)
		assert.True(t, f.CancelAtPeriodEnd)
		assert.Equal(t, billing.TierPro, billing.TierFor(f.Status))
	})

	t.Run("zero period end stays unset", func(t *testing.T) {
		t.Parallel()
		f := billing.Project(liveSnapshot("sub_1", time.Time{}))
		assert.Nil(t, f.CurrentPeriodEnd)
	})

	t.Run("pure", func(t *testing.T) {
		t.Parallel()
		snap := liveSnapshot("sub_1", end)
		assert.Equal(t, billing.Project(snap), billing.Project(snap))
	})
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	assert.True(t, billing.CanTransition(billing.StatusNone, billing.StatusPending))
	assert.True(t, billing.CanTransition(billing.StatusPending, billing.StatusActive))
	assert.True(t, billing.CanTransition(billing.StatusCanceling, billing.StatusActive))
	assert.True(t, billing.CanTransition(billing.StatusInactive, billing.StatusPending))
	assert.False(t, billing.CanTransition(billing.StatusActive, billing.StatusPending))
	assert.False(t, billing.CanTransition(billing.StatusCanceling, billing.StatusPending))
	assert.False(t, billing.CanTransition(billing.StatusActive, billing.StatusNone))
}

func TestRecordValidate(t *testing.T) {
	t.Parallel()

	end := baseTime
	valid := billing.Record{
		UserID:               "u",
		Status:               billing.StatusActive,
		Tier:                 billing.TierPro,
		RemoteSubscriptionID: "sub",
		CurrentPeriodEnd:     &end,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(r *billing.Record)
	}{
		{"tier mismatch", func(r *billing.Record) { r.Tier = billing.TierBasic }},
		{"entitled without subscription", func(r *billing.Record) { r.RemoteSubscriptionID = "" }},
		{"inactive with subscription", func(r *billing.Record) {
			r.Status = billing.StatusInactive
			r.Tier = billing.TierBasic
		}},
		{"cancel flag while active", func(r *billing.Record) { r.CancelAtPeriodEnd = true }},
		{"unknown status", func(r *billing.Record) { r.Status = "paused" }},
		{"pending session while active", func(r *billing.Record) { r.PendingCheckoutSessionID = "cs_1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := valid
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), billing.ErrInvariantViolation)
		})
	}
}
