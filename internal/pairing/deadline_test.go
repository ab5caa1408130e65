package pairing

import (
	"testing"
	"time"

	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestComputeSplitDeadlineAt(t *testing.T) {
	policy := DefaultPolicy()
	starts := now.Add(10 * 24 * time.Hour)

	assert.Equal(t, starts.Add(-48*time.Hour), policy.ComputeSplitDeadlineAt(now, &starts, 0))
	assert.Equal(t, starts.Add(-24*time.Hour), policy.ComputeSplitDeadlineAt(now, &starts, 24))
	assert.Equal(t, starts.Add(-168*time.Hour), policy.ComputeSplitDeadlineAt(now, &starts, 500))
	assert.Equal(t, now.Add(72*time.Hour), policy.ComputeSplitDeadlineAt(now, nil, 24))
}

func TestComputePartnerLinkExpiresAt(t *testing.T) {
	policy := DefaultPolicy()
	minutes := func(m int) *int { return &m }

	assert.Equal(t, now.Add(24*time.Hour), policy.ComputePartnerLinkExpiresAt(now, nil))
	assert.Equal(t, now.Add(60*time.Minute), policy.ComputePartnerLinkExpiresAt(now, minutes(60)))
	assert.Equal(t, now.Add(15*time.Minute), policy.ComputePartnerLinkExpiresAt(now, minutes(1)))
	assert.Equal(t, now.Add(10080*time.Minute), policy.ComputePartnerLinkExpiresAt(now, minutes(99999)))
}

func TestCanSwapPartner(t *testing.T) {
	until := now.Add(time.Hour)
	assert.True(t, CanSwapPartner(model.LifecycleConfirmedBothPaid, now, &until))
	assert.False(t, CanSwapPartner(model.LifecycleConfirmedBothPaid, until, &until))
	assert.False(t, CanSwapPartner(model.LifecycleConfirmedBothPaid, now, nil))
	assert.False(t, CanSwapPartner(model.LifecycleCancelledIncomplete, now, &until))
}

func TestEarliestOf(t *testing.T) {
	limit := now.Add(time.Minute)
	assert.Equal(t, limit, EarliestOf(now.Add(time.Hour), &limit))
	assert.Equal(t, now, EarliestOf(now, &limit))
	assert.Equal(t, now, EarliestOf(now, nil))
}
