package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

func TestGraceWindow(t *testing.T) {
	invoiceDate := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	grace := 24 * time.Hour

	cases := []struct {
		name     string
		now      time.Time
		pending  error
		finalize error
	}{
		{"before invoice date", invoiceDate.Add(-time.Hour), ErrNotYetDue, ErrInGracePeriod},
		{"on invoice date", invoiceDate, nil, ErrInGracePeriod},
		{"inside grace", invoiceDate.Add(23 * time.Hour), nil, ErrInGracePeriod},
		{"grace boundary", invoiceDate.Add(grace), ErrGraceElapsed, nil},
		{"after grace", invoiceDate.Add(48 * time.Hour), ErrGraceElapsed, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.pending, EnsureInGraceWindow(invoiceDate, grace, tc.now))
			assert.Equal(t, tc.finalize, EnsureFinalizeReady(invoiceDate, grace, tc.now))
		})
	}

	assert.ErrorIs(t, EnsureInGraceWindow(invoiceDate, 0, invoiceDate), ErrGraceElapsed)
	assert.NoError(t, EnsureFinalizeReady(invoiceDate, 0, invoiceDate))
}

func TestEnsureSubscriptionBillable(t *testing.T) {
	assert.NoError(t, EnsureSubscriptionBillable(subscriptiondomain.SubscriptionStatusPending))
	assert.NoError(t, EnsureSubscriptionBillable(subscriptiondomain.SubscriptionStatusActive))
	assert.ErrorIs(t, EnsureSubscriptionBillable(subscriptiondomain.SubscriptionStatusEnded), ErrSubscriptionNotBillable)
}
