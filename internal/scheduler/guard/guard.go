// Package guard holds the time rules that gate invoice lifecycle moves.
package guard

import (
	"errors"
	"time"

	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

var (
	ErrSubscriptionNotBillable = errors.New("subscription_not_billable")
	ErrNotYetDue               = errors.New("invoice_not_yet_due")
	ErrGraceElapsed            = errors.New("invoice_grace_period_elapsed")
	ErrInGracePeriod           = errors.New("invoice_in_grace_period")
)

func EnsureSubscriptionBillable(status subscriptiondomain.SubscriptionStatus) error {
	for _, s := range subscriptiondomain.BillableStatuses {
		if s == status {
			return nil
		}
	}
	return ErrSubscriptionNotBillable
}

// EnsureInGraceWindow passes while invoiceDate <= now < invoiceDate+grace.
// A zero grace period never passes; such invoices go straight to finalization.
func EnsureInGraceWindow(invoiceDate time.Time, grace time.Duration, now time.Time) error {
	if invoiceDate.After(now) {
		return ErrNotYetDue
	}
	if !invoiceDate.Add(grace).After(now) {
		return ErrGraceElapsed
	}
	return nil
}

// EnsureFinalizeReady passes once invoiceDate+grace <= now.
func EnsureFinalizeReady(invoiceDate time.Time, grace time.Duration, now time.Time) error {
	if invoiceDate.Add(grace).After(now) {
		return ErrInGracePeriod
	}
	return nil
}
