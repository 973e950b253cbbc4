package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		event subscriptiondomain.EventType
		delta int64
		want  MovementType
		ok    bool
	}{
		{subscriptiondomain.EventTypeCreated, 5000, MovementNewBusiness, true},
		{subscriptiondomain.EventTypeActivated, 100, MovementNewBusiness, true},
		{subscriptiondomain.EventTypeSwitch, 200, MovementExpansion, true},
		{subscriptiondomain.EventTypeSwitch, -200, MovementContraction, true},
		{subscriptiondomain.EventTypeUpdated, -1, MovementContraction, true},
		{subscriptiondomain.EventTypeCancelled, -5000, MovementChurn, true},
		{subscriptiondomain.EventTypeReactivated, 5000, MovementReactivation, true},
		{subscriptiondomain.EventTypeUpdated, 0, "", false},
		{subscriptiondomain.EventType("PAUSED"), 10, "", false},
	}

	for _, tc := range cases {
		got, ok := Classify(tc.event, tc.delta)
		assert.Equal(t, tc.ok, ok, "%s %d", tc.event, tc.delta)
		assert.Equal(t, tc.want, got, "%s %d", tc.event, tc.delta)
	}
}
