package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/billingcore/internal/clock"
	feedomain "github.com/smallbiznis/billingcore/internal/fee/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
)

type createSubscriptionRequest struct {
	CustomerID        string                   `json:"customer_id" binding:"required"`
	PlanVersionID     string                   `json:"plan_version_id" binding:"required"`
	BillingStartDate  string                   `json:"billing_start_date" binding:"required"`
	BillingDay        int16                    `json:"billing_day" binding:"omitempty,min=1,max=31"`
	BillingPeriod     string                   `json:"billing_period"`
	GracePeriodHours  int32                    `json:"grace_period_hours" binding:"min=0"`
	InvoicingProvider string                   `json:"invoicing_provider"`
	Components        []componentParamsRequest `json:"components" binding:"dive"`
}

type componentParamsRequest struct {
	PriceComponentID string               `json:"price_component_id" binding:"required"`
	Parameters       feedomain.Parameters `json:"parameters"`
}

type subscriptionEventRequest struct {
	EventType string         `json:"event_type" binding:"required"`
	MrrDelta  *int64         `json:"mrr_delta"`
	AppliesTo string         `json:"applies_to" binding:"required"`
	Details   map[string]any `json:"details"`
}

type subscriptionResponse struct {
	*subscriptiondomain.Subscription
	Components []subscriptiondomain.SubscriptionComponent `json:"components"`
}

// CreateSubscription subscribes a customer to a plan version. All of the
// version's components are bound in the same transaction as the insert.
func (s *Server) CreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	customerID, ok := optionalID(c, "customer_id", req.CustomerID)
	if !ok {
		return
	}
	versionID, ok := optionalID(c, "plan_version_id", req.PlanVersionID)
	if !ok {
		return
	}
	start, err := time.Parse(time.DateOnly, strings.TrimSpace(req.BillingStartDate))
	if err != nil {
		AbortWithError(c, newValidationError("billing_start_date", "invalid_billing_start_date", "billing_start_date must be YYYY-MM-DD"))
		return
	}
	period := feedomain.BillingPeriod(strings.ToUpper(strings.TrimSpace(req.BillingPeriod)))
	if period == "" {
		period = feedomain.BillingPeriodMonthly
	}
	if !period.Valid() || !period.Recurring() {
		AbortWithError(c, newValidationError("billing_period", "invalid_billing_period", "billing_period must be MONTHLY, QUARTERLY or ANNUAL"))
		return
	}

	params := make(map[snowflake.ID]*feedomain.Parameters, len(req.Components))
	for _, item := range req.Components {
		id, ok := optionalID(c, "price_component_id", item.PriceComponentID)
		if !ok {
			return
		}
		p := item.Parameters
		params[id] = &p
	}

	ctx := c.Request.Context()
	tenantID := tenantFrom(c)
	version, err := s.plans.FindVersion(ctx, tenantID, versionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	components, err := s.plans.ListComponents(ctx, tenantID, versionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	known := make(map[snowflake.ID]struct{}, len(components))
	for _, component := range components {
		known[component.ID] = struct{}{}
	}
	for id := range params {
		if _, ok := known[id]; !ok {
			AbortWithError(c, newValidationError("price_component_id", "unknown_price_component", fmt.Sprintf("price component %s is not part of the plan version", id)))
			return
		}
	}

	billingDay := req.BillingDay
	if billingDay == 0 {
		if version.PeriodStartDay != nil {
			billingDay = *version.PeriodStartDay
		} else {
			billingDay = int16(start.Day())
		}
	}
	provider := strings.ToLower(strings.TrimSpace(req.InvoicingProvider))
	if provider == "" {
		provider = "manual"
	}

	now := s.clock.Now()
	sub := &subscriptiondomain.Subscription{
		ID:                s.node.Generate(),
		TenantID:          tenantID,
		CustomerID:        customerID,
		PlanVersionID:     version.ID,
		Status:            subscriptiondomain.SubscriptionStatusPending,
		Currency:          version.Currency,
		BillingStartDate:  clock.Today(start),
		BillingDay:        billingDay,
		BillingPeriod:     period,
		NetTerms:          version.NetTerms,
		GracePeriodHours:  req.GracePeriodHours,
		InvoicingProvider: provider,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	var bound []subscriptiondomain.SubscriptionComponent
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		subs := s.subs.WithTx(tx)
		if err := subs.Insert(ctx, sub); err != nil {
			return err
		}
		for _, component := range components {
			item, err := subs.BindComponent(ctx, sub, component, params[component.ID])
			if err != nil {
				return err
			}
			bound = append(bound, *item)
		}
		return subs.InsertEvent(ctx, &subscriptiondomain.SubscriptionEvent{
			TenantID:       tenantID,
			SubscriptionID: sub.ID,
			EventType:      subscriptiondomain.EventTypeCreated,
			AppliesTo:      sub.BillingStartDate,
			Details:        datatypes.JSONMap{"plan_version_id": version.ID.String()},
		})
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("subscription.created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("plan_version_id", version.ID.String()),
		zap.Int("components", len(bound)),
	)
	c.JSON(http.StatusCreated, gin.H{"data": subscriptionResponse{Subscription: sub, Components: bound}})
}

func (s *Server) GetSubscription(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	tenantID := tenantFrom(c)
	sub, err := s.subs.FindByID(ctx, tenantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	components, err := s.subs.ListComponents(ctx, tenantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": subscriptionResponse{Subscription: sub, Components: components}})
}

// RecordSubscriptionEvent stores a lifecycle event. Its MRR delta lands in
// the movement log when the invoice for AppliesTo is inserted.
func (s *Server) RecordSubscriptionEvent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req subscriptionEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	eventType := subscriptiondomain.EventType(strings.ToUpper(strings.TrimSpace(req.EventType)))
	if !eventType.Valid() {
		AbortWithError(c, newValidationError("event_type", "invalid_event_type", "invalid event_type"))
		return
	}
	appliesTo, err := time.Parse(time.DateOnly, strings.TrimSpace(req.AppliesTo))
	if err != nil {
		AbortWithError(c, newValidationError("applies_to", "invalid_applies_to", "applies_to must be YYYY-MM-DD"))
		return
	}

	ctx := c.Request.Context()
	tenantID := tenantFrom(c)
	if _, err := s.subs.FindByID(ctx, tenantID, id); err != nil {
		AbortWithError(c, err)
		return
	}

	event := &subscriptiondomain.SubscriptionEvent{
		TenantID:       tenantID,
		SubscriptionID: id,
		EventType:      eventType,
		MrrDelta:       req.MrrDelta,
		AppliesTo:      appliesTo,
	}
	if len(req.Details) > 0 {
		event.Details = datatypes.JSONMap(req.Details)
	}
	if err := s.subs.InsertEvent(ctx, event); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": event})
}
