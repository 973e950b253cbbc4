package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
)

type listInvoicesQuery struct {
	pagination.Pagination
	Status         string `form:"status"`
	SubscriptionID string `form:"subscription_id"`
	CustomerID     string `form:"customer_id"`
	Order          string `form:"order" binding:"omitempty,oneof=asc desc"`
}

type createInvoiceRequest struct {
	SubscriptionID string                   `json:"subscription_id" binding:"required"`
	InvoiceType    string                   `json:"invoice_type" binding:"required"`
	InvoiceDate    string                   `json:"invoice_date" binding:"required"`
	Currency       string                   `json:"currency"`
	LineItems      []invoicedomain.LineItem `json:"line_items" binding:"dive"`
}

type externalStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query listInvoicesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	if query.PageSize == 0 {
		query.PageSize = 10
	}
	if query.PageSize < 1 || query.PageSize > 250 {
		AbortWithError(c, newValidationError("page_size", "invalid_page_size", "page_size must be between 1 and 250"))
		return
	}

	filter := invoicedomain.ListFilter{
		Status:     invoicedomain.Status(strings.ToUpper(strings.TrimSpace(query.Status))),
		Descending: query.Order == "desc",
	}
	if filter.Status != "" && !filter.Status.Valid() {
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}
	var ok bool
	if filter.SubscriptionID, ok = optionalID(c, "subscription_id", query.SubscriptionID); !ok {
		return
	}
	if filter.CustomerID, ok = optionalID(c, "customer_id", query.CustomerID); !ok {
		return
	}

	page, err := s.invoices.List(c.Request.Context(), tenantFrom(c), filter, query.Pagination)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": page.Items, "page_info": page.PageInfo})
}

func (s *Server) GetInvoiceByID(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	item, err := s.invoices.FindByID(c.Request.Context(), tenantFrom(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

// CreateInvoice inserts an invoice by hand. The subscription supplies the
// customer, plan version, provider and payment terms.
func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}
	subscriptionID, ok := optionalID(c, "subscription_id", req.SubscriptionID)
	if !ok {
		return
	}
	invoiceDate, err := time.Parse("2006-01-02", strings.TrimSpace(req.InvoiceDate))
	if err != nil {
		AbortWithError(c, newValidationError("invoice_date", "invalid_invoice_date", "invoice_date must be YYYY-MM-DD"))
		return
	}

	ctx := c.Request.Context()
	tenantID := tenantFrom(c)
	sub, err := s.subs.FindByID(ctx, tenantID, subscriptionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	lines, err := invoicedomain.EncodeLines(req.LineItems)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = sub.Currency
	}
	inv, err := s.invoices.Insert(ctx, &invoicedomain.Invoice{
		TenantID:          tenantID,
		CustomerID:        sub.CustomerID,
		SubscriptionID:    sub.ID,
		PlanVersionID:     sub.PlanVersionID,
		InvoiceType:       invoicedomain.InvoiceType(strings.ToUpper(strings.TrimSpace(req.InvoiceType))),
		Currency:          currency,
		InvoiceDate:       invoiceDate,
		LineItems:         lines,
		InvoicingProvider: sub.InvoicingProvider,
		DaysUntilDue:      sub.NetTerms,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("invoice.created",
		zap.String("tenant_id", tenantID.String()),
		zap.String("invoice_id", inv.ID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.String("invoice_type", string(inv.InvoiceType)),
	)
	c.JSON(http.StatusCreated, gin.H{"data": inv})
}

func (s *Server) UpdateExternalStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req externalStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	ctx := c.Request.Context()
	tenantID := tenantFrom(c)
	status := invoicedomain.ExternalStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if err := s.invoices.UpdateExternalStatus(ctx, tenantID, id, status, s.clock.Now()); err != nil {
		AbortWithError(c, err)
		return
	}

	item, err := s.invoices.FindByID(ctx, tenantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func optionalID(c *gin.Context, field, raw string) (snowflake.ID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError(field, "invalid_"+field, "invalid id"))
		return 0, false
	}
	return id, true
}
