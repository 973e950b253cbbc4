package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	obscontext "github.com/smallbiznis/billingcore/internal/observability/context"
)

// routeResources maps the :id or :name parameter of an API route prefix to
// the span attribute that identifies the resource.
var routeResources = map[string]string{
	"/api/invoices/":      "invoice_id",
	"/api/subscriptions/": "subscription_id",
	"/api/plan-versions/": "plan_version_id",
	"/api/jobs/":          "job",
}

// GinMiddleware opens a server span per API request. Health and metrics
// scrapes are not traced.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer("billingcore/http")
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" || route == "/health" || route == "/metrics" {
			c.Next()
			return
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		attrs := []attribute.KeyValue{
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
		}
		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			attrs = append(attrs, attribute.String("request_id", requestID))
		}
		if tenantID := obscontext.TenantIDFromContext(ctx); tenantID != "" {
			attrs = append(attrs, attribute.String("tenant_id", tenantID))
		}
		attrs = append(attrs, resourceAttribute(c, route)...)
		span.SetAttributes(SafeAttributes(attrs...)...)

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status < http.StatusInternalServerError {
			return
		}
		if lastErr := c.Errors.Last(); lastErr != nil {
			span.RecordError(SafeError(lastErr.Err))
		}
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func resourceAttribute(c *gin.Context, route string) []attribute.KeyValue {
	for prefix, key := range routeResources {
		if !strings.HasPrefix(route, prefix) {
			continue
		}
		value := c.Param("id")
		if value == "" {
			value = c.Param("name")
		}
		if value == "" {
			return nil
		}
		return []attribute.KeyValue{attribute.String(key, value)}
	}
	return nil
}
