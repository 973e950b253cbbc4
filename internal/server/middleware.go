package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const (
	headerTenantID = "X-Tenant-ID"
	tenantKey      = "tenant_id"
)

// TenantRequired resolves the calling tenant from the X-Tenant-ID header.
func TenantRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerTenantID))
		id, err := snowflake.ParseString(raw)
		if raw == "" || err != nil || id == 0 {
			AbortWithError(c, ErrMissingTenant)
			return
		}
		c.Set(tenantKey, id)
		c.Next()
	}
}

func tenantFrom(c *gin.Context) snowflake.ID {
	if v, ok := c.Get(tenantKey); ok {
		if id, ok := v.(snowflake.ID); ok {
			return id
		}
	}
	return 0
}

func parseID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}
