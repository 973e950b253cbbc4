package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
)

type planVersionResponse struct {
	*plandomain.PlanVersion
	Components []plandomain.PriceComponent `json:"components"`
}

func (s *Server) GetPlanVersion(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	tenantID := tenantFrom(c)
	version, err := s.plans.FindVersion(ctx, tenantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	components, err := s.plans.ListComponents(ctx, tenantID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": planVersionResponse{PlanVersion: version, Components: components}})
}
