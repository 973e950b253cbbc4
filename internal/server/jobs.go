package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunJob runs one lifecycle worker immediately, whether or not its schedule
// is enabled.
func (s *Server) RunJob(c *gin.Context) {
	name := strings.ToLower(strings.TrimSpace(c.Param("name")))
	started := s.clock.Now()
	if err := s.scheduler.RunJob(c.Request.Context(), name); err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("scheduler.job.triggered", zap.String("job", name))
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"job":         name,
		"status":      "completed",
		"started_at":  started,
		"duration_ms": s.clock.Now().Sub(started).Milliseconds(),
	}})
}
