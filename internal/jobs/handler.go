package jobs

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trainee-forms/forms-backend/pkg/lock"
)

// Trigger runs a job on demand.
type Trigger interface {
	RunNow(ctx context.Context, name string) (RefreshResult, error)
}

type Handler struct {
	trigger Trigger
	logger  *zap.Logger
}

func NewHandler(trigger Trigger, logger *zap.Logger) *Handler {
	return &Handler{trigger: trigger, logger: logger}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	jobs := rg.Group("/job")
	{
		jobs.POST("/:job/publish-refresh", h.PublishRefresh)
	}
}

// PublishRefresh runs the named refresh job and responds with the number of
// forms published.
func (h *Handler) PublishRefresh(c *gin.Context) {
	name := c.Param("job")

	result, err := h.trigger.RunNow(c.Request.Context(), name)
	switch {
	case errors.Is(err, ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, lock.ErrNotAcquired):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.logger.Error("Manual refresh failed", zap.String("job", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed", "published": result.Published})
	default:
		c.JSON(http.StatusOK, result.Published)
	}
}
