package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trainee-forms/forms-backend/internal/auth"
	"trainee-forms/forms-backend/internal/forms"
	"trainee-forms/forms-backend/internal/jobs"
)

// Router builds the HTTP API.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	formsHandler := forms.NewHandler(a.Forms, a.logger)
	jobsHandler := jobs.NewHandler(a.Scheduler, a.logger)

	api := router.Group("/api")
	{
		formsHandler.RegisterTraineeRoutes(api.Group("", auth.RequireTrainee(a.logger)))
		formsHandler.RegisterAdminRoutes(api.Group("/admin", auth.RequireAdmin(a.logger)))
		jobsHandler.RegisterRoutes(api)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})

	return router
}
