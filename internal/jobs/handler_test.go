package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"trainee-forms/forms-backend/pkg/lock"
)

type MockTrigger struct {
	mock.Mock
}

func (m *MockTrigger) RunNow(ctx context.Context, name string) (RefreshResult, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(RefreshResult), args.Error(1)
}

func setupRouter(trigger Trigger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(trigger, zap.NewNop()).RegisterRoutes(router.Group("/api"))
	return router
}

func TestPublishRefreshEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		result RefreshResult
		err    error
		status int
		body   string
	}{
		{name: "published count", result: RefreshResult{Published: 7, Total: 8}, status: http.StatusOK, body: "7"},
		{name: "unknown job", err: ErrUnknownJob, status: http.StatusNotFound},
		{name: "locked", err: lock.ErrNotAcquired, status: http.StatusConflict},
		{name: "source failure", result: RefreshResult{Published: 2, Total: 2}, err: errors.New("db down"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger := new(MockTrigger)
			trigger.On("RunNow", mock.Anything, "formr-parta").Return(tt.result, tt.err)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/job/formr-parta/publish-refresh", nil)
			setupRouter(trigger).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.JSONEq(t, tt.body, w.Body.String())
			}
			trigger.AssertExpectations(t)
		})
	}
}

func TestPublishRefreshOnlyAcceptsPost(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/job/ltft/publish-refresh", nil)
	setupRouter(new(MockTrigger)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
