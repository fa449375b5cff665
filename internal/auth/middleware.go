package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityKey = "identity"

// RequireTrainee rejects requests without a trainee identity.
func RequireTrainee(logger *zap.Logger) gin.HandlerFunc {
	return requireIdentity(logger, TraineeIdentity)
}

// RequireAdmin rejects requests without an admin identity, or whose admin
// lacks any of the given roles.
func RequireAdmin(logger *zap.Logger, roles ...string) gin.HandlerFunc {
	return requireIdentity(logger, func(header string) (*Identity, error) {
		id, err := AdminIdentity(header)
		if err != nil {
			return nil, err
		}
		for _, role := range roles {
			if !id.HasRole(role) {
				return nil, &missingRoleError{role: role}
			}
		}
		return id, nil
	})
}

type missingRoleError struct {
	role string
}

func (e *missingRoleError) Error() string {
	return "missing role " + e.role
}

func requireIdentity(logger *zap.Logger, resolve func(string) (*Identity, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolve(c.GetHeader("Authorization"))
		if err != nil {
			logger.Warn("Rejected request without a valid identity",
				zap.String("path", c.FullPath()),
				zap.Error(err))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by the middleware.
func IdentityFrom(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*Identity)
	return id, ok
}
