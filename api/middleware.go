package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	derrors "github.com/vantagedata/datamarket/pkg/errors"
	"github.com/vantagedata/datamarket/pkg/models"
)

const (
	ctxCaller = "caller"
	ctxRole   = "role"
)

// authMiddleware validates the bearer token and stores the caller address
// and role on the request context.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			s.writeProblem(c, derrors.New(derrors.KindUnauthorized, "bearer token required"))
			c.Abort()
			return
		}
		claims, err := s.identities.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			s.writeProblem(c, err)
			c.Abort()
			return
		}
		c.Set(ctxCaller, claims.Address)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

// adminMiddleware requires the admin role claim. The ledger re-checks the
// administrator identity itself; this gate just keeps the route surface
// clean.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != models.RoleAdmin {
			s.writeProblem(c, derrors.New(derrors.KindNotAdmin, "administrator role required"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) caller(c *gin.Context) string {
	return c.GetString(ctxCaller)
}

// writeProblem renders err as an RFC 7807 response.
func (s *Server) writeProblem(c *gin.Context, err error) {
	problem := derrors.Problem(err, c.FullPath())
	if problem.Status >= http.StatusInternalServerError {
		s.logger.Error("handler error", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.Header("Content-Type", "application/problem+json")
	c.JSON(problem.Status, problem)
}
