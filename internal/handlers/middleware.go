package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-ops-portal/internal/auth"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/models"
)

const claimsKey = "claims"

// AuthMiddleware validates access tokens for protected routes and stores the
// claims on the gin context.
func (h *Handlers) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Success: false,
				Error:   "No token provided",
			})
			return
		}

		claims, err := h.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			h.logger.Debug("token rejected", logging.Fields{
				"error": err.Error(),
				"path":  c.Request.URL.Path,
			})
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Success: false,
				Error:   "Invalid token",
			})
			return
		}

		c.Set(claimsKey, claims)
		ctx := logging.SetUserID(c.Request.Context(), strconv.FormatInt(claims.UserID, 10))
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireRole allows the request through only when the authenticated user has
// one of roles. It must run after AuthMiddleware.
func (h *Handlers) RequireRole(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := currentClaims(c)
		if claims == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
				Success: false,
				Error:   "Not authenticated",
			})
			return
		}

		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}

		h.logger.Warn("access denied", logging.Fields{
			"user_id": claims.UserID,
			"role":    claims.Role,
			"path":    c.Request.URL.Path,
		})
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
			Success: false,
			Error:   "Insufficient permissions",
		})
	}
}

func currentClaims(c *gin.Context) *auth.JWTClaims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.JWTClaims)
	return claims
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}
