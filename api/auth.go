package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	RoleUser  = "user"
	RoleStaff = "staff"
	RoleAdmin = "admin"

	ctxUserID = "user_id"
	ctxRole   = "role"
)

// Claims are issued by the external auth service. Subject is the user id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Caller struct {
	UserID string
	Role   string
}

func (c Caller) IsStaff() bool {
	return c.Role == RoleStaff || c.Role == RoleAdmin
}

// JWTAuth validates an HS256 bearer token and stores the caller on the context.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			unauthorized(c, "missing bearer token")
			return
		}
		claims := &Claims{}
		tok, err := jwt.ParseWithClaims(strings.TrimPrefix(h, "Bearer "), claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(secret), nil
		})
		if err != nil || !tok.Valid || claims.Subject == "" {
			unauthorized(c, "invalid token")
			return
		}

		role := claims.Role
		if role == "" {
			role = RoleUser
		}
		c.Set(ctxUserID, claims.Subject)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[callerFrom(c).Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{Error: errorDetail{Code: "forbidden", Message: "insufficient role"}})
			return
		}
		c.Next()
	}
}

func callerFrom(c *gin.Context) Caller {
	return Caller{UserID: c.GetString(ctxUserID), Role: c.GetString(ctxRole)}
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: errorDetail{Code: "unauthorized", Message: message}})
}
