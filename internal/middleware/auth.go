package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"debtapproval/internal/model"
	"debtapproval/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ctxUserID   = "userID"
	ctxUserRole = "userRole"
)

// Identity is the authenticated caller taken from a verified token.
type Identity struct {
	UserID uuid.UUID
	Role   model.Role
}

// ParseToken verifies an HMAC-signed token and extracts the caller. The subject
// claim carries the user id and the role claim one of the closed roles.
func ParseToken(tokenString string, secret []byte) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	})
	if err != nil {
		return Identity{}, err
	}
	if !token.Valid {
		return Identity{}, errors.New("token is not valid")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid token claims")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return Identity{}, err
	}
	userID, err := uuid.Parse(sub)
	if err != nil {
		return Identity{}, fmt.Errorf("subject is not a user id: %w", err)
	}
	rawRole, _ := claims["role"].(string)
	role, err := model.ParseRole(rawRole)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UserID: userID, Role: role}, nil
}

var (
	errMissingAuth   = errors.New("authorization is missing")
	errBadAuthFormat = errors.New("invalid authorization format, expected 'Bearer <token>'")
)

// tokenFrom reads the access_token cookie, falling back to the Authorization header.
func tokenFrom(c *gin.Context) (string, error) {
	if tokenString, err := c.Cookie("access_token"); err == nil && tokenString != "" {
		return tokenString, nil
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", errMissingAuth
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errBadAuthFormat
	}
	return parts[1], nil
}

// Authenticate validates the caller's token and stores the identity on the context.
func Authenticate(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := tokenFrom(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, err.Error()))
			return
		}
		id, err := ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token: "+err.Error()))
			return
		}
		c.Set(ctxUserID, id.UserID)
		c.Set(ctxUserRole, id.Role)
		c.Next()
	}
}

// CurrentIdentity returns the identity stored by Authenticate.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	userID, ok := c.Get(ctxUserID)
	if !ok {
		return Identity{}, false
	}
	role, _ := c.Get(ctxUserRole)
	id, ok := userID.(uuid.UUID)
	if !ok {
		return Identity{}, false
	}
	r, _ := role.(model.Role)
	return Identity{UserID: id, Role: r}, true
}

// RequireRole must run after Authenticate.
func RequireRole(allowedRoles ...model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}
		for _, role := range allowedRoles {
			if id.Role == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
	}
}

// RequireCapability must run after Authenticate. The check is against the token's
// role; services re-check against the stored user.
func RequireCapability(required ...model.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}
		for _, capability := range required {
			if !id.Role.Can(capability) {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: missing permission '"+string(capability)+"'"))
				return
			}
		}
		c.Next()
	}
}
