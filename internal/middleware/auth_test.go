package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"debtapproval/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func sign(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestParseToken(t *testing.T) {
	userID := uuid.New()
	exp := time.Now().Add(time.Hour).Unix()

	id, err := ParseToken(sign(t, testSecret, jwt.MapClaims{"sub": userID.String(), "role": "cashier", "exp": exp}), testSecret)
	require.NoError(t, err)
	assert.Equal(t, userID, id.UserID)
	assert.Equal(t, model.RoleCashier, id.Role)

	tests := []struct {
		name   string
		token  string
		secret []byte
	}{
		{"wrong secret", sign(t, []byte("other"), jwt.MapClaims{"sub": userID.String(), "role": "cashier"}), testSecret},
		{"unknown role", sign(t, testSecret, jwt.MapClaims{"sub": userID.String(), "role": "nhân viên"}), testSecret},
		{"bad subject", sign(t, testSecret, jwt.MapClaims{"sub": "42", "role": "admin"}), testSecret},
		{"expired", sign(t, testSecret, jwt.MapClaims{"sub": userID.String(), "role": "admin", "exp": time.Now().Add(-time.Hour).Unix()}), testSecret},
		{"garbage", "not.a.token", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			assert.Error(t, err)
		})
	}
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append([]gin.HandlerFunc{Authenticate(testSecret)}, mw...)
	handlers = append(handlers, func(c *gin.Context) {
		id, _ := CurrentIdentity(c)
		c.String(http.StatusOK, string(id.Role))
	})
	r.GET("/x", handlers...)
	return r
}

func do(r *gin.Engine, header string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticateAndCapabilities(t *testing.T) {
	admin := sign(t, testSecret, jwt.MapClaims{"sub": uuid.NewString(), "role": "admin"})
	cashier := sign(t, testSecret, jwt.MapClaims{"sub": uuid.NewString(), "role": "cashier"})

	r := newRouter(RequireCapability(model.CapManageBlocks))
	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "Token "+admin).Code)
	assert.Equal(t, http.StatusForbidden, do(r, "Bearer "+cashier).Code)

	w := do(r, "Bearer "+admin)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", w.Body.String())

	r = newRouter(RequireRole(model.RoleCashier, model.RoleOperator))
	assert.Equal(t, http.StatusOK, do(r, "Bearer "+cashier).Code)
	assert.Equal(t, http.StatusForbidden, do(r, "Bearer "+admin).Code)
}
