package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-admission-api/internal/models"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

type tokenStub map[string]*models.JWTClaims

func (s tokenStub) ValidateToken(token string) (*models.JWTClaims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
}

func newProtectedRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	tokens := tokenStub{
		"admin-token":   {UserID: "u-admin", Role: models.RoleAdmin},
		"student-token": {UserID: "u-student", Role: models.RoleStudent},
	}
	r := gin.New()
	r.Use(JWT(tokens))
	r.GET("/open", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/admin", RBAC(models.RoleAdmin, models.RoleSuperAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func request(r http.Handler, path, auth string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestJWTAndRBAC(t *testing.T) {
	r := newProtectedRouter()

	assert.Equal(t, http.StatusUnauthorized, request(r, "/open", ""))
	assert.Equal(t, http.StatusUnauthorized, request(r, "/open", "Token admin-token"))
	assert.Equal(t, http.StatusUnauthorized, request(r, "/open", "Bearer nope"))
	assert.Equal(t, http.StatusNoContent, request(r, "/open", "Bearer student-token"))
	assert.Equal(t, http.StatusNoContent, request(r, "/open", "bearer admin-token"))

	assert.Equal(t, http.StatusForbidden, request(r, "/admin", "Bearer student-token"))
	assert.Equal(t, http.StatusNoContent, request(r, "/admin", "Bearer admin-token"))
}

func TestRBACWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", RBAC(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	assert.Equal(t, http.StatusUnauthorized, request(r, "/admin", ""))
}

func TestBearerToken(t *testing.T) {
	cases := map[string]bool{
		"":              false,
		"Bearer":        false,
		"Bearer   ":     false,
		"Basic abc":     false,
		"bearer abc":    true,
		"Bearer  abc  ": true,
	}
	for header, ok := range cases {
		token, err := bearerToken(header)
		if ok {
			assert.NoError(t, err, header)
			assert.Equal(t, "abc", token)
			continue
		}
		assert.Error(t, err, header)
	}
}
