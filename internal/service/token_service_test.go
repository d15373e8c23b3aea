package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-admission-api/internal/models"
	appErrors "github.com/noah-isme/sma-admission-api/pkg/errors"
)

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestValidateToken(t *testing.T) {
	svc := NewTokenService("secret")
	valid := models.JWTClaims{
		UserID: "u1",
		Role:   models.RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	claims, err := svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("secret"), valid))
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleTeacher, claims.Role)

	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("other"), valid))
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS512, []byte("secret"), valid))
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("secret"), expired))
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	anonymous := valid
	anonymous.UserID = ""
	_, err = svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, []byte("secret"), anonymous))
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)

	_, err = svc.ValidateToken("garbage")
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}
