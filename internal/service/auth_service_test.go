package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Tungggggggggggggg/secondary-lms-system-sub007/internal/config"
)

func TestCheckAccessCode(t *testing.T) {
	s := NewAuthService(&config.Config{})

	hash, err := bcrypt.GenerateFromPassword([]byte("open-sesame"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.NoError(t, s.CheckAccessCode(string(hash), "open-sesame"))
	assert.ErrorIs(t, s.CheckAccessCode(string(hash), "wrong-code"), ErrInvalidAccessCode)
	assert.ErrorIs(t, s.CheckAccessCode("not-a-bcrypt-hash", "open-sesame"), ErrInvalidAccessCode)
}

func TestValidateToken(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret"}
	s := NewAuthService(cfg)

	mint := func(claims *Claims, secret string) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return token
	}

	t.Run("valid student token", func(t *testing.T) {
		token := mint(&Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			TokenType: TokenTypeStudent,
			UserID:    42,
		}, cfg.JWTSecret)

		claims, err := s.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, TokenTypeStudent, claims.TokenType)
		assert.Equal(t, 42, claims.UserID)
	})

	t.Run("expired token", func(t *testing.T) {
		token := mint(&Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			},
			TokenType: TokenTypeStaff,
			UserID:    1,
		}, cfg.JWTSecret)

		_, err := s.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("wrong secret", func(t *testing.T) {
		token := mint(&Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
			TokenType: TokenTypeStaff,
			UserID:    1,
		}, "some-other-secret")

		_, err := s.ValidateToken(token)
		assert.Error(t, err)
	})
}
