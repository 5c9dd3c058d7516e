package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing"

func TestGenerateAndParse(t *testing.T) {
	userID := int64(123)
	token, err := GenerateToken(userID, testSecret, 24)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.True(t, claims.ExpiresAt.After(time.Now()))
	assert.True(t, claims.IssuedAt.Before(time.Now().Add(time.Second)))
}

func TestGenerateToken_DifferentUsers(t *testing.T) {
	token1, err := GenerateToken(1, testSecret, 24)
	require.NoError(t, err)
	token2, err := GenerateToken(2, testSecret, 24)
	require.NoError(t, err)

	assert.NotEqual(t, token1, token2)
}

func TestParseToken_Invalid(t *testing.T) {
	wrongSecretToken, err := GenerateToken(123, testSecret, 24)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", wrongSecretToken, "wrong-secret"},
		{"garbage", "invalid.token.string", testSecret},
		{"empty", "", testSecret},
		{"not a jwt", "not-a-jwt-at-all", testSecret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseToken(tt.token, tt.secret)
			assert.ErrorIs(t, err, ErrInvalidToken)
			assert.Nil(t, claims)
		})
	}
}

func TestParseToken_Expired(t *testing.T) {
	claims := Claims{
		UserID: 123,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	result, err := ParseToken(tokenString, testSecret)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.Nil(t, result)
}

// 只接受 HMAC 签名，alg=none 之类的必须被拒绝
func TestParseToken_RejectsNonHMAC(t *testing.T) {
	claims := Claims{
		UserID: 123,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	tokenString, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	result, err := ParseToken(tokenString, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Nil(t, result)
}
