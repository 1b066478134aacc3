package utils

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestGenerateJWT(t *testing.T) {
	userID := primitive.NewObjectID()
	secret := "test-secret"

	tokenString, err := GenerateJWT(userID, "Ada", secret, 7*24*time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, tokenString)

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		_, ok := token.Method.(*jwt.SigningMethodHMAC)
		assert.True(t, ok, "unexpected signing method")
		return []byte(secret), nil
	})
	assert.NoError(t, err)
	assert.True(t, token.Valid)

	claims, ok := token.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	assert.Equal(t, userID.Hex(), claims["userId"])
	assert.Equal(t, "Ada", claims["name"])

	exp, ok := claims["exp"].(float64)
	assert.True(t, ok)
	assert.Greater(t, int64(exp), time.Now().Add(6*24*time.Hour).Unix())
}

func TestGetUserIDFromToken(t *testing.T) {
	userID := primitive.NewObjectID()
	token, err := GenerateJWT(userID, "Ada", "s3cret", time.Hour)
	require.NoError(t, err)

	got, err := GetUserIDFromToken(token, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	_, err = GetUserIDFromToken(token, "other")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = GetUserIDFromToken("", "s3cret")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestGetUserIDFromTokenRejectsExpiredAndUnbounded(t *testing.T) {
	userID := primitive.NewObjectID()

	expired, err := GenerateJWT(userID, "Ada", "s3cret", -time.Minute)
	require.NoError(t, err)
	_, err = GetUserIDFromToken(expired, "s3cret")
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"userId": userID.Hex()})
	raw, err := noExp.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = GetUserIDFromToken(raw, "s3cret")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"userId": userID.Hex(), "exp": time.Now().Add(time.Hour).Unix()})
	raw, err = none.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = GetUserIDFromToken(raw, "s3cret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSubClaimFallback(t *testing.T) {
	userID := primitive.NewObjectID()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID.Hex(), "exp": time.Now().Add(time.Hour).Unix()})
	raw, err := tok.SignedString([]byte("s3cret"))
	require.NoError(t, err)

	got, err := NewTokenVerifier("s3cret").Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}

func TestUserIDContext(t *testing.T) {
	_, err := GetUserIDFromContext(context.Background())
	assert.Error(t, err)

	id := primitive.NewObjectID()
	got, err := GetUserIDFromContext(WithUserID(context.Background(), id))
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
