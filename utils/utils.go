package utils

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type contextKey string

// UserIDKey is the request context key holding the authenticated user id.
const UserIDKey contextKey = "userID"

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// GetUserIDFromContext returns the user id stored by the auth middleware.
func GetUserIDFromContext(ctx context.Context) (primitive.ObjectID, error) {
	userID, ok := ctx.Value(UserIDKey).(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("user ID not found in context")
	}
	return userID, nil
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID primitive.ObjectID) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserIDFromToken verifies an HS256 token and returns its user id.
// Tokens must carry an expiry.
func GetUserIDFromToken(tokenString string, jwtSecret string) (primitive.ObjectID, error) {
	if tokenString == "" {
		return primitive.NilObjectID, ErrMissingToken
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return primitive.NilObjectID, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return primitive.NilObjectID, ErrInvalidToken
	}

	userIDStr, ok := claims["userId"].(string)
	if !ok {
		if userIDStr, ok = claims["sub"].(string); !ok {
			return primitive.NilObjectID, errors.Join(ErrInvalidToken, errors.New("user ID not found in token claims"))
		}
	}

	userID, err := primitive.ObjectIDFromHex(userIDStr)
	if err != nil {
		return primitive.NilObjectID, errors.Join(ErrInvalidToken, errors.New("invalid user ID format in token"))
	}
	return userID, nil
}

// GenerateJWT issues a token for userID valid for ttl.
func GenerateJWT(userID primitive.ObjectID, name string, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"userId": userID.Hex(),
		"name":   name,
		"exp":    now.Add(ttl).Unix(),
		"iat":    now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", errors.New("failed to sign token")
	}
	return tokenString, nil
}

// TokenVerifier checks bearer credentials against a fixed secret.
type TokenVerifier struct {
	secret string
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

func (v *TokenVerifier) Verify(token string) (primitive.ObjectID, error) {
	return GetUserIDFromToken(token, v.secret)
}
