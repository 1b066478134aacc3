package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"realtime-canvas/backend/models"
	"realtime-canvas/backend/utils"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TokenVerifier is satisfied by *utils.TokenVerifier.
type TokenVerifier interface {
	Verify(token string) (primitive.ObjectID, error)
}

// JWTMiddleware verifies the bearer token and stores the user id in the
// request context.
func JWTMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			// Authorization: Bearer <token>
			parts := strings.Fields(authHeader)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeJSONError(w, "Invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			userID, err := verifier.Verify(parts[1])
			if err != nil {
				logrus.WithError(err).WithField("path", r.URL.Path).Debug("Invalid JWT token")
				writeJSONError(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(utils.WithUserID(r.Context(), userID)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(models.ErrorResponse{Message: message}); err != nil {
		logrus.WithError(err).Warn("Failed to write error response")
	}
}
