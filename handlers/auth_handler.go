package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"realtime-canvas/backend/database"
	"realtime-canvas/backend/models"
	"realtime-canvas/backend/utils"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 6
	requestTimeout    = 5 * time.Second
)

// UserStore is satisfied by *database.UserStore.
type UserStore interface {
	FindUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByGoogleID(ctx context.Context, googleID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	LinkGoogle(ctx context.Context, id primitive.ObjectID, googleID, avatar string) error
}

// sendJSONError writes {"message": ...} with statusCode.
func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(models.ErrorResponse{Message: message}); err != nil {
		logrus.WithError(err).Warn("Failed to write error response")
	}
}

func sendJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.WithError(err).Warn("Failed to write response")
	}
}

// sendStoreError maps storage sentinels onto HTTP statuses.
func sendStoreError(w http.ResponseWriter, err error, notFound string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		sendJSONError(w, notFound, http.StatusNotFound)
	case errors.Is(err, database.ErrStorageUnavailable):
		sendJSONError(w, "Storage unavailable", http.StatusServiceUnavailable)
	default:
		logrus.WithError(err).Error("Storage error")
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// AuthHandler serves registration, login and the current profile.
type AuthHandler struct {
	users     UserStore
	jwtSecret string
	jwtExpiry time.Duration
}

func NewAuthHandler(users UserStore, jwtSecret string, jwtExpiry time.Duration) *AuthHandler {
	return &AuthHandler{users: users, jwtSecret: jwtSecret, jwtExpiry: jwtExpiry}
}

// issue signs a token for user and writes the auth response.
func (h *AuthHandler) issue(w http.ResponseWriter, user *models.User, status int, message string) {
	token, err := utils.GenerateJWT(user.ID, user.Name, h.jwtSecret, h.jwtExpiry)
	if err != nil {
		logrus.WithError(err).Error("Failed to sign token")
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	sendJSON(w, status, models.AuthResponse{Message: message, Token: token, User: user.Profile()})
}

// RegisterUser handles POST /api/auth/register.
func (h *AuthHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = database.NormalizeEmail(req.Email)

	if req.Name == "" || req.Email == "" || req.Password == "" {
		sendJSONError(w, "Name, email, and password are required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLength {
		sendJSONError(w, "Password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logrus.WithError(err).Error("Error hashing password")
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	user := &models.User{Name: req.Name, Email: req.Email, Password: string(hashed)}
	if err := h.users.Create(ctx, user); err != nil {
		if errors.Is(err, database.ErrDuplicateKey) {
			sendJSONError(w, "Email already registered", http.StatusConflict)
			return
		}
		sendStoreError(w, err, "User not found")
		return
	}

	logrus.WithField("user_id", user.ID.Hex()).Info("User registered")
	h.issue(w, user, http.StatusCreated, "User registered successfully")
}

// LoginUser handles POST /api/auth/login.
func (h *AuthHandler) LoginUser(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		sendJSONError(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	user, err := h.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			sendJSONError(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		sendStoreError(w, err, "User not found")
		return
	}

	// OAuth-only accounts have no password hash and cannot log in here.
	if user.Password == "" || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		sendJSONError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	logrus.WithField("user_id", user.ID.Hex()).Info("User logged in")
	h.issue(w, user, http.StatusOK, "Login successful")
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		sendJSONError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	user, err := h.users.FindUserByID(ctx, userID)
	if err != nil {
		sendStoreError(w, err, "User not found")
		return
	}
	sendJSON(w, http.StatusOK, user.Profile())
}

// LookupUser handles GET /api/users/lookup?email=, used to find a user to
// add as a room member.
func (h *AuthHandler) LookupUser(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		sendJSONError(w, "email query parameter is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	user, err := h.users.FindByEmail(ctx, email)
	if err != nil {
		sendStoreError(w, err, "User not found")
		return
	}
	sendJSON(w, http.StatusOK, user.Profile())
}
