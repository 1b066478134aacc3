package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"realtime-canvas/backend/database"
	"realtime-canvas/backend/models"
	"realtime-canvas/backend/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	oauthStateCookie   = "oauth_state"
	googleUserInfoURL  = "https://www.googleapis.com/oauth2/v2/userinfo"
	oauthStateLifetime = 10 * time.Minute
)

type googleProfile struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// OAuthHandler signs users in with Google.
type OAuthHandler struct {
	auth        *AuthHandler
	conf        *oauth2.Config
	userInfoURL string
	clientURL   string
	secure      bool
}

func NewGoogleOAuthHandler(auth *AuthHandler, clientID, clientSecret, callbackURL, clientURL string, secure bool) *OAuthHandler {
	return &OAuthHandler{
		auth: auth,
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
		clientURL:   clientURL,
		secure:      secure,
	}
}

// GoogleLogin handles GET /api/auth/google.
func (h *OAuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(oauthStateLifetime.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.conf.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback handles GET /api/auth/google/callback. It finds the user
// by Google id, else links an account with the same email, else creates
// one, then redirects to the client with a token.
func (h *OAuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(oauthStateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		sendJSONError(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		sendJSONError(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*requestTimeout)
	defer cancel()

	token, err := h.conf.Exchange(ctx, code)
	if err != nil {
		logrus.WithError(err).Warn("OAuth code exchange failed")
		sendJSONError(w, "OAuth exchange failed", http.StatusUnauthorized)
		return
	}
	profile, err := h.fetchProfile(ctx, token)
	if err != nil {
		logrus.WithError(err).Warn("Failed to fetch Google profile")
		sendJSONError(w, "Failed to fetch profile", http.StatusBadGateway)
		return
	}

	user, err := h.resolveUser(ctx, profile)
	if err != nil {
		sendStoreError(w, err, "User not found")
		return
	}

	signed, err := utils.GenerateJWT(user.ID, user.Name, h.auth.jwtSecret, h.auth.jwtExpiry)
	if err != nil {
		sendJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	logrus.WithField("user_id", user.ID.Hex()).Info("User signed in with Google")
	http.Redirect(w, r, h.clientURL+"/auth/callback?token="+url.QueryEscape(signed), http.StatusTemporaryRedirect)
}

func (h *OAuthHandler) fetchProfile(ctx context.Context, token *oauth2.Token) (*googleProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.conf.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned %s", resp.Status)
	}

	var p googleProfile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	if p.ID == "" || p.Email == "" {
		return nil, errors.New("userinfo is missing id or email")
	}
	return &p, nil
}

func (h *OAuthHandler) resolveUser(ctx context.Context, p *googleProfile) (*models.User, error) {
	users := h.auth.users

	user, err := users.FindByGoogleID(ctx, p.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	user, err = users.FindByEmail(ctx, p.Email)
	switch {
	case err == nil:
		if err := users.LinkGoogle(ctx, user.ID, p.ID, p.Picture); err != nil {
			return nil, err
		}
		user.GoogleID, user.Avatar = p.ID, p.Picture
		return user, nil
	case !errors.Is(err, database.ErrNotFound):
		return nil, err
	}

	name := p.Name
	if name == "" {
		name = p.Email
	}
	user = &models.User{Name: name, Email: p.Email, GoogleID: p.ID, Avatar: p.Picture}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
