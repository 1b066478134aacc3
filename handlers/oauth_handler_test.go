package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"realtime-canvas/backend/models"
	"realtime-canvas/backend/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeGoogle serves the token and userinfo endpoints.
func fakeGoogle(t *testing.T, profile googleProfile) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(profile)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestOAuth(e *env, provider *httptest.Server) *OAuthHandler {
	h := NewGoogleOAuthHandler(e.auth, "client", "secret", "http://api.test/api/auth/google/callback", "http://app.test", false)
	h.conf.Endpoint = oauth2.Endpoint{AuthURL: provider.URL + "/auth", TokenURL: provider.URL + "/token"}
	h.userInfoURL = provider.URL + "/userinfo"
	return h
}

func callback(h *OAuthHandler, state, cookie, code string) *httptest.ResponseRecorder {
	q := url.Values{"state": {state}, "code": {code}}
	req := httptest.NewRequest(http.MethodGet, "/api/auth/google/callback?"+q.Encode(), nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: cookie})
	}
	rr := httptest.NewRecorder()
	h.GoogleCallback(rr, req)
	return rr
}

func redirectToken(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	require.Equal(t, http.StatusTemporaryRedirect, rr.Code, rr.Body.String())
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.test", loc.Host)
	assert.Equal(t, "/auth/callback", loc.Path)
	return loc.Query().Get("token")
}

func TestGoogleLoginSetsState(t *testing.T) {
	e := newEnv(t)
	h := newTestOAuth(e, fakeGoogle(t, googleProfile{}))

	rr := httptest.NewRecorder()
	h.GoogleLogin(rr, httptest.NewRequest(http.MethodGet, "/api/auth/google", nil))

	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, oauthStateCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, cookies[0].Value, loc.Query().Get("state"))
	assert.True(t, strings.HasSuffix(loc.Path, "/auth"))
}

func TestGoogleCallbackCreatesUser(t *testing.T) {
	e := newEnv(t)
	h := newTestOAuth(e, fakeGoogle(t, googleProfile{ID: "g-42", Email: "New@Example.com", Name: "Newcomer", Picture: "http://pic"}))

	token := redirectToken(t, callback(h, "s1", "s1", "good-code"))
	userID, err := utils.GetUserIDFromToken(token, testSecret)
	require.NoError(t, err)

	user, err := e.users.FindByGoogleID(context.Background(), "g-42")
	require.NoError(t, err)
	assert.Equal(t, userID, user.ID)
	assert.Equal(t, "new@example.com", user.Email)
	assert.Empty(t, user.Password)

	// A second sign-in finds the same account.
	again, err := utils.GetUserIDFromToken(redirectToken(t, callback(h, "s2", "s2", "good-code")), testSecret)
	require.NoError(t, err)
	assert.Equal(t, userID, again)
}

func TestGoogleCallbackLinksExistingEmail(t *testing.T) {
	e := newEnv(t)
	existing := &models.User{Name: "Ada", Email: "ada@example.com", Password: "hash"}
	require.NoError(t, e.users.Create(context.Background(), existing))
	h := newTestOAuth(e, fakeGoogle(t, googleProfile{ID: "g-ada", Email: "ada@example.com", Picture: "http://ada"}))

	userID, err := utils.GetUserIDFromToken(redirectToken(t, callback(h, "s", "s", "good-code")), testSecret)
	require.NoError(t, err)
	assert.Equal(t, existing.ID, userID)

	linked, err := e.users.FindByGoogleID(context.Background(), "g-ada")
	require.NoError(t, err)
	assert.Equal(t, "http://ada", linked.Avatar)
	assert.Equal(t, "hash", linked.Password)
}

func TestGoogleCallbackRejects(t *testing.T) {
	e := newEnv(t)
	h := newTestOAuth(e, fakeGoogle(t, googleProfile{ID: "g-1", Email: "x@example.com"}))

	tests := []struct {
		name                string
		state, cookie, code string
		status              int
	}{
		{"missing cookie", "s", "", "good-code", http.StatusBadRequest},
		{"state mismatch", "s", "other", "good-code", http.StatusBadRequest},
		{"missing code", "s", "s", "", http.StatusBadRequest},
		{"exchange fails", "s", "s", "bad-code", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := callback(h, tt.state, tt.cookie, tt.code)
			assert.Equal(t, tt.status, rr.Code)
		})
	}

	_, err := e.users.FindByGoogleID(context.Background(), "g-1")
	assert.Error(t, err)
}

func TestGoogleCallbackIncompleteProfile(t *testing.T) {
	e := newEnv(t)
	h := newTestOAuth(e, fakeGoogle(t, googleProfile{ID: "g-1"}))

	rr := callback(h, "s", "s", "good-code")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}
