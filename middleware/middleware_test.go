package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"realtime-canvas/backend/models"
	"realtime-canvas/backend/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func echoUser(w http.ResponseWriter, r *http.Request) {
	id, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Write([]byte(id.Hex()))
}

func TestJWTMiddleware(t *testing.T) {
	const secret = "mw-secret"
	handler := JWTMiddleware(utils.NewTokenVerifier(secret))(http.HandlerFunc(echoUser))
	userID := primitive.NewObjectID()
	valid, err := utils.GenerateJWT(userID, "Ada", secret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Token " + valid, http.StatusUnauthorized},
		{"garbage token", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.status, rr.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, userID.Hex(), rr.Body.String())
				return
			}
			var body models.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestClientIP(t *testing.T) {
	proxies, err := ParseProxyList([]string{"10.0.0.0/8", " 192.168.1.5 ", ""})
	require.NoError(t, err)

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{"direct peer", "198.51.100.4:5000", "", "198.51.100.4"},
		{"untrusted peer cannot forward", "198.51.100.4:5000", "203.0.113.9", "198.51.100.4"},
		{"trusted proxy", "10.0.0.7:51234", "203.0.113.9", "203.0.113.9"},
		{"spoofed leftmost hop ignored", "10.0.0.7:51234", "1.2.3.4, 203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"single address entry", "192.168.1.5:80", "203.0.113.10", "203.0.113.10"},
		{"only proxies", "10.0.0.7:51234", "10.0.0.2", "10.0.0.2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			assert.Equal(t, tt.want, proxies.ClientIP(req))
		})
	}

	var none ProxyList
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "10.0.0.7", none.ClientIP(req))
}

func TestParseProxyListRejectsGarbage(t *testing.T) {
	_, err := ParseProxyList([]string{"not-an-ip"})
	assert.Error(t, err)
	_, err = ParseProxyList([]string{"10.0.0.0/99"})
	assert.Error(t, err)
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	handler := RequestLogger(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, http.StatusNotFound, entry.Data["status"])
	assert.Equal(t, "/missing", entry.Data["path"])
}

func TestRateLimit(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	handler := RateLimit(rdb, "test:"+uuid.NewString()+":", 3, time.Minute, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
		assert.Equal(t, http.StatusNoContent, rr.Code)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitFailsOpen(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	handler := RateLimit(rdb, "test:", 1, time.Minute, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
}
