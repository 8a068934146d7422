package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/habits/config"
	"github.com/cppla/habits/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	config.Set(config.AppConfig{JWTSecret: "middleware-test-secret"})
	os.Exit(m.Run())
}

func authRouter() *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthRequired(), func(c *gin.Context) {
		id, ok := CurrentUserID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		token, claims, ok := CurrentClaims(c)
		if !ok || token == "" {
			c.Status(http.StatusInternalServerError)
			return
		}
		utils.Success(c, gin.H{"id": id, "username": claims.Username})
	})
	return r
}

func appCode(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	var body utils.JSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestAuthRequired(t *testing.T) {
	r := authRouter()
	valid, err := utils.GenerateToken(7, "ada", time.Hour)
	require.NoError(t, err)
	revoked, err := utils.GenerateToken(8, "bob", time.Hour)
	require.NoError(t, err)
	utils.BlacklistToken(revoked, time.Now().Add(time.Hour))

	cases := []struct {
		name   string
		header string
		status int
		code   int
	}{
		{"missing header", "", http.StatusUnauthorized, 40101},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, 40102},
		{"empty token", "Bearer   ", http.StatusUnauthorized, 40103},
		{"revoked", "Bearer " + revoked, http.StatusUnauthorized, 40104},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized, 40105},
		{"valid", "bearer " + valid, http.StatusOK, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, appCode(t, w))
		})
	}
}

func TestRateLimiterPerKey(t *testing.T) {
	l := NewRateLimiter(4) // burst of 2
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.2"))

	// one token refills every 15s
	now = now.Add(15 * time.Second)
	assert.True(t, l.Allow("10.0.0.1"))

	now = now.Add(limiterIdleTTL + time.Second)
	l.Allow("10.0.0.3")
	assert.Len(t, l.buckets, 1)
}

func TestRateLimiterSweepsAtMostOncePerIdleTTL(t *testing.T) {
	l := NewRateLimiter(60)
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := start
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = start.Add(time.Minute)
	l.Allow("b")

	// a has been idle past its TTL, b has not
	now = start.Add(limiterIdleTTL + time.Second)
	l.Allow("c")
	assert.ElementsMatch(t, []string{"b", "c"}, bucketKeys(l))

	// b is now idle too, but the last sweep was only a minute ago
	now = start.Add(limiterIdleTTL + time.Minute + 2*time.Second)
	l.Allow("c")
	assert.ElementsMatch(t, []string{"b", "c"}, bucketKeys(l))

	now = start.Add(2*limiterIdleTTL + 2*time.Second)
	l.Allow("c")
	assert.ElementsMatch(t, []string{"c"}, bucketKeys(l))
}

func bucketKeys(l *RateLimiter) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.buckets))
	for k := range l.buckets {
		keys = append(keys, k)
	}
	return keys
}

func TestRateLimiterHandler(t *testing.T) {
	r := gin.New()
	r.Use(NewRateLimiter(2).Handler())
	r.GET("/", func(c *gin.Context) { utils.Success(c, nil) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 42901, appCode(t, w))
}

func TestMetricsMiddlewarePassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(Metrics())
	r.GET("/habits/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/habits/3", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
