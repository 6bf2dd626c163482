package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/gocalceum/calc/internal/identity"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(handlers...)
	engine.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return engine
}

func TestRequestID_Generated(t *testing.T) {
	engine := newEngine(RequestID())

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.NotEmpty(t, recorder.Header().Get("X-Request-ID"))
}

func TestRequestID_Propagated(t *testing.T) {
	engine := newEngine(RequestID())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-ID", "req-42")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)

	require.Equal(t, "req-42", recorder.Header().Get("X-Request-ID"))
}

func TestCORS_Preflight(t *testing.T) {
	engine := newEngine(CORS(CORSConfig{
		AllowedOrigins: []string{"https://app.calceum.com"},
		AllowedMethods: []string{"POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set("Origin", "https://app.calceum.com")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusNoContent, recorder.Code)
	require.Equal(t, "https://app.calceum.com", recorder.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, recorder.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	engine := newEngine(CORS(CORSConfig{
		AllowedOrigins: []string{"https://app.calceum.com"},
		AllowedMethods: []string{"POST"},
	}))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)

	require.Empty(t, recorder.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter_Exhaustion(t *testing.T) {
	// 60 rpm gives a burst of 6 from one client.
	engine := newEngine(NewRateLimiter(60).Handler())

	var last int
	for i := 0; i < 10; i++ {
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
		last = recorder.Code
	}
	require.Equal(t, http.StatusTooManyRequests, last)
}

func TestRateLimiter_Disabled(t *testing.T) {
	engine := newEngine(NewRateLimiter(0).Handler())

	for i := 0; i < 20; i++ {
		recorder := httptest.NewRecorder()
		engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, recorder.Code)
	}
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(60)

	// Clients that rotate IPs must not accumulate forever.
	for i := 0; i < 50; i++ {
		limiter.getLimiter(fmt.Sprintf("10.0.0.%d", i))
	}
	require.Len(t, limiter.clients, 50)

	limiter.mu.Lock()
	for _, entry := range limiter.clients {
		entry.lastSeen = time.Now().Add(-limiter.window - time.Minute)
	}
	limiter.mu.Unlock()

	limiter.getLimiter("10.0.1.1")
	require.Len(t, limiter.clients, 1)
}

func TestAuthenticate_Rejections(t *testing.T) {
	verifier := identity.NewVerifier("0123456789abcdef0123456789abcdef", "")
	engine := newEngine(Authenticate(verifier))

	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusUnauthorized, recorder.Code)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	recorder = httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusUnauthorized, recorder.Code)
}
