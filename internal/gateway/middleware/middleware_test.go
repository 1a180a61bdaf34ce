package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type staticSession bool

func (s staticSession) SignedIn() bool { return bool(s) }

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func do(r http.Handler, method string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, "/ping", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(w, req)
	return w
}

func TestSessionAuth(t *testing.T) {
	w := do(newEngine(SessionAuth(staticSession(false))), http.MethodGet)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Sign in")

	w = do(newEngine(SessionAuth(staticSession(true))), http.MethodGet)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	r := newEngine(RateLimit("2-M"))

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet).Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodGet).Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newEngine(CORS())
	r.OPTIONS("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := do(r, http.MethodOptions)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
