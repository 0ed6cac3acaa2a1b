package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
)

func ok(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func TestAPIVersionMiddleware(t *testing.T) {
	t.Run("Success - current version", func(t *testing.T) {
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

		assert.NoError(t, APIVersionMiddleware(CurrentAPIVersion)(ok)(c))
		assert.Equal(t, "1.0.0", rec.Header().Get("X-API-Version"))
		assert.Empty(t, rec.Header().Get("Deprecation"))
	})

	t.Run("Success - deprecated version", func(t *testing.T) {
		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

		v := APIVersion{Version: "1.0.0", LatestVersion: "2.0.0", DeprecationDate: "2027-01-01", SunsetDate: "2027-06-01"}
		assert.NoError(t, APIVersionMiddleware(v)(ok)(c))
		assert.Equal(t, "true", rec.Header().Get("Deprecation"))
		assert.Equal(t, "2027-06-01", rec.Header().Get("Sunset"))
		assert.Equal(t, "2.0.0", rec.Header().Get("X-API-Latest-Version"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	assert.NoError(t, SecurityHeaders(SecurityHeadersConfig{ReferrerPolicy: "same-origin"})(ok)(c))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", rec.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "same-origin", rec.Header().Get("Referrer-Policy"))
}

func TestCORSConfig(t *testing.T) {
	e := echo.New()
	e.Use(middleware.CORSWithConfig(CORSConfig([]string{"https://console.example.com"})))
	e.GET("/test", ok)

	t.Run("Success - allowed origin reflected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "https://console.example.com")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, "https://console.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Failure - unknown origin not reflected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.NotEqual(t, "https://evil.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Success - preflight lists methods", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/test", nil)
		req.Header.Set("Origin", "https://console.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete)
	})
}
