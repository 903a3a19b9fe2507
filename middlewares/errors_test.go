package middlewares

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-service/apperrors"
	"shop-service/config"
)

func newTestRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TraceID())
	r.Use(ErrorHandler(cfg))
	return r
}

func devConfig() *config.Config  { return &config.Config{AppEnv: "development"} }
func prodConfig() *config.Config { return &config.Config{AppEnv: "production"} }

func decodeProblem(t *testing.T, body []byte) Problem {
	t.Helper()
	var p Problem
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}

func TestForbiddenProblemShape(t *testing.T) {
	r := newTestRouter(prodConfig())
	r.GET("/admin", func(c *gin.Context) {
		_ = c.Error(apperrors.NewForbidden("Admin Panel", "access"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	p := decodeProblem(t, w.Body.Bytes())
	assert.Equal(t, "https://httpstatuses.io/403", p.Type)
	assert.Equal(t, "Forbidden", p.Title)
	assert.Equal(t, http.StatusForbidden, p.Status)
	assert.Equal(t, "You do not have permission to access Admin Panel", p.Detail)
	assert.Equal(t, "/admin", p.Instance)
	assert.NotEmpty(t, p.TraceID)
	_, err := time.Parse(time.RFC3339, p.Timestamp)
	assert.NoError(t, err)
}

func TestValidationProblemCarriesFieldErrors(t *testing.T) {
	r := newTestRouter(prodConfig())
	r.POST("/things", func(c *gin.Context) {
		_ = c.Error(apperrors.NewValidation(map[string][]string{
			"price": {"must be greater than zero"},
		}))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/things", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	p := decodeProblem(t, w.Body.Bytes())
	require.Contains(t, p.Errors, "price")
	assert.Equal(t, []string{"must be greater than zero"}, p.Errors["price"])
}

func TestStatusCodeTable(t *testing.T) {
	cases := []struct {
		err    *apperrors.Error
		status int
	}{
		{apperrors.NewValidation(nil), http.StatusBadRequest},
		{apperrors.NewBadRequest("bad", "", ""), http.StatusBadRequest},
		{apperrors.NewUnauthorized("no"), http.StatusUnauthorized},
		{apperrors.NewForbidden("x", "read"), http.StatusForbidden},
		{apperrors.NewNotFound("order", "7"), http.StatusNotFound},
		{apperrors.NewConflict("product", "taken"), http.StatusConflict},
		{apperrors.NewInvalidState("done"), http.StatusBadRequest},
		{apperrors.NewTimeout("slow"), http.StatusRequestTimeout},
		{apperrors.NewUnsupported("nope"), http.StatusNotImplemented},
		{apperrors.NewInternal("boom", nil), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.err.Kind.String(), func(t *testing.T) {
			r := newTestRouter(prodConfig())
			r.GET("/x", func(c *gin.Context) { _ = c.Error(tc.err) })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
			assert.Equal(t, tc.status, w.Code)
		})
	}
}

func TestUnclassifiedErrorGetsGenericDetail(t *testing.T) {
	r := newTestRouter(prodConfig())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(errors.New("pq: connection refused on 10.0.0.3"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblem(t, w.Body.Bytes())
	assert.Equal(t, genericDetail, p.Detail)
	assert.NotContains(t, w.Body.String(), "connection refused")
	assert.Empty(t, p.StackTrace)
	assert.Empty(t, p.Source)
	assert.Empty(t, p.InnerException)
}

func TestPanicIsRecoveredOnce(t *testing.T) {
	r := newTestRouter(prodConfig())
	r.GET("/x", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblem(t, w.Body.Bytes())
	assert.Equal(t, genericDetail, p.Detail)
	assert.NotContains(t, p.Detail, "boom")
}

func TestDevelopmentModeAttachesDiagnostics(t *testing.T) {
	r := newTestRouter(devConfig())
	r.GET("/x", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	p := decodeProblem(t, w.Body.Bytes())
	assert.NotEmpty(t, p.StackTrace)
	assert.NotEmpty(t, p.InnerException)
	// the client-facing detail stays generic even in development
	assert.Equal(t, genericDetail, p.Detail)
}

func TestDevDiagnosticsOnlyOnServerErrors(t *testing.T) {
	r := newTestRouter(devConfig())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFound("order", "7"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	p := decodeProblem(t, w.Body.Bytes())
	assert.Empty(t, p.StackTrace)
	assert.Empty(t, p.Source)
	assert.Empty(t, p.InnerException)
}

func TestInboundRequestIDIsKept(t *testing.T) {
	r := newTestRouter(prodConfig())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFound("order", "7"))
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "upstream-trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	p := decodeProblem(t, w.Body.Bytes())
	assert.Equal(t, "upstream-trace-1", p.TraceID)
	assert.Equal(t, "upstream-trace-1", w.Header().Get("X-Request-ID"))
}

// captureErrorLog points the pipeline logger at a buffer for one test.
func captureErrorLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := logger
	logger = zerolog.New(&buf)
	t.Cleanup(func() { logger = orig })
	return &buf
}

func TestTimeoutClassification(t *testing.T) {
	buf := captureErrorLog(t)
	r := newTestRouter(prodConfig())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(context.DeadlineExceeded)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusRequestTimeout, w.Code)

	// a raw deadline error classifies as a timeout, a declared kind: it logs
	// at error level but never as a system-level exception
	assert.Contains(t, buf.String(), `"kind":"timeout"`)
	assert.NotContains(t, buf.String(), "system-level exception")
}

func TestUnclassifiedFailureEmitsCriticalLine(t *testing.T) {
	buf := captureErrorLog(t)
	r := newTestRouter(prodConfig())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(errors.New("pq: connection refused"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, buf.String(), "system-level exception escaped handler")
}

func TestDeclaredDomainKindsStayQuiet(t *testing.T) {
	buf := captureErrorLog(t)
	r := newTestRouter(prodConfig())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(apperrors.NewNotFound("order", "7"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotContains(t, buf.String(), "system-level exception")
}
