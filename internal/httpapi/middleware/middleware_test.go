package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/toidukodu/tehiskokk/internal/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixedLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (l *fixedLimiter) Allow(_ context.Context, key string, _ int) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allow, l.err
}

func serve(e *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRecovery_PanicBecomesEnvelope(t *testing.T) {
	e := gin.New()
	e.Use(RequestID(), Recovery())
	e.GET("/boom", func(c *gin.Context) { panic("boom") })

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"code":50000`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestRequestID_ReusesOrMints(t *testing.T) {
	e := gin.New()
	e.Use(RequestID())
	var seen string
	e.GET("/", func(c *gin.Context) { seen = c.GetString(RequestIDKey) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := serve(e, req)
	if seen != "abc-123" || rec.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("caller id not reused: %q", seen)
	}

	serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc-123" {
		t.Fatalf("expected a minted id, got %q", seen)
	}
}

func TestRateLimit(t *testing.T) {
	cases := map[string]struct {
		limiter Limiter
		qps     int
		want    int
	}{
		"disabled":        {nil, 5, http.StatusOK},
		"zero qps":        {&fixedLimiter{allow: false}, 0, http.StatusOK},
		"allowed":         {&fixedLimiter{allow: true}, 5, http.StatusOK},
		"rejected":        {&fixedLimiter{allow: false}, 5, http.StatusTooManyRequests},
		"limiter failure": {&fixedLimiter{err: errors.New("redis down")}, 5, http.StatusOK},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := gin.New()
			e.POST("/", RateLimit(tc.limiter, tc.qps), func(c *gin.Context) { c.Status(http.StatusOK) })

			rec := serve(e, httptest.NewRequest(http.MethodPost, "/", nil))
			if rec.Code != tc.want {
				t.Fatalf("status %d, want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusTooManyRequests && !strings.Contains(rec.Body.String(), `"error"`) {
				t.Fatalf("expected error body, got %s", rec.Body.String())
			}
		})
	}
}

func TestSession_BindsCookieProvider(t *testing.T) {
	e := gin.New()
	e.Use(Session())
	var first, second string
	e.GET("/", func(c *gin.Context) {
		first = Identity(c).GetSessionID()
		second = Identity(c).GetSessionID()
	})

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	if first == "" || first != second {
		t.Fatalf("identity not stable within a request: %q %q", first, second)
	}
	if !strings.Contains(rec.Header().Get("Set-Cookie"), identity.CookieName+"="+first) {
		t.Fatalf("cookie not set: %q", rec.Header().Get("Set-Cookie"))
	}
}
