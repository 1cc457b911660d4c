package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/toidukodu/tehiskokk/internal/ai"
	"github.com/toidukodu/tehiskokk/internal/chat"
	"github.com/toidukodu/tehiskokk/internal/client"
	"github.com/toidukodu/tehiskokk/internal/config"
	"github.com/toidukodu/tehiskokk/internal/httpapi/handlers"
	"github.com/toidukodu/tehiskokk/internal/httpapi/middleware"
	"github.com/toidukodu/tehiskokk/internal/identity"
	"github.com/toidukodu/tehiskokk/internal/relay"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type echoGateway struct{}

func (echoGateway) StreamChat(_ context.Context, messages []ai.Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 2)
	errs := make(chan error)
	chunks <- "Vastus: "
	chunks <- messages[len(messages)-1].Content
	close(chunks)
	close(errs)
	return chunks, errs
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int) (bool, error) { return false, nil }

func openStore(t *testing.T) *chat.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&chat.Session{}, &chat.Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return chat.NewStore(chat.NewRepo(db))
}

func newServer(t *testing.T, store *chat.Store, gw ai.StreamProvider, limiter middleware.Limiter) *httptest.Server {
	t.Helper()
	cfg := config.Config{CORSOrigins: []string{"*"}, RateLimitQPS: 5}
	h := handlers.NewHandler(store, relay.New(gw, relay.Options{}))
	srv := httptest.NewServer(NewRouter(cfg, h, limiter))
	t.Cleanup(srv.Close)
	return srv
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func do(t *testing.T, req *http.Request) (*http.Response, envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	var env envelope
	b, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return resp, env
}

func jsonReq(t *testing.T, method, url, body string) *http.Request {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestStoreAPI_SessionAndMessages(t *testing.T) {
	srv := newServer(t, openStore(t), echoGateway{}, nil)

	resp, env := do(t, jsonReq(t, http.MethodPost, srv.URL+"/api/sessions", `{"id":"sess-api"}`))
	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		t.Fatalf("create session: %d %+v", resp.StatusCode, env)
	}
	var sess chat.Session
	if err := json.Unmarshal(env.Data, &sess); err != nil || sess.ID != "sess-api" {
		t.Fatalf("unexpected session %s", env.Data)
	}

	for _, body := range []string{
		`{"role":"user","content":"Tere"}`,
		`{"role":"assistant","content":"Tere tulemast","image_url":"https://img.example/x.png"}`,
	} {
		resp, env := do(t, jsonReq(t, http.MethodPost, srv.URL+"/api/sessions/sess-api/messages", body))
		if resp.StatusCode != http.StatusOK || string(env.Data) == "null" {
			t.Fatalf("save message: %d %+v", resp.StatusCode, env)
		}
	}

	_, env = do(t, jsonReq(t, http.MethodGet, srv.URL+"/api/sessions/sess-api/messages", ""))
	var msgs []chat.Message
	if err := json.Unmarshal(env.Data, &msgs); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "Tere" || msgs[1].ImageURL == nil {
		t.Fatalf("unexpected history %+v", msgs)
	}
}

func TestStoreAPI_RejectsInvalidMessages(t *testing.T) {
	srv := newServer(t, openStore(t), echoGateway{}, nil)

	cases := map[string]string{
		"bad role":      `{"role":"system","content":"x"}`,
		"empty content": `{"role":"user","content":"  "}`,
		"bad json":      `{"role":`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp, env := do(t, jsonReq(t, http.MethodPost, srv.URL+"/api/sessions/s1/messages", body))
			if resp.StatusCode != http.StatusBadRequest || env.Code == 0 {
				t.Fatalf("expected 400 envelope, got %d %+v", resp.StatusCode, env)
			}
		})
	}
}

func TestStoreAPI_DegradedWithoutPersistence(t *testing.T) {
	srv := newServer(t, nil, echoGateway{}, nil)

	_, env := do(t, jsonReq(t, http.MethodPost, srv.URL+"/api/sessions", `{"id":"abc"}`))
	if string(env.Data) != "null" {
		t.Fatalf("expected null session, got %s", env.Data)
	}
	_, env = do(t, jsonReq(t, http.MethodGet, srv.URL+"/api/sessions/abc/messages", ""))
	if string(env.Data) != "[]" {
		t.Fatalf("expected empty list, got %s", env.Data)
	}
	_, env = do(t, jsonReq(t, http.MethodPost, srv.URL+"/api/sessions/abc/messages", `{"role":"user","content":"hi"}`))
	if string(env.Data) != "null" {
		t.Fatalf("expected null message, got %s", env.Data)
	}
}

func TestIdentity_CookieLifecycle(t *testing.T) {
	srv := newServer(t, openStore(t), echoGateway{}, nil)

	resp, env := do(t, jsonReq(t, http.MethodGet, srv.URL+"/api/session", ""))
	var first struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(env.Data, &first)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == identity.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != first.SessionID || cookie.MaxAge != identity.MaxAge {
		t.Fatalf("cookie not issued: %+v", cookie)
	}

	req := jsonReq(t, http.MethodGet, srv.URL+"/api/session", "")
	req.AddCookie(&http.Cookie{Name: identity.CookieName, Value: first.SessionID})
	_, env = do(t, req)
	var second struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(env.Data, &second)
	if second.SessionID != first.SessionID {
		t.Fatalf("identity not stable: %q -> %q", first.SessionID, second.SessionID)
	}

	// session upsert defaults to the cookie identity
	req = jsonReq(t, http.MethodPost, srv.URL+"/api/sessions", "")
	req.AddCookie(&http.Cookie{Name: identity.CookieName, Value: first.SessionID})
	_, env = do(t, req)
	var sess chat.Session
	if err := json.Unmarshal(env.Data, &sess); err != nil || sess.ID != first.SessionID {
		t.Fatalf("expected cookie session, got %s", env.Data)
	}

	req = jsonReq(t, http.MethodDelete, srv.URL+"/api/session", "")
	req.AddCookie(&http.Cookie{Name: identity.CookieName, Value: first.SessionID})
	resp, _ = do(t, req)
	expired := false
	for _, c := range resp.Cookies() {
		if c.Name == identity.CookieName && c.MaxAge < 0 {
			expired = true
		}
	}
	if !expired {
		t.Fatalf("expected cookie to be expired")
	}
}

func TestRelayRoute_StreamsAndRateLimits(t *testing.T) {
	srv := newServer(t, nil, echoGateway{}, nil)
	resp, err := http.Post(srv.URL+"/api/tehiskokk", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"supp"}]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), `data: {"text":"supp"}`) || !strings.Contains(string(body), `data: {"done":true}`) {
		t.Fatalf("unexpected stream %q", body)
	}

	limited := newServer(t, nil, echoGateway{}, denyLimiter{})
	resp, err = http.Post(limited.URL+"/api/tehiskokk", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"supp"}]}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestRouter_CORSPreflightAndNotFound(t *testing.T) {
	srv := newServer(t, nil, echoGateway{}, nil)

	req := jsonReq(t, http.MethodOptions, srv.URL+"/api/tehiskokk", "")
	req.Header.Set("Origin", "https://tehiskokk.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight failed: %d %v", resp.StatusCode, resp.Header)
	}

	resp, env := do(t, jsonReq(t, http.MethodGet, srv.URL+"/nope", ""))
	if resp.StatusCode != http.StatusNotFound || env.Code != 40400 {
		t.Fatalf("expected 404 envelope, got %d %+v", resp.StatusCode, env)
	}
}

func TestRemoteStore_AgainstRouter(t *testing.T) {
	srv := newServer(t, openStore(t), echoGateway{}, nil)
	rs := client.NewRemoteStore(srv.URL, nil)
	ctx := context.Background()

	if s := rs.GetOrCreateSession(ctx, "sess-remote"); s == nil || s.ID != "sess-remote" {
		t.Fatalf("unexpected session %+v", s)
	}
	if m := rs.SaveMessage(ctx, "sess-remote", chat.RoleUser, "Tere", nil); m == nil || m.ID == "" {
		t.Fatalf("unexpected message %+v", m)
	}
	if m := rs.SaveMessage(ctx, "sess-remote", chat.Role("system"), "x", nil); m != nil {
		t.Fatalf("invalid role should yield nil, got %+v", m)
	}
	msgs := rs.GetMessages(ctx, "sess-remote")
	if len(msgs) != 1 || msgs[0].Content != "Tere" {
		t.Fatalf("unexpected history %+v", msgs)
	}
}

func TestConsumer_EndToEndThroughRouter(t *testing.T) {
	srv := newServer(t, openStore(t), echoGateway{}, nil)
	rs := client.NewRemoteStore(srv.URL, nil)
	c := client.New(srv.URL+"/api/tehiskokk", rs, identity.NewFileProvider(t.TempDir()+"/session.yaml"))
	ctx := context.Background()
	c.Init(ctx)

	if err := c.Send(ctx, "Kõrvitsasupp"); err != nil {
		t.Fatalf("send: %v", err)
	}
	turns := c.Transcript()
	if got := turns[len(turns)-1].Content; got != "Vastus: Kõrvitsasupp" {
		t.Fatalf("unexpected reply %q", got)
	}

	msgs := rs.GetMessages(ctx, c.SessionID())
	if len(msgs) != 2 || msgs[1].Role != chat.RoleAssistant || msgs[1].Content != "Vastus: Kõrvitsasupp" {
		t.Fatalf("unexpected stored history %+v", msgs)
	}
}
