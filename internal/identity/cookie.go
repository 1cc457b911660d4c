package identity

import (
	"net/http"
	"strings"
	"sync"
)

// CookieProvider keeps the token in a browser cookie. It is bound to one
// request/response pair; within it repeated calls return the same token.
type CookieProvider struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	r       *http.Request
	current string
	cleared bool
}

func NewCookieProvider(w http.ResponseWriter, r *http.Request) *CookieProvider {
	return &CookieProvider{w: w, r: r}
}

func (p *CookieProvider) GetSessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != "" {
		return p.current
	}
	if !p.cleared {
		if c, err := p.r.Cookie(CookieName); err == nil && strings.TrimSpace(c.Value) != "" {
			p.current = c.Value
			return p.current
		}
	}

	p.current = NewToken()
	http.SetCookie(p.w, &http.Cookie{
		Name:     CookieName,
		Value:    p.current,
		Path:     "/",
		MaxAge:   MaxAge,
		SameSite: http.SameSiteLaxMode,
	})
	return p.current
}

// ClearSession expires the cookie immediately.
func (p *CookieProvider) ClearSession() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = ""
	p.cleared = true
	http.SetCookie(p.w, &http.Cookie{
		Name:   CookieName,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}
