package auth

import (
	"net/http"
)

const (
	// CookieName is the cookie new sessions are written under.
	CookieName = "auth_token"
	// LegacyCookieName is still read and always cleared.
	LegacyCookieName = "auth-token"
)

// CookiePolicy decides the session cookie attributes for the running environment
type CookiePolicy struct {
	Production bool
	names      []string
}

// NewCookiePolicy creates a policy writing CookieName and reading/clearing LegacyCookieName too
func NewCookiePolicy(production bool) *CookiePolicy {
	return &CookiePolicy{
		Production: production,
		names:      []string{CookieName, LegacyCookieName},
	}
}

// Set writes the session cookie
func (p *CookiePolicy) Set(w http.ResponseWriter, token string) {
	c := p.cookie(CookieName, token)
	c.MaxAge = int(tokenExpiry.Seconds())
	http.SetCookie(w, c)
}

// Clear expires every cookie name the session may live under
func (p *CookiePolicy) Clear(w http.ResponseWriter) {
	for _, name := range p.names {
		c := p.cookie(name, "")
		c.MaxAge = -1 // Max-Age=0
		http.SetCookie(w, c)
	}
}

// Token returns the first non-empty session cookie, primary name first
func (p *CookiePolicy) Token(r *http.Request) (string, bool) {
	for _, name := range p.names {
		c, err := r.Cookie(name)
		if err == nil && c.Value != "" {
			return c.Value, true
		}
	}
	return "", false
}

func (p *CookiePolicy) cookie(name, value string) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if p.Production {
		sameSite = http.SameSiteStrictMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   p.Production,
		SameSite: sameSite,
	}
}
