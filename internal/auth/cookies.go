package auth

import (
	"net/http"
	"time"
)

// Cookie names shared with the browser.
const (
	UserIDCookie  = "userID"
	SessionCookie = "sessionToken"
	StateCookie   = "state"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	Domain        string        // Empty string = current host only
	Secure        bool          // HTTPS only
	SessionMaxAge time.Duration // Applied only when the user asked to be remembered
	StateMaxAge   time.Duration
}

func (c CookieConfig) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// SetSessionCookies writes userID and sessionToken. Without rememberMe they
// are browser-session cookies.
func SetSessionCookies(w http.ResponseWriter, userID, sessionSecret string, rememberMe bool, config CookieConfig) {
	for _, c := range []*http.Cookie{
		config.cookie(UserIDCookie, userID),
		config.cookie(SessionCookie, sessionSecret),
	} {
		if rememberMe && config.SessionMaxAge > 0 {
			c.MaxAge = int(config.SessionMaxAge / time.Second)
			c.Expires = time.Now().Add(config.SessionMaxAge)
		}
		http.SetCookie(w, c)
	}
}

// ClearSessionCookies expires both session cookies
func ClearSessionCookies(w http.ResponseWriter, config CookieConfig) {
	for _, name := range []string{UserIDCookie, SessionCookie} {
		c := config.cookie(name, "")
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

// SetStateCookie stores the login nonce for the duration of a provider round trip
func SetStateCookie(w http.ResponseWriter, nonce string, config CookieConfig) {
	c := config.cookie(StateCookie, nonce)
	if config.StateMaxAge > 0 {
		c.MaxAge = int(config.StateMaxAge / time.Second)
		c.Expires = time.Now().Add(config.StateMaxAge)
	}
	http.SetCookie(w, c)
}

// ClearStateCookie expires the login nonce
func ClearStateCookie(w http.ResponseWriter, config CookieConfig) {
	c := config.cookie(StateCookie, "")
	c.MaxAge = -1
	http.SetCookie(w, c)
}

// cookieValue returns the named cookie's value, or "" if absent
func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// GetStateCookie retrieves the stored login nonce
func GetStateCookie(r *http.Request) string {
	return cookieValue(r, StateCookie)
}

// GetSessionCookies retrieves the userID and session secret
func GetSessionCookies(r *http.Request) (userID, sessionSecret string) {
	return cookieValue(r, UserIDCookie), cookieValue(r, SessionCookie)
}
