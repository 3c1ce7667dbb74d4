package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tempsys-core/internal/auth"
)

// defaultCookieName is used when api.cookie.name is empty.
const defaultCookieName = "refreshToken"

// refreshCookiePath scopes the refresh cookie to the session endpoints.
const refreshCookiePath = "/api/auth"

// credentialsRequest is the body of login and registration.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is returned by login and refresh. The refresh token
// itself only travels in the cookie.
type sessionResponse struct {
	AccessToken      string       `json:"access_token"`
	TokenType        string       `json:"token_type"`
	ExpiresIn        int          `json:"expires_in"`
	RefreshExpiresAt time.Time    `json:"refresh_expires_at"`
	User             userResponse `json:"user"`
}

func (s *Server) cookieName() string {
	if s.cfg.Cookie.Name != "" {
		return s.cfg.Cookie.Name
	}
	return defaultCookieName
}

func (s *Server) setRefreshCookie(w http.ResponseWriter, token *auth.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    token.Value,
		Path:     refreshCookiePath,
		Expires:  token.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName(),
		Value:    "",
		Path:     refreshCookiePath,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) refreshCookieValue(r *http.Request) (string, bool) {
	c, err := r.Cookie(s.cookieName())
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func (s *Server) writeSession(w http.ResponseWriter, res *auth.AuthResult) {
	s.setRefreshCookie(w, res.RefreshToken)
	writeJSON(w, http.StatusOK, sessionResponse{
		AccessToken:      res.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        int(res.AccessExpiresAt.Sub(s.now()).Seconds()),
		RefreshExpiresAt: res.RefreshToken.ExpiresAt,
		User:             newUserResponse(res.User),
	})
}

// handleLogin exchanges credentials for an access token and a refresh cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeUnauthorized(w, "invalid credentials")
		return
	}
	s.writeSession(w, res)
}

// handleRefresh rotates the refresh cookie.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	value, ok := s.refreshCookieValue(r)
	if !ok {
		writeUnauthorized(w, "missing refresh token")
		return
	}

	res, err := s.accounts.Refresh(r.Context(), value)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.writeSession(w, res)
}

// handleLogout revokes the refresh cookie's token and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	value, ok := s.refreshCookieValue(r)
	if !ok {
		writeUnauthorized(w, "missing refresh token")
		return
	}

	if err := s.accounts.Logout(r.Context(), value); err != nil {
		writeServiceError(w, err)
		return
	}

	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleVerify consumes an emailed verification token.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Verify(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}
