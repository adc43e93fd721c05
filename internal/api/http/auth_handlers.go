package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/escrow-hub/escrow-hub/internal/domain/audit"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Account      interface{} `json:"account"`
	SessionID    string      `json:"session_id"`
	ExpiresAt    string      `json:"expires_at"`
	SessionToken string      `json:"session_token"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	userAgent := r.UserAgent()
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	res, err := s.authSvc.Login(r.Context(), req.Username, req.Password, &userAgent, &ip)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	s.auditSvc.Log(r.Context(), &audit.Entry{
		EventType:  audit.EventAccountLogin,
		EntityType: audit.EntityTypeAccount,
		EntityID:   res.Account.AccountID.String(),
		Actor:      res.Account.ActorString(),
		ActorRoles: []string{string(res.Account.Role)},
		NewState:   "LOGGED_IN",
		Reason:     "login",
	})

	cookie := &http.Cookie{
		Name:     s.sessionCookieName,
		Value:    res.Token,
		Path:     "/",
		Expires:  res.Session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.sessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, cookie)

	respondJSON(w, http.StatusOK, loginResponse{
		Account:      res.Account,
		SessionID:    res.Session.SessionID.String(),
		ExpiresAt:    res.Session.ExpiresAt.Format(time.RFC3339),
		SessionToken: res.Token,
	})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r, s.sessionCookieName)
	_ = s.authSvc.Logout(r.Context(), token)

	cookie := &http.Cookie{
		Name:     s.sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.sessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}
	http.SetCookie(w, cookie)
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "OK"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	u := authUserFromContext(r.Context())
	if u == nil {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth")
		return
	}
	a, err := s.accountSvc.Get(r.Context(), u.AccountID)
	if err != nil || a == nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "account lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) bootstrapAdmin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	a, err := s.accountSvc.Bootstrap(r.Context(), req.Username, req.Password)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_STATE", err.Error())
		return
	}
	s.auditSvc.Log(r.Context(), &audit.Entry{
		EventType:  audit.EventAccountBootstrap,
		EntityType: audit.EntityTypeAccount,
		EntityID:   a.AccountID.String(),
		Actor:      a.ActorString(),
		ActorRoles: []string{string(a.Role)},
		NewState:   string(a.Status),
		Reason:     "first admin bootstrap",
	})
	respondJSON(w, http.StatusOK, a)
}
