package httpapi

import (
	"net/http"
	"time"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/service"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/session"
)

func (h *handler) verifyKey(w http.ResponseWriter, r *http.Request) {
	identity, err := h.Auth.Authenticate(r.Context(), r.Header.Get("X-API-Key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	Claims    *session.Claims `json:"claims"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !readJSON(w, r, &req) {
		return
	}
	p, err := h.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, p)
}

func (h *handler) superAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if !readJSON(w, r, &req) {
		return
	}
	p, err := h.Users.SuperAdminLogin(r.Context(), req.Key)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, p)
}

func (h *handler) currentSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, claimsFrom(r.Context()))
}

func (h *handler) writeSession(w http.ResponseWriter, r *http.Request, status int, p *service.Principal) {
	claims := session.NewClaims(p.Role, p.User, p.Tenant)
	token, exp, err := h.Sessions.Issue(claims)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, status, sessionResponse{Token: token, ExpiresAt: exp, Claims: claims})
}
