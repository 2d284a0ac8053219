package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"chat-backend/internal/auth"
)

type LoginRequest struct {
	UserID string `json:"userId"`
}

// AuthService exposes session issuance. It is mounted outside the session
// middleware; everything else requires the cookie it sets.
type AuthService struct {
	sessions *auth.Sessions
	secure   bool
}

func NewAuthService(sessions *auth.Sessions, secureCookies bool) *AuthService {
	return &AuthService{sessions: sessions, secure: secureCookies}
}

func (s *AuthService) AddRoutes(r chi.Router) {
	r.Post("/login", s.Login)
}

func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest[LoginRequest](r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if req.UserID == "" {
		WriteError(w, CodedErrorf(http.StatusBadRequest, "missing userId"))
		return
	}

	token, err := s.sessions.Issue(r.Context(), req.UserID)
	if err != nil {
		WriteError(w, CodedErrorf(http.StatusInternalServerError, "failed to create session: %v", err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	WriteJsonResponse(w, struct{}{})
}
