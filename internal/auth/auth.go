// Package auth issues and verifies session tokens carried in a cookie, and
// provides the middleware that gates every /api route on a valid session.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"chat-backend/internal/database"
)

const SessionCookie = "session_token"

const DefaultSessionTTL = 30 * 24 * time.Hour

var ErrInvalidSession = errors.New("invalid or expired session")

type contextKey int

const userIDKey contextKey = iota

type Sessions struct {
	db  *gorm.DB
	ttl time.Duration
}

func NewSessions(db *gorm.DB, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{db: db, ttl: ttl}
}

// Issue creates a new session for userID and returns the token to set as the
// session cookie.
func (s *Sessions) Issue(ctx context.Context, userID string) (string, error) {
	session := database.AuthSession{
		Token:        uuid.NewString(),
		UserID:       userID,
		CreationTime: time.Now().UTC(),
		ExpiryTime:   time.Now().UTC().Add(s.ttl),
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		slog.Error("error creating session", "user_id", userID, "error", err)
		return "", err
	}
	return session.Token, nil
}

// Verify resolves a session token to its user id.
func (s *Sessions) Verify(ctx context.Context, token string) (string, error) {
	var session database.AuthSession
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrInvalidSession
	}
	if err != nil {
		return "", err
	}
	if time.Now().UTC().After(session.ExpiryTime) {
		return "", ErrInvalidSession
	}
	return session.UserID, nil
}

// Middleware rejects requests without a valid session cookie and attaches the
// authenticated user id to the request context.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookie)
		if err != nil {
			http.Error(w, "missing session", http.StatusUnauthorized)
			return
		}

		userID, err := s.Verify(r.Context(), cookie.Value)
		if errors.Is(err, ErrInvalidSession) {
			http.Error(w, "invalid or expired session", http.StatusUnauthorized)
			return
		}
		if err != nil {
			slog.Error("error verifying session", "error", err)
			http.Error(w, "session verification failed", http.StatusInternalServerError)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// UserID returns the authenticated user id attached by Middleware.
func UserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
