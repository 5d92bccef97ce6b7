package api

import (
	"errors"
	"fmt"
	"net/http"
)

func (s *ChatSyncApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// tokenUserId returns the user id of the request's token cookie. It
// returns http.ErrNoCookie when the request carries no token.
func (s *ChatSyncApp) tokenUserId(r *http.Request) (string, error) {
	tokenCookie, err := r.Cookie(tokenCookieKey)
	if err != nil {
		return "", err
	}

	return s.extractUserIdFromToken(tokenCookie.Value)
}

func (s *ChatSyncApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userId, err := s.tokenUserId(r)
		if err != nil {
			if !errors.Is(err, http.ErrNoCookie) {
				s.log.Printf("failed to extract user id from token: %v", err)
			}
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}

// optionalAuthMiddleware lets requests without a valid token through
// without a user id.
func (s *ChatSyncApp) optionalAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userId, err := s.tokenUserId(r)
		if err != nil {
			if !errors.Is(err, http.ErrNoCookie) {
				s.log.Printf("ignoring invalid token: %v", err)
			}
			next(w, r)
			return
		}

		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}
