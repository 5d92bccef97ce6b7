package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/samber/lo"
)

func (s *ChatSyncApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatSyncApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Println(errResp.Error())
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func toUser(u database.User) types.User {
	return types.User{
		Id:        u.Id,
		Nickname:  u.Nickname,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

func (s *ChatSyncApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.db.Ping(ctx); err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatSyncApp) signInResponse(w http.ResponseWriter, statusCode int, dbUser database.User) {
	u := toUser(dbUser)

	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))
	s.writeJson(w, statusCode, u)
}

func (s *ChatSyncApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req session.SignUpParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	newUser, err := s.auth.SignUp(r.Context(), req)
	if err != nil {
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			s.writeError(w, NewValidationError(verrs))
		case errors.Is(err, session.ErrEmailTaken):
			s.writeError(w, NewConflictError(err.Error()))
		default:
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.signInResponse(w, http.StatusCreated, newUser)
}

func (s *ChatSyncApp) login(w http.ResponseWriter, r *http.Request) {
	var req session.SignInParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbUser, err := s.auth.SignIn(r.Context(), req)
	if err != nil {
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			s.writeError(w, NewValidationError(verrs))
		case errors.Is(err, session.ErrInvalidCredentials):
			s.writeError(w, NewUnauthorizedError())
		default:
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.signInResponse(w, http.StatusOK, dbUser)
}

func (s *ChatSyncApp) getSession(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetUserById(r.Context(), userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewNotFoundError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	s.writeJson(w, http.StatusOK, toUser(user))
}

func (s *ChatSyncApp) logout(w http.ResponseWriter, _ *http.Request) {
	// expired cookie makes the browser drop the token
	http.SetCookie(w, createJwtCookie("", -time.Hour))
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatSyncApp) searchUsers(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	users, err := s.db.SearchUsers(r.Context(), query)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	others := lo.Filter(users, func(u database.User, _ int) bool {
		return u.Id != userId
	})
	s.writeJson(w, http.StatusOK, lo.Map(others, func(u database.User, _ int) types.User {
		return toUser(u)
	}))
}

func (s *ChatSyncApp) serveWs(w http.ResponseWriter, r *http.Request) {
	// empty when the request carries no valid token
	userId, _ := UserId(r.Context())

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	// the request context ends with this handler, the connection does not
	provider := session.NewTokenProvider(context.Background(), s.db, userId, s.log)
	client := server.NewClient(conn, s.cs, provider, s.log)

	if err := s.cs.Register(client); err != nil {
		s.log.Println("register client:", err)
		conn.Close()
		return
	}
	go client.Write()
	go client.Read()
}
