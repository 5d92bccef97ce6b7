package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/npezzotti/go-chatsync/internal/database"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
)

type SignUpParams struct {
	Nickname string `json:"nickname" validate:"max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type SignInParams struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Authenticator signs users up and in against the user documents.
type Authenticator struct {
	db       database.ChatRepository
	validate *validator.Validate
}

func NewAuthenticator(db database.ChatRepository) *Authenticator {
	return &Authenticator{
		db:       db,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// SignUp creates the user document. A validator.ValidationErrors error is
// returned for malformed params.
func (a *Authenticator) SignUp(ctx context.Context, params SignUpParams) (database.User, error) {
	params.Nickname = strings.TrimSpace(params.Nickname)
	params.Email = strings.TrimSpace(params.Email)
	if err := a.validate.Struct(params); err != nil {
		return database.User{}, err
	}

	hash, err := hashPassword(params.Password)
	if err != nil {
		return database.User{}, fmt.Errorf("hash password: %w", err)
	}

	u, err := a.db.CreateUser(ctx, database.CreateUserParams{
		Nickname:     params.Nickname,
		Email:        params.Email,
		PasswordHash: hash,
	})
	if errors.Is(err, database.ErrAlreadyExists) {
		return database.User{}, ErrEmailTaken
	}

	return u, err
}

func (a *Authenticator) SignIn(ctx context.Context, params SignInParams) (database.User, error) {
	params.Email = strings.TrimSpace(params.Email)
	if err := a.validate.Struct(params); err != nil {
		return database.User{}, err
	}

	u, err := a.db.GetUserByEmail(ctx, params.Email)
	if errors.Is(err, database.ErrNotFound) {
		return database.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return database.User{}, err
	}

	if !verifyPassword(u.PasswordHash, params.Password) {
		return database.User{}, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
