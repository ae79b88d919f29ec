/**
 * @description
 * Registration and login for the subscription-service. Passwords are hashed
 * with bcrypt; successful auth issues an HS256 JWT carrying the user id in the
 * subject claim.
 */
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/subhub/subscription-service/internal/domain"
)

const (
	bcryptCost = 10
	tokenTTL   = time.Hour
)

// ErrInvalidCredentials is returned when a login password does not match.
var ErrInvalidCredentials = errors.New("invalid credentials")

// UserRepository defines the data access the auth service needs.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// AuthResult carries a signed token and the authenticated user.
type AuthResult struct {
	Token string
	User  domain.User
}

// AuthService handles registration and login.
type AuthService struct {
	repo      UserRepository
	logger    *slog.Logger
	jwtSecret []byte
	now       func() time.Time
}

// NewAuthService creates a new auth service signing tokens with the given secret.
func NewAuthService(repo UserRepository, logger *slog.Logger, jwtSecret []byte) *AuthService {
	return &AuthService{
		repo:      repo,
		logger:    logger,
		jwtSecret: jwtSecret,
		now:       time.Now,
	}
}

// Register creates a user with a hashed password and returns a fresh token.
// A duplicate email surfaces as store.ErrEmailTaken.
func (a *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, err
	}

	user, err := a.repo.CreateUser(ctx, &domain.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, err
	}

	token, err := a.issueToken(user.ID.String())
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: *user}, nil
}

// Login verifies the user's credentials and returns a fresh token. An unknown
// email surfaces as store.ErrUserNotFound; a wrong password as
// ErrInvalidCredentials.
func (a *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := a.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := a.issueToken(user.ID.String())
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: *user}, nil
}

func (a *AuthService) issueToken(userID string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}
