package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xela07ax/groupflow/internal/domain"
	"github.com/xela07ax/groupflow/internal/infra/auth"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials: не уточняем, что именно неверно (логин или пароль).
var ErrInvalidCredentials = errors.New("invalid credentials")

type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
}

type AuthService struct {
	users      UserStore
	signer     *auth.Signer
	bcryptCost int
}

func NewAuthService(users UserStore, signer *auth.Signer, bcryptCost int) *AuthService {
	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &AuthService{users: users, signer: signer, bcryptCost: bcryptCost}
}

// GenerateToken аутентифицирует пользователя и выпускает RS256 токен.
func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	// 1. Аутентификация (Источник правды: БД)
	user, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	// 2. Проверка пароля
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. Подпись токена
	return s.signer.Sign(user)
}

// Register заводит локальную учетную запись.
func (s *AuthService) Register(ctx context.Context, username, email, password, rank string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	switch {
	case username == "":
		return nil, domain.Invalid("username", "is required")
	case !strings.Contains(email, "@"):
		return nil, domain.Invalid("email", "must be an address")
	case len(password) < 8:
		return nil, domain.Invalid("password", "must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &domain.User{
		Email:        email,
		Username:     username,
		DisplayName:  username,
		PasswordHash: string(hash),
		Rank:         rank,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}
	return user, nil
}
