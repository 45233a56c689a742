package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/groupflow/internal/domain"
)

// Issuer: значение iss в токенах консоли.
const Issuer = "groupflow-console"

// ErrInvalidToken: подпись, срок или издатель токена не прошли проверку.
var ErrInvalidToken = errors.New("invalid token")

// clockSkew: допуск на расхождение часов между консолью и клиентами.
const clockSkew = 30 * time.Second

// Verifier проверяет токены консоли ОТКРЫТЫМ КЛЮЧОМ (RS256).
type Verifier struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

func NewVerifier(pubKey *rsa.PublicKey) *Verifier {
	return &Verifier{
		publicKey: pubKey,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// VerifyToken принимает значение заголовка Authorization ("Bearer <token>") или голый токен.
func (v *Verifier) VerifyToken(header string) (*domain.CustomClaims, error) {
	raw := strings.TrimSpace(header)
	if scheme, token, ok := strings.Cut(raw, " "); ok && strings.EqualFold(scheme, "Bearer") {
		raw = strings.TrimSpace(token)
	}

	claims := &domain.CustomClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Signer выпускает токены консоли ЗАКРЫТЫМ КЛЮЧОМ (RS256).
type Signer struct {
	privateKey *rsa.PrivateKey
	ttl        time.Duration
	now        func() time.Time
}

func NewSigner(privateKey *rsa.PrivateKey, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Signer{privateKey: privateKey, ttl: ttl, now: time.Now}
}

// Sign кладет в токен ID и ранг пользователя.
func (s *Signer) Sign(user *domain.User) (*domain.TokenResponse, error) {
	now := s.now()
	claims := &domain.CustomClaims{
		UserID: user.ID,
		Rank:   user.Rank,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &domain.TokenResponse{
		AccessToken: signed,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}

// ParseRSAPublicKey превращает []byte в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// ParseRSAPrivateKey превращает []byte в объект для подписи (только для Console)
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
