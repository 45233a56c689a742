package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/groupflow/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator проверяет Bearer-токен и отдает его claims.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const (
	userIDKey ctxKey = "user_id"
	rankKey   ctxKey = "user_rank"
)

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil || claims.UserID == "" {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), claims.UserID, claims.Rank)))
		})
	}
}

// WithUser прокидывает личность пользователя в контекст.
func WithUser(ctx context.Context, userID, rank string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, rankKey, rank)
}

// UserID: аутентифицированный пользователь, пустая строка вне защищенного периметра.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// Rank возвращает ранг из токена. Только для отображения, права проверяются по БД.
func Rank(ctx context.Context) string {
	rank, _ := ctx.Value(rankKey).(string)
	return rank
}
