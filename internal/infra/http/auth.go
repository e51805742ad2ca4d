package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const operatorAudience = "autopost-dashboard"

type ctxKey struct{}

// OperatorClaims — утверждения токена оператора панели.
type OperatorClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var (
	errMissingToken = errors.New("токен отсутствует")
	errInvalidToken = errors.New("токен недействителен")
)

// IssueOperatorToken выпускает HS256-токен оператора.
func IssueOperatorToken(secret, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := OperatorClaims{
		Role: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{operatorAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// JWTMiddleware пропускает только запросы с действующим Bearer-токеном.
func JWTMiddleware(secret string) func(http.Handler) http.Handler {
	key := []byte(secret)
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(operatorAudience),
		jwt.WithExpirationRequired(),
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				WriteError(w, http.StatusUnauthorized, errMissingToken)
				return
			}
			claims := &OperatorClaims{}
			token, err := parser.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				WriteError(w, http.StatusUnauthorized, errInvalidToken)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
		})
	}
}

// Operator возвращает утверждения токена из контекста запроса.
func Operator(ctx context.Context) (*OperatorClaims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*OperatorClaims)
	return claims, ok
}
