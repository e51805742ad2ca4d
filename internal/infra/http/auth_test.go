package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

func protected(t *testing.T, secret string) http.Handler {
	t.Helper()
	return JWTMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := Operator(r.Context())
		if !ok {
			t.Errorf("нет утверждений в контексте")
		}
		_, _ = w.Write([]byte(claims.Subject))
	}))
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	token, err := IssueOperatorToken("secret", "moderator", time.Hour)
	if err != nil {
		t.Fatalf("не удалось выпустить токен: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/drafts", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(t, "secret").ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "moderator" {
		t.Fatalf("ожидали 200 и subject, получили %d %q", rec.Code, rec.Body.String())
	}
}

func TestJWTMiddlewareRejects(t *testing.T) {
	good, _ := IssueOperatorToken("secret", "m", time.Hour)
	expired, _ := IssueOperatorToken("secret", "m", -time.Minute)
	foreign, _ := IssueOperatorToken("other", "m", time.Hour)
	noAudience, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("secret"))

	cases := map[string]string{
		"missing":     "",
		"not bearer":  "Basic " + good,
		"expired":     "Bearer " + expired,
		"wrong key":   "Bearer " + foreign,
		"no audience": "Bearer " + noAudience,
		"garbage":     "Bearer abc.def.ghi",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			protected(t, "secret").ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("ожидали 401, получили %d", rec.Code)
			}
		})
	}
}

func TestServerHealthz(t *testing.T) {
	srv := NewServer(zerolog.Nop())
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидали 200, получили %d", rec.Code)
	}
}
