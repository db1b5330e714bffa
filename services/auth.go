package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IdentityService attributes requests to a caller for audit purposes. There
// is no login flow: a bearer token, when present and verifiable, supplies
// the caller id; otherwise the request proceeds anonymously with a fresh id.
type IdentityService struct {
	jwtSecret []byte
}

type CallerClaims struct {
	CallerID string `json:"caller_id"`
	jwt.RegisteredClaims
}

func NewIdentityService(jwtSecret string) *IdentityService {
	return &IdentityService{jwtSecret: []byte(jwtSecret)}
}

// ParseToken verifies a bearer token and extracts the caller id from it.
func (s *IdentityService) ParseToken(token string) (string, error) {
	claims := &CallerClaims{}

	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}
	if !parsed.Valid {
		return "", fmt.Errorf("invalid token")
	}

	if claims.CallerID != "" {
		return claims.CallerID, nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", fmt.Errorf("token carries no caller identity")
}

// Middleware resolves the caller id for every request. Unverifiable or
// absent tokens fall back to an anonymous id rather than rejecting the
// request; identity here exists for attribution, not access control.
func (s *IdentityService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callerID := ""

		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			if id, err := s.ParseToken(token); err == nil {
				callerID = id
			}
		}
		if callerID == "" {
			callerID = "anon-" + uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), "caller_id", callerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CallerID reads the resolved caller id off a request context.
func CallerID(ctx context.Context) string {
	if id, ok := ctx.Value("caller_id").(string); ok {
		return id
	}
	return ""
}
