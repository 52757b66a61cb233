package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// OperatorKey is the context key holding the authenticated operator name.
const OperatorKey = contextKey("operator")

const tokenIssuer = "creative-qa"

var ErrInvalidToken = errors.New("invalid token")

// OperatorClaims identifies the human acting on incidents.
type OperatorClaims struct {
	Operator string `json:"operator"`
	jwt.RegisteredClaims
}

// IssueOperatorToken signs an HS256 token for operator valid for ttl.
func IssueOperatorToken(secret, operator string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("signing secret is empty")
	}
	now := time.Now()
	claims := OperatorClaims{
		Operator: operator,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   operator,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseOperatorToken validates tokenString against secret and returns its claims.
func ParseOperatorToken(secret, tokenString string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid || claims.Operator == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// OperatorAuth requires a bearer token signed with secret and stores the
// operator name in the request context. An empty secret disables the check and
// takes the operator from the X-Operator header instead.
func OperatorAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				op := r.Header.Get("X-Operator")
				if op == "" {
					op = "anonymous"
				}
				next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), op)))
				return
			}

			auth := r.Header.Get("Authorization")
			tokenString, found := strings.CutPrefix(auth, "Bearer ")
			if !found || tokenString == "" {
				writeUnauthorized(w, "missing bearer token")
				return
			}
			claims, err := ParseOperatorToken(secret, tokenString)
			if err != nil {
				writeUnauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), claims.Operator)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = fmt.Fprintf(w, "{\"error\":%q}\n", msg)
}

// WithOperator returns a copy of ctx carrying operator.
func WithOperator(ctx context.Context, operator string) context.Context {
	return context.WithValue(ctx, OperatorKey, operator)
}

// GetOperator returns the operator in ctx or "".
func GetOperator(ctx context.Context) string {
	if op, ok := ctx.Value(OperatorKey).(string); ok {
		return op
	}
	return ""
}
