package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"hrms/database"
	"hrms/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

type contextKey string

const UserContextKey contextKey = "user"

// Token scopes. Only access tokens open the API; the others are single
// purpose tokens handed out in the middle of a multi-step flow.
const (
	ScopeAccess    = "access"
	ScopeTwoFactor = "2fa"
	ScopeReset     = "reset"
)

type Claims struct {
	UserID    uint        `json:"user_id"`
	CIN       string      `json:"cin"`
	Role      models.Role `json:"role"`
	Scope     string      `json:"scope"`
	SessionID string      `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

var jwtSecret []byte

func SetJWTSecret(secret string) {
	jwtSecret = []byte(secret)
}

// GenerateToken issues an access token for user.
func GenerateToken(user *models.User, expiration time.Duration) (string, error) {
	return GenerateScopedToken(user, ScopeAccess, "", expiration)
}

// GenerateScopedToken issues a token limited to scope. sessionID binds the
// token to server-side state when the flow needs to revoke it.
func GenerateScopedToken(user *models.User, scope, sessionID string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:    user.ID,
		CIN:       user.CIN,
		Role:      user.Role,
		Scope:     scope,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(user.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

func ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}

// ValidateScopedToken validates tokenString and requires it to carry scope.
func ValidateScopedToken(tokenString, scope string) (*Claims, error) {
	claims, err := ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Scope != scope {
		return nil, errors.Errorf("token scope %q, want %q", claims.Scope, scope)
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return parts[1]
	}
	return ""
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := ValidateScopedToken(tokenString, ScopeAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		// Get full user from database
		var user models.User
		if err := database.GetDB().WithContext(r.Context()).First(&user, claims.UserID).Error; err != nil {
			writeError(w, http.StatusUnauthorized, "account not found")
			return
		}
		if !user.IsActive() {
			writeError(w, http.StatusUnauthorized, "account is inactive")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), &user)))
	})
}

func RequirePasswordChange(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUserFromContext(r.Context())
		if user != nil && user.MustChangePassword {
			writeError(w, http.StatusForbidden, "password change required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUserFromContext(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeError(w, http.StatusForbidden, "forbidden")
		})
	}
}

// WithUser attaches the authenticated user to ctx.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

func GetUserFromContext(ctx context.Context) *models.User {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
