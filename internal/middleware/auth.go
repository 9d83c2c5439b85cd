package middleware

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
)

type contextKey string

// IdentityKey is the request-context key holding the authenticated identity.
const IdentityKey contextKey = "identity"

// Identity is the resolved caller attached to the request context by
// Authenticate. TicketBalance is a snapshot derived from the ledger at
// gate time; money paths recompute it under a row lock before spending.
type Identity struct {
	ID                 int64  `json:"id"`
	Email              string `json:"email"`
	Username           string `json:"username"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	TicketBalance      int64  `json:"ticketBalance"`
	SubscriptionStatus string `json:"subscriptionStatus"`
	IsAdmin            bool   `json:"isAdmin"`
}

// Claims is the JWT payload: the subject user id plus registered claims.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

var (
	authDB    *sql.DB
	authRedis *redis.Client
)

// InitAuthMiddleware wires the gate to its stores. The redis client may be
// nil; blacklist checks are skipped in that case.
func InitAuthMiddleware(db *sql.DB, rdb *redis.Client) {
	authDB = db
	authRedis = rdb
}

// GenerateToken issues a signed bearer token for a user.
func GenerateToken(userID int64) (string, error) {
	viper.SetDefault("jwt.expiry_hours", 720) // 30 days
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

// Authenticate verifies the bearer token, resolves the user and attaches the
// identity to the request context. A well-formed token whose user no longer
// exists is treated as unauthenticated, not a server error.
func Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := resolveIdentity(r)
		if err != nil {
			sendAuthError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), IdentityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OptionalAuth never rejects: on any token problem the request proceeds with
// no identity, for endpoints that render differently for anonymous callers.
func OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity, err := resolveIdentity(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), IdentityKey, identity))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin must run after Authenticate. It is a pure predicate over the
// established identity.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFrom(r.Context())
		if !ok {
			sendAuthError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !identity.IsAdmin {
			log.Printf("[AUTH] Admin access denied for user %d", identity.ID)
			sendAuthError(w, http.StatusForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IdentityFrom extracts the authenticated identity from a request context.
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityKey).(*Identity)
	return identity, ok
}

func resolveIdentity(r *http.Request) (*Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errors.New("No token provided")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, errors.New("Invalid authorization header format")
	}
	tokenString := parts[1]

	if authRedis != nil {
		key := fmt.Sprintf("blacklist:%s", tokenString)
		if exists, err := authRedis.Exists(r.Context(), key).Result(); err == nil && exists > 0 {
			return nil, errors.New("Token revoked")
		}
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("Invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("Invalid token claims")
	}

	identity := &Identity{ID: claims.UserID}
	var role string
	err = authDB.QueryRow(`
		SELECT u.email, u.username, u.first_name, u.last_name, u.subscription_status, u.role,
		       COALESCE((SELECT SUM(t.amount) FROM ticket_transactions t WHERE t.user_id = u.id), 0)
		FROM users u WHERE u.id = $1
	`, claims.UserID).Scan(&identity.Email, &identity.Username, &identity.FirstName,
		&identity.LastName, &identity.SubscriptionStatus, &role, &identity.TicketBalance)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.New("User not found")
		}
		log.Printf("[AUTH] Identity lookup failed for user %d: %v", claims.UserID, err)
		return nil, errors.New("Authentication failed")
	}
	identity.IsAdmin = role == "admin"

	return identity, nil
}

func sendAuthError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
