// Package auth gates the admin API to staff accounts. A request
// authenticates either with HTTP Basic credentials checked against bcrypt
// hashes or with a Bearer API key carrying the "ga_" prefix.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix marks Bearer tokens that are static API keys.
	APIKeyPrefix = "ga_"

	// APIKeyMinLen is the prefix plus 32 hex characters.
	APIKeyMinLen = len(APIKeyPrefix) + 32

	apiKeyBytes = 16

	realm = `Basic realm="gallery-admin", charset="UTF-8"`
)

type contextKey int

const (
	ctxUserID contextKey = iota
	ctxRemoteIP
)

// RequestUserID returns the authenticated user ID from the context, or "".
func RequestUserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxUserID).(string)
	return v
}

// RequestRemoteIP returns the client IP from the context, or "".
func RequestRemoteIP(ctx context.Context) string {
	v, _ := ctx.Value(ctxRemoteIP).(string)
	return v
}

// WithUser returns a context carrying userID, as the middleware does.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserID, userID)
}

// Users maps usernames to bcrypt password hashes.
type Users map[string]string

// APIKey is a static key and the user it acts as.
type APIKey struct {
	UserID string
	Key    string
}

type hashedKey struct {
	userID string
	hash   [sha256.Size]byte
}

// Gate checks request credentials.
type Gate struct {
	users  Users
	keys   []hashedKey
	logger *slog.Logger

	// verified caches the SHA-256 of credentials that already passed a
	// bcrypt check so repeat requests skip the slow comparison.
	verified sync.Map
}

var (
	dummyOnce sync.Once
	dummyHash []byte
)

// dummy is compared against for unknown usernames so the response time
// does not reveal which usernames exist.
func dummy() []byte {
	dummyOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
	})

	return dummyHash
}

// NewGate builds a gate from configured users and API keys.
func NewGate(users Users, keys []APIKey, logger *slog.Logger) *Gate {
	g := &Gate{
		users:  users,
		logger: logger.With(slog.String("component", "auth")),
	}

	for _, k := range keys {
		g.keys = append(g.keys, hashedKey{userID: k.UserID, hash: sha256.Sum256([]byte(k.Key))})
	}

	return g
}

// Authenticate returns the user a request acts as.
func (g *Gate) Authenticate(r *http.Request) (string, bool) {
	if user, pass, ok := r.BasicAuth(); ok {
		return g.checkPassword(user, pass)
	}

	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}

	token := strings.TrimPrefix(header, "Bearer ")
	if !strings.HasPrefix(token, APIKeyPrefix) {
		return "", false
	}

	return g.checkAPIKey(token)
}

func (g *Gate) checkPassword(user, password string) (string, bool) {
	cacheKey := sha256.Sum256([]byte(user + "\x00" + password))
	if v, ok := g.verified.Load(cacheKey); ok {
		return v.(string), true
	}

	hash, known := g.users[user]
	if !known {
		_ = bcrypt.CompareHashAndPassword(dummy(), []byte(password))
		return "", false
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", false
	}

	g.verified.Store(cacheKey, user)

	return user, true
}

// checkAPIKey compares SHA-256 digests so every comparison has the same
// length, and walks every key so timing does not depend on position.
func (g *Gate) checkAPIKey(token string) (string, bool) {
	sum := sha256.Sum256([]byte(token))

	var match string

	for _, k := range g.keys {
		if subtle.ConstantTimeCompare(sum[:], k.hash[:]) == 1 {
			match = k.userID
		}
	}

	return match, match != ""
}

// Middleware rejects unauthenticated requests with 401 and injects the
// user and remote IP into the context of the rest.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		user, ok := g.Authenticate(r)
		if !ok {
			g.logger.Debug("middleware: rejected request",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("WWW-Authenticate", realm)
			http.Error(w, "unauthorized", http.StatusUnauthorized)

			return
		}

		g.logger.Debug("middleware: authenticated",
			slog.String("user_id", user),
			slog.String("ip", ip),
		)

		ctx := WithUser(r.Context(), user)
		ctx = context.WithValue(ctx, ctxRemoteIP, ip)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HashPassword returns the bcrypt hash stored in ADMIN_USERS.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// GenerateAPIKey returns a fresh random API key.
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return APIKeyPrefix + hex.EncodeToString(b), nil
}
