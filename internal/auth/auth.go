// Package auth is the host application's bearer token check. It verifies
// HS256 tokens, attaches the user id to the request context for admission
// control, and keeps revoked token ids in the shared store.
package auth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"
	"time"

	"admission-gateway/internal/common/errors"
	"admission-gateway/internal/common/logging"
	"admission-gateway/internal/requestctx"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer           = "admission-gateway"
	revokedKeyPrefix = "revoked:"
	defaultTokenTTL  = 24 * time.Hour
)

// Token error codes
const (
	CodeTokenInvalid = "TOKEN_INVALID"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeTokenRevoked = "TOKEN_REVOKED"
)

// TokenStore keeps revoked token ids with a native TTL
type TokenStore interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type Auth struct {
	secret []byte
	store  TokenStore
	logger logging.Logger
	now    func() time.Time
}

func New(secret string, store TokenStore, logger logging.Logger) *Auth {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Auth{
		secret: []byte(secret),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// GenerateJWT issues a signed token for userID. A zero ttl means 24 hours.
func (a *Auth) GenerateJWT(userID, username string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	now := a.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.InternalError("failed to sign token", err)
	}
	return token, nil
}

// ValidateJWT verifies signature, expiry and revocation. A store failure
// while checking revocation is logged and the token is accepted.
func (a *Auth) ValidateJWT(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.ValidationError("token has expired").WithCode(CodeTokenExpired)
		}
		return nil, errors.ValidationError("invalid token").WithCode(CodeTokenInvalid)
	}
	if claims.UserID == "" {
		return nil, errors.ValidationError("token has no user").WithCode(CodeTokenInvalid)
	}

	if claims.ID != "" && a.store != nil {
		revoked, err := a.store.Exists(ctx, revokedKeyPrefix+claims.ID)
		if err != nil {
			a.logger.Warn("Revocation check failed, accepting token",
				logging.String("jti", claims.ID),
				logging.Err(err),
			)
		}
		if revoked {
			return nil, errors.ValidationError("token has been revoked").WithCode(CodeTokenRevoked)
		}
	}

	return claims, nil
}

// Revoke marks the token id as revoked until the token would have expired
func (a *Auth) Revoke(ctx context.Context, claims *Claims) error {
	if claims.ID == "" {
		return errors.ValidationError("token has no id")
	}
	if a.store == nil {
		return errors.ConfigError("no token store configured")
	}

	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if remaining := claims.ExpiresAt.Sub(a.now()); remaining > 0 {
			ttl = remaining
		}
	}
	return a.store.Set(ctx, revokedKeyPrefix+claims.ID, claims.UserID, ttl)
}

// Middleware attaches the user id of a valid bearer token to the request
// context. It never rejects: requests without a token pass through
// anonymously and a bad token is recorded for Reject, so admission still
// sees every request.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := a.ValidateJWT(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenErrKey{}, err)))
			return
		}

		ctx := requestctx.WithUserID(r.Context(), claims.UserID)
		next.ServeHTTP(w, r.WithContext(withClaims(ctx, claims)))
	})
}

// Reject answers 401 for requests whose bearer token failed validation in
// Middleware. It belongs after admission in the chain.
func (a *Auth) Reject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err, ok := r.Context().Value(tokenErrKey{}).(error); ok {
			writeUnauthorized(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LogoutHandler revokes the bearer token of the request
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, errors.ValidationError("authentication required").WithCode(CodeTokenInvalid))
		return
	}
	if err := a.Revoke(r.Context(), claims); err != nil {
		a.logger.Error("Failed to revoke token", err, logging.String("user_id", claims.UserID))
		http.Error(w, "Failed to revoke token", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type claimsKey struct{}

type tokenErrKey struct{}

func withClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims of the authenticated request
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	code := CodeTokenInvalid
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && appErr.Code != "" {
		code = appErr.Code
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error": map[string]string{
			"code":    code,
			"message": "Authentication required",
		},
	})
}
