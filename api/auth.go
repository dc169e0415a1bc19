package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/smartkhata/khata-engine/khata"
	"github.com/smartkhata/khata-engine/logging"
)

type ctxKey string

const ownerIDKey ctxKey = "owner_id"

// RequireOwner verifies the HS256 bearer token and stores the owner id
// (claim "sub", or "owner_id" for older tokens) in the request context.
func RequireOwner(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "Missing auth token", nil)
				return
			}

			ownerID, err := parseOwnerToken(strings.TrimPrefix(header, "Bearer "), secret)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "Invalid token", err)
				return
			}

			ctx := context.WithValue(r.Context(), ownerIDKey, ownerID)
			logger := logging.FromContext(ctx).With(logging.FieldOwnerID, string(ownerID))
			ctx = logging.NewContext(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseOwnerToken(tokenStr string, secret []byte) (khata.OwnerID, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	for _, key := range []string{"sub", "owner_id"} {
		if id, ok := claims[key].(string); ok && strings.TrimSpace(id) != "" {
			return khata.OwnerID(id), nil
		}
	}
	return "", errors.New("owner id missing")
}

// OwnerFromContext returns the authenticated owner.
func OwnerFromContext(ctx context.Context) (khata.OwnerID, bool) {
	id, ok := ctx.Value(ownerIDKey).(khata.OwnerID)
	return id, ok && id != ""
}
