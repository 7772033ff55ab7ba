package httpmiddleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/fresh-pickup/internal/domain/auth"
)

// APIKeyHeader is the header storefront clients send their key in.
const APIKeyHeader = "X-API-Key"

// KeyAuthenticator validates a raw API key.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

type apiKeyInfoKey struct{}

// APIKeyFromContext returns the caller's key info set by RequireAPIKey.
func APIKeyFromContext(ctx context.Context) (*auth.APIKeyInfo, bool) {
	info, ok := ctx.Value(apiKeyInfoKey{}).(*auth.APIKeyInfo)
	return info, ok
}

// APIKey extracts the key from X-API-Key or an "Authorization: Bearer"
// header.
func APIKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(APIKeyHeader)); k != "" {
		return k
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// RequireAPIKey rejects requests without a valid API key with 401.
func RequireAPIKey(a KeyAuthenticator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := a.Authenticate(r.Context(), APIKey(r))
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				zctx.From(r.Context()).Error("Authenticate API key", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		ctx := context.WithValue(r.Context(), apiKeyInfoKey{}, info)
		ctx = zctx.With(ctx, zap.String("api_key", info.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
