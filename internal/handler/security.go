package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/john25coder/pizzaria-app/internal/domain/auth"
)

// APIKeyHeader carries the back-office API key.
const APIKeyHeader = "api_key"

// HashAPIKey returns the hex HMAC-SHA256 of key under pepper, the form in
// which keys are stored.
func HashAPIKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// RequireAPIKey authenticates requests by the HMAC-SHA256 of the presented
// API key and requires the key to carry scope.
func (h *Handler) RequireAPIKey(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				key = r.Header.Get("X-API-Key")
			}
			if key == "" {
				writeMessage(w, http.StatusUnauthorized, "missing api key")
				return
			}

			info, err := h.authenticate(r, key)
			if err != nil {
				writeMessage(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !info.HasScope(scope) {
				writeMessage(w, http.StatusForbidden, "api key lacks required scope")
				return
			}

			ctx := zctx.With(r.Context(), zap.String("api_key", info.Name))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (h *Handler) authenticate(r *http.Request, key string) (*auth.APIKeyInfo, error) {
	hexHash := HashAPIKey(h.pepper, key)

	info, err := h.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		if !errors.Is(err, auth.ErrKeyNotFound) {
			zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
		}
		return nil, err
	}

	// The stored row must match the computed hash, not merely be returned.
	want, err := hex.DecodeString(hexHash)
	if err != nil {
		return nil, err
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(want, stored) != 1 {
		return nil, errors.New("api key hash mismatch")
	}
	return info, nil
}
