package server

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/creachadair/jrpc2"
	"github.com/warpdl/warpnet/pkg/logger"
)

const bearerPrefix = "Bearer "

// requireToken wraps an http.Handler with Bearer token authentication.
// Failures get a JSON-RPC 2.0 error body with HTTP 401. An empty secret
// rejects every request.
func requireToken(secret string, l logger.Logger, next http.Handler) http.Handler {
	l = logger.OrNop(l)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !validToken(secret, r.Header.Get("Authorization")) {
			l.Warning("Rejected unauthenticated %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
			writeRPCError(w, http.StatusUnauthorized, jrpc2.InvalidRequest, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// validToken checks an Authorization header against secret in constant time.
func validToken(secret, authHeader string) bool {
	if secret == "" {
		return false
	}
	token, ok := strings.CutPrefix(authHeader, bearerPrefix)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}

func writeRPCError(w http.ResponseWriter, status int, code jrpc2.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
		"id": nil,
	})
}
