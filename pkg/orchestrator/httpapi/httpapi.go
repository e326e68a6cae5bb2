// Package httpapi exposes the orchestrator's only inbound surface: a
// JWT-authenticated endpoint that triggers a single request-triggered run for
// one source, per spec §4.G. Grounded on the teacher's auth.NewMiddleware
// (parse Bearer header, validate via golang-jwt/jwt/v5, fail closed) and
// identity.TokenManager's claims shape, trimmed to what a trigger endpoint
// needs: a principal identifier and no tenant/role modeling (spec's
// Non-goals exclude auth/multi-tenant isolation beyond this one check).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sanctionswatch/core/pkg/orchestrator"
	"github.com/sanctionswatch/core/pkg/sanctions"
)

// Claims is the minimal JWT claim set the trigger endpoint requires: a
// subject identifying the caller, nothing source-specific (any authenticated
// caller may trigger any configured source).
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates a bearer token and returns its claims.
type Verifier struct {
	keyFunc jwt.Keyfunc
}

// NewVerifier builds a Verifier from a key-lookup function, the same
// KeySet.KeyFunc() shape the teacher's identity package exposes.
func NewVerifier(keyFunc jwt.Keyfunc) *Verifier {
	return &Verifier{keyFunc: keyFunc}
}

func (v *Verifier) validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// Handler serves POST /runs/{source} by invoking Orchestrator.RunOnce.
type Handler struct {
	orch     *orchestrator.Orchestrator
	verifier *Verifier
	sources  map[sanctions.Source]orchestrator.SourceConfig
}

// NewHandler builds the request-triggered run handler.
func NewHandler(orch *orchestrator.Orchestrator, verifier *Verifier, sources map[sanctions.Source]orchestrator.SourceConfig) *Handler {
	return &Handler{orch: orch, verifier: verifier, sources: sources}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
		return
	}
	if h.verifier == nil {
		writeError(w, http.StatusUnauthorized, "authentication not configured")
		return
	}
	if _, err := h.verifier.validate(parts[1]); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	source := sanctions.Source(strings.TrimPrefix(r.URL.Path, "/runs/"))
	cfg, ok := h.sources[source]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}

	run, err := h.orch.RunOnce(r.Context(), cfg)
	if err != nil {
		if err == sanctions.ErrRunBusy {
			writeError(w, http.StatusConflict, "source already has a running scraper run")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
