// Package httpx holds the thin, shared pieces of the HTTP boundary: the
// errorsx.Kind -> status code mapping (spec.md §7) and a uniform JSON
// envelope, used by both the orchestrator and auditor HTTP surfaces so
// neither reimplements error translation.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/clearcoreai/orchestrator/internal/corelog"
	"github.com/clearcoreai/orchestrator/internal/errorsx"
)

// StatusFor maps a core error Kind to the HTTP status code the boundary
// must answer with. Kinds not in the table default to 500.
func StatusFor(kind errorsx.Kind) int {
	switch kind {
	case errorsx.KindMissingField:
		return http.StatusBadRequest
	case errorsx.KindNotFound:
		return http.StatusNotFound
	case errorsx.KindUnreachableAgent:
		return http.StatusBadRequest
	case errorsx.KindBadManifest:
		return http.StatusBadRequest
	case errorsx.KindUnsupportedGoal:
		return http.StatusUnprocessableEntity
	case errorsx.KindNoExecutableSteps:
		return http.StatusInternalServerError
	case errorsx.KindPolicyDiscoveryError:
		return http.StatusUnprocessableEntity
	case errorsx.KindLLMError:
		return http.StatusInternalServerError
	case errorsx.KindPersistenceError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON encodes v as the response body with the given status code.
func WriteJSON(w http.ResponseWriter, logger corelog.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// WriteError maps err to a status code via StatusFor (defaulting unknown
// errors to 500) and writes {"detail": "..."}.
func WriteError(w http.ResponseWriter, logger corelog.Logger, err error) {
	status := StatusFor(errorsx.KindOf(err))
	WriteJSON(w, logger, status, map[string]string{"detail": err.Error()})
}
