package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// RequireOperator guards an endpoint that acts with the operator's
// authority. The request must carry "Authorization: Bearer <token>" with
// the configured operator token; a node without a token refuses every call.
func (s *Service) RequireOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.operatorToken == "" {
			s.writeError(w, http.StatusForbidden, "operator endpoints are disabled on this node")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.operatorToken)) != 1 {
			s.events.Warning(fmt.Sprintf("refused unauthenticated %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Bearer realm="ccr"`)
			s.writeError(w, http.StatusUnauthorized, "operator token required")
			return
		}
		next(w, r)
	}
}
