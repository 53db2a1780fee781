package v1

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Caller identity travels in headers; the gateway in front of the engine is
// responsible for authenticating and stamping them.
const (
	headerCallerID    = "X-Caller-ID"
	headerCallerRoles = "X-Caller-Roles"
)

// Role capabilities checked on mutating routes. admin implies the others.
const (
	roleAdmin      = "admin"
	rolePoster     = "poster"
	roleReconciler = "reconciler"
)

const ctxKeyCaller ctxKey = "caller"

// caller is the identity extracted from the request headers.
type caller struct {
	ID    uuid.UUID
	Roles []string
}

func (c caller) hasRole(role string) bool {
	for _, r := range c.Roles {
		if strings.EqualFold(r, role) || strings.EqualFold(r, roleAdmin) {
			return true
		}
	}
	return false
}

// callerContext parses the identity headers into the request context. Absent
// or malformed headers leave a zero caller; enforcement happens per route.
func callerContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c caller
		if raw := strings.TrimSpace(r.Header.Get(headerCallerID)); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				c.ID = id
			}
		}
		if raw := strings.TrimSpace(r.Header.Get(headerCallerRoles)); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				if role := strings.TrimSpace(part); role != "" {
					c.Roles = append(c.Roles, role)
				}
			}
		}
		ctx := context.WithValue(r.Context(), ctxKeyCaller, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(ctx context.Context) caller {
	c, _ := ctx.Value(ctxKeyCaller).(caller)
	return c
}

// requireRole guards a mutating route. With enforcement off it passes every
// request through, so a bare deployment works without a gateway.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.enforce {
				next.ServeHTTP(w, r)
				return
			}
			c := callerFrom(r.Context())
			if c.ID == uuid.Nil {
				writeErr(w, http.StatusUnauthorized, "caller identity required", "unauthorized")
				return
			}
			if !c.hasRole(role) {
				writeErr(w, http.StatusForbidden, "missing role "+role, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
