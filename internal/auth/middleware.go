package auth

import (
	"net/http"
	"strings"
)

// FarmGate authenticates farm owners and staff by bearer token and admits
// them according to Policy. Admitted requests carry the token's farm scope,
// role and subject in their context.
type FarmGate struct {
	secret []byte
	policy Policy
}

// NewFarmGate constructs a gate for tokens signed with secret.
func NewFarmGate(secret []byte, policy Policy) *FarmGate {
	return &FarmGate{secret: secret, policy: policy}
}

// Wrap guards next. Open routes pass untouched; a missing or invalid token
// is 401 and a role below the route's minimum is 403.
func (g *FarmGate) Wrap(next http.Handler) http.Handler {
	if g == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		minimum, guarded := g.minimumRole(r)
		if !guarded {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := ParseJWT(bearerToken(r), g.secret)
		if err != nil {
			http.Error(w, "farm login required", http.StatusUnauthorized)
			return
		}
		role, _ := NormalizeRole(claims.Role)
		if !role.Covers(minimum) {
			http.Error(w, "role "+string(role)+" cannot "+r.Method+" "+r.URL.Path, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.FarmID, role, claims.Subject)))
	})
}

func (g *FarmGate) minimumRole(r *http.Request) (Role, bool) {
	if g.policy.IsExempt(r) {
		return "", false
	}
	return g.policy.RequiredRole(r)
}

// bearerToken reads the Authorization header. Browsers subscribing to the
// alert stream cannot set headers, so access_token is accepted as a query
// parameter when the header is absent.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return r.URL.Query().Get("access_token")
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
