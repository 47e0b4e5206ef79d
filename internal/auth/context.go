package auth

import "context"

type contextKey string

const (
	contextKeyFarm    contextKey = "auth.farm_id"
	contextKeyRole    contextKey = "auth.role"
	contextKeySubject contextKey = "auth.subject"
)

// WithIdentity stores auth identity details in context. An empty farmID
// means the caller is not scoped to a single farm.
func WithIdentity(ctx context.Context, farmID string, role Role, subject string) context.Context {
	ctx = context.WithValue(ctx, contextKeyFarm, farmID)
	ctx = context.WithValue(ctx, contextKeyRole, role)
	ctx = context.WithValue(ctx, contextKeySubject, subject)
	return ctx
}

// FarmIDFromContext extracts the farm scope from context.
func FarmIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if farmID, ok := ctx.Value(contextKeyFarm).(string); ok {
		return farmID
	}
	return ""
}

// RoleFromContext extracts role from context.
func RoleFromContext(ctx context.Context) Role {
	if ctx == nil {
		return ""
	}
	value := ctx.Value(contextKeyRole)
	if role, ok := value.(Role); ok {
		return role
	}
	if role, ok := value.(string); ok {
		if normalized, valid := NormalizeRole(role); valid {
			return normalized
		}
	}
	return ""
}

// SubjectFromContext extracts subject from context.
func SubjectFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if subject, ok := ctx.Value(contextKeySubject).(string); ok {
		return subject
	}
	return ""
}

// EnsureFarm checks that the caller may access farmID. Unscoped callers may
// access every farm.
func EnsureFarm(ctx context.Context, farmID string) error {
	scope := FarmIDFromContext(ctx)
	if scope == "" || farmID == "" {
		return nil
	}
	if scope != farmID {
		return ErrFarmMismatch
	}
	return nil
}
