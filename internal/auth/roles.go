package auth

import "errors"

var (
	// ErrInvalidToken indicates a token that failed signature or claim checks.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrFarmMismatch indicates a resource of a farm outside the caller's scope.
	ErrFarmMismatch = errors.New("auth: farm mismatch")
)

// Role is the access level of a farm user. Viewers watch the live feed and
// alerts; operators also manage farm boundaries and collar assignments;
// admins also manage the sensor archive, collar discovery and unscoped
// access to every farm.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

var roleLevels = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole reports whether value names a known role.
func NormalizeRole(value string) (Role, bool) {
	role := Role(value)
	if _, ok := roleLevels[role]; !ok {
		return "", false
	}
	return role, true
}

// Covers reports whether r grants at least the access of minimum. Unknown
// roles cover nothing.
func (r Role) Covers(minimum Role) bool {
	level, ok := roleLevels[r]
	return ok && level >= roleLevels[minimum]
}
