package auth

import (
	"fmt"
	"slices"
)

const (
	PermSchedulerTick = "scheduler.tick"
	PermAgentsRead    = "agents.read"
	PermActivityRead  = "activity.read"
)

// RolePermissions maps the built-in roles to what they may do.
var RolePermissions = map[string][]string{
	"admin":     {PermSchedulerTick, PermAgentsRead, PermActivityRead},
	"scheduler": {PermSchedulerTick, PermAgentsRead, PermActivityRead},
	"viewer":    {PermAgentsRead, PermActivityRead},
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// KnownRole reports whether role is one of the built-in roles.
func KnownRole(role string) bool {
	_, ok := RolePermissions[role]
	return ok
}

// Permissions expands roles into a deduplicated permission list, merged with
// any explicitly granted permissions.
func Permissions(roles, granted []string) []string {
	var out []string
	add := func(p string) {
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	for _, role := range roles {
		for _, p := range RolePermissions[role] {
			add(p)
		}
	}
	for _, p := range granted {
		add(p)
	}
	return out
}

// Require returns a ForbiddenError unless roles or granted carry perm.
func Require(roles, granted []string, perm string) error {
	if slices.Contains(Permissions(roles, granted), perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}
