package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/cadence/internal/models"
)

// Roles lists every worker role a configuration may bind.
var Roles = []models.Role{
	models.RoleUnitTestWriter,
	models.RoleCoder,
	models.RoleReviewer,
	models.RoleUnitTestRunner,
	models.RoleE2ETestWriter,
	models.RoleE2ETestRunner,
}

// ValidationError reports a bad entry in the role to agent mapping.
type ValidationError struct {
	Role      string
	AgentName string
	Available []string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.AgentName == "" {
		return fmt.Sprintf("unknown worker role %q", e.Role)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "agent %q not found (bound to role %s)", e.AgentName, e.Role)
	if len(e.Available) > 0 {
		fmt.Fprintf(&msg, "\n\nAvailable agents: %s", strings.Join(e.Available, ", "))
	} else {
		msg.WriteString("\n\nNo agents found in registry")
	}
	return msg.String()
}

// ValidateRoles checks that every key of roles is a known role and, when a
// registry is given, that every bound agent exists. Errors are ordered by role.
func ValidateRoles(roles map[string]string, registry *Registry) []ValidationError {
	known := make(map[string]bool, len(Roles))
	for _, r := range Roles {
		known[string(r)] = true
	}

	keys := make([]string, 0, len(roles))
	for k := range roles {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []ValidationError
	for _, role := range keys {
		if !known[role] {
			errs = append(errs, ValidationError{Role: role})
			continue
		}
		name := roles[role]
		if name == "" || registry == nil || registry.Exists(name) {
			continue
		}
		errs = append(errs, ValidationError{Role: role, AgentName: name, Available: registry.Names()})
	}
	return errs
}
