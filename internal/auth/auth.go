package auth

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
)

const (
	RoleQueryReader     = "query_reader"
	RoleSQLWriter       = "sql_writer"
	RoleConnectionAdmin = "connection_admin"
)

const allConnections = "*"

type Identity struct {
	Subject     string
	Roles       []string
	Connections []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// CanUse reports whether the identity may run against connectionID. An
// identity without a connection list may use every connection.
func (i Identity) CanUse(connectionID string) bool {
	if len(i.Connections) == 0 {
		return true
	}
	return slices.Contains(i.Connections, allConnections) || slices.Contains(i.Connections, connectionID)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

// NewStaticAPIKeyValidator parses comma separated entries of the form
// key:subject:role|role[:connection|connection].
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	entries := strings.Split(spec, ",")
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("invalid static key entry %q: expected key:subject:role|role[:connection|connection]", entry)
		}
		key := strings.TrimSpace(parts[0])
		subject := strings.TrimSpace(parts[1])
		if key == "" || subject == "" {
			return nil, fmt.Errorf("invalid static key entry %q: empty key/subject", entry)
		}
		roles := splitList(parts[2])
		if len(roles) == 0 {
			return nil, fmt.Errorf("invalid static key entry %q: at least one role is required", entry)
		}
		for _, role := range roles {
			if !knownRole(role) {
				return nil, fmt.Errorf("invalid static key entry %q: unknown role %q", entry, role)
			}
		}
		if _, dup := validator.keys[key]; dup {
			return nil, fmt.Errorf("invalid static key entry %q: duplicate key", entry)
		}
		sort.Strings(roles)
		identity := Identity{Subject: subject, Roles: roles}
		if len(parts) == 4 {
			identity.Connections = splitList(parts[3])
		}
		validator.keys[key] = identity
	}

	return validator, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}

func knownRole(role string) bool {
	switch role {
	case RoleQueryReader, RoleSQLWriter, RoleConnectionAdmin:
		return true
	default:
		return false
	}
}

func splitList(raw string) []string {
	items := strings.Split(strings.TrimSpace(raw), "|")
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
