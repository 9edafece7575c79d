// Package auth resolves API keys to identities. An identity's owner scopes
// which chat sessions a caller can see; its roles gate what it may do.
package auth

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
)

const (
	RoleAnalyst     = "analyst"
	RoleSourceAdmin = "source_admin"
)

var knownRoles = []string{RoleAnalyst, RoleSourceAdmin}

type Identity struct {
	Owner string
	Roles []string
}

func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

func (i Identity) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

type StaticAPIKeyValidator struct {
	keys map[string]Identity
}

func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{keys: map[string]Identity{}}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		key, identity, err := parseKeyEntry(strings.TrimSpace(entry))
		if err != nil {
			return nil, err
		}
		if _, dup := validator.keys[key]; dup {
			return nil, fmt.Errorf("static key for owner %q is listed twice", identity.Owner)
		}
		validator.keys[key] = identity
	}
	return validator, nil
}

func parseKeyEntry(entry string) (string, Identity, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 {
		return "", Identity{}, fmt.Errorf("invalid static key entry: expected key:owner:role|role")
	}
	key := strings.TrimSpace(parts[0])
	owner := strings.TrimSpace(parts[1])
	if key == "" || owner == "" {
		return "", Identity{}, fmt.Errorf("invalid static key entry for owner %q: empty key or owner", owner)
	}
	if strings.ContainsAny(key, " \t") {
		return "", Identity{}, fmt.Errorf("invalid static key entry for owner %q: key contains whitespace", owner)
	}

	var roles []string
	for _, role := range strings.Split(parts[2], "|") {
		role = strings.TrimSpace(role)
		if role == "" || slices.Contains(roles, role) {
			continue
		}
		if !slices.Contains(knownRoles, role) {
			return "", Identity{}, fmt.Errorf("invalid static key entry for owner %q: unknown role %q", owner, role)
		}
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("invalid static key entry for owner %q: at least one role is required", owner)
	}
	sort.Strings(roles)
	return key, Identity{Owner: owner, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.keys[apiKey]
	return identity, ok
}
