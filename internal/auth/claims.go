package auth

import "strings"

// AdminRole short-circuits every authorization decision.
const AdminRole = "admin"

// roleClaimKeys lists the claim names identity providers are known to put
// role or group information under.
var roleClaimKeys = []string{"roles", "role", "groups", "cognito:groups"}

// RoleSet maps the raw claim set of a subject to a normalized role list:
// every supported claim shape (structured list, single string, comma or
// space delimited string) collapses into one lower-cased, deduplicated set.
// All role comparisons in the package go through this function first.
func RoleSet(claims map[string]any) []string {
	seen := make(map[string]struct{})
	var roles []string

	add := func(raw string) {
		for _, part := range strings.FieldsFunc(raw, func(r rune) bool {
			return r == ',' || r == ' '
		}) {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			roles = append(roles, part)
		}
	}

	for _, key := range roleClaimKeys {
		switch v := claims[key].(type) {
		case string:
			add(v)
		case []string:
			for _, s := range v {
				add(s)
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		}
	}
	return roles
}

// NormalizeRoles lower-cases, trims and deduplicates an explicit role list.
func NormalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

func containsAdmin(roles []string) bool {
	for _, r := range roles {
		if r == AdminRole {
			return true
		}
	}
	return false
}
