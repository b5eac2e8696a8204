package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
)

// RoleSet is the normalized set of roles held by a user. It decodes from
// either a single JSON string or an array and always encodes as an array.
type RoleSet []UserRole

// NewRoleSet normalizes roles: upper-cased, trimmed, de-duplicated, sorted.
func NewRoleSet(roles ...UserRole) RoleSet {
	seen := make(map[UserRole]struct{}, len(roles))
	out := make(RoleSet, 0, len(roles))
	for _, r := range roles {
		r = UserRole(strings.ToUpper(strings.TrimSpace(string(r))))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MergeRoles folds a scalar role into a set.
func MergeRoles(role UserRole, roles RoleSet) RoleSet {
	all := make([]UserRole, 0, len(roles)+1)
	all = append(all, roles...)
	all = append(all, role)
	return NewRoleSet(all...)
}

// Has reports membership.
func (s RoleSet) Has(role UserRole) bool {
	for _, r := range s {
		if r == role {
			return true
		}
	}
	return false
}

// HasAny reports whether at least one of roles is present.
func (s RoleSet) HasAny(roles ...UserRole) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// Strings returns the roles as plain strings.
func (s RoleSet) Strings() []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}
	return out
}

// UnmarshalJSON accepts "ADMIN", ["ADMIN","USER"] or null.
func (s *RoleSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if data[0] == '"' {
		var single UserRole
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*s = NewRoleSet(single)
		return nil
	}
	var many []UserRole
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("roles must be a string or an array of strings: %w", err)
	}
	*s = NewRoleSet(many...)
	return nil
}

// MarshalJSON always emits an array.
func (s RoleSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]UserRole(s))
}

// Scan reads a postgres text[] column.
func (s *RoleSet) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return fmt.Errorf("scan roles: %w", err)
	}
	roles := make([]UserRole, len(arr))
	for i, r := range arr {
		roles[i] = UserRole(r)
	}
	*s = NewRoleSet(roles...)
	return nil
}

// Value writes a postgres text[] literal.
func (s RoleSet) Value() (driver.Value, error) {
	return pq.StringArray(NewRoleSet(s...).Strings()).Value()
}
