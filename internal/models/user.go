package models

import (
	"time"

	"github.com/noah-isme/account-api/internal/credential"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleUser       UserRole = "USER"
)

// User represents an application user stored in the users table.
type User struct {
	ID            string     `db:"id" json:"id"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	FullName      string     `db:"full_name" json:"full_name"`
	Roles         RoleSet    `db:"roles" json:"roles"`
	Active        bool       `db:"active" json:"active"`
	LoginAttempts int        `db:"login_attempts" json:"-"`
	LockUntil     *time.Time `db:"lock_until" json:"lock_until,omitempty"`
	LastLogin     *time.Time `db:"last_login" json:"last_login,omitempty"`
	AvatarPath    *string    `db:"avatar_path" json:"-"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// CredentialState projects the lockout fields of the user.
func (u *User) CredentialState() credential.State {
	if u == nil {
		return credential.State{}
	}
	return credential.State{Attempts: u.LoginAttempts, LockUntil: u.LockUntil}
}

// ApplyCredentialState copies lockout fields back onto the user.
func (u *User) ApplyCredentialState(s credential.State) {
	u.LoginAttempts = s.Attempts
	u.LockUntil = s.LockUntil
}

// HasAvatar reports whether an avatar file is stored for the user.
func (u *User) HasAvatar() bool {
	return u.AvatarPath != nil && *u.AvatarPath != ""
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role      *UserRole
	Active    *bool
	Locked    *bool
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// CreateUserRequest represents payload for creating users. Role and Roles are
// both accepted; they are merged into one set.
type CreateUserRequest struct {
	Email    string   `json:"email" validate:"required,email"`
	FullName string   `json:"full_name" validate:"required,max=120"`
	Role     UserRole `json:"role" validate:"omitempty,oneof=SUPERADMIN ADMIN USER"`
	Roles    RoleSet  `json:"roles" validate:"dive,oneof=SUPERADMIN ADMIN USER"`
	Active   bool     `json:"active"`
	Password string   `json:"password" validate:"required,min=8,max=72"`
}

// RoleSet merges the scalar and array role fields.
func (r CreateUserRequest) RoleSet() RoleSet {
	return MergeRoles(r.Role, r.Roles)
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	FullName string   `json:"full_name" validate:"required,max=120"`
	Role     UserRole `json:"role" validate:"omitempty,oneof=SUPERADMIN ADMIN USER"`
	Roles    RoleSet  `json:"roles" validate:"dive,oneof=SUPERADMIN ADMIN USER"`
	Active   *bool    `json:"active"`
}

// RoleSet merges the scalar and array role fields.
func (r UpdateUserRequest) RoleSet() RoleSet {
	return MergeRoles(r.Role, r.Roles)
}

// UpdateProfileRequest lets a user change their own display name.
type UpdateProfileRequest struct {
	FullName string `json:"full_name" validate:"required,max=120"`
}

// Profile is the self-service view of a user.
type Profile struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	Roles     RoleSet    `json:"roles"`
	HasAvatar bool       `json:"has_avatar"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
