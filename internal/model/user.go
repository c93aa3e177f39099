package model

import (
	"fmt"
	"strings"
	"time"
)

// User represents an authentication user.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Active       bool       `json:"active"`
	Failsafe     bool       `json:"failsafe,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Roles.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleManager || role == RoleEmployee
}

// ValidatePassword checks the password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, MinPasswordLength)
	}
	return nil
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Capabilities returns the user's effective capability set.
func (u *User) Capabilities() CapabilitySet {
	if u == nil {
		return CapabilitySet{}
	}
	if u.Failsafe {
		return FailsafeCapabilities()
	}
	return DeriveCapabilities(u.Role)
}

// Can reports whether the user holds the capability.
func (u *User) Can(c Capability) bool {
	if u == nil || !u.Active || u.DeletedAt != nil {
		return false
	}
	return u.Capabilities().Has(c)
}
