package auth

import "time"

// User represents an authenticated user account holding exactly one role.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	RoleCode     string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Token is an issued bearer credential.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
	Role        string
}
