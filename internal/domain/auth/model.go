// Package auth provides operator authentication for the scan API.
package auth

import (
	"time"

	"stockscan/internal/core/apperror"
	"stockscan/internal/core/id"
)

// Operator is a warehouse worker allowed to open scan sessions.
type Operator struct {
	ID                  id.ID      `db:"id" json:"id"`
	Login               string     `db:"login" json:"login"`
	PasswordHash        string     `db:"password_hash" json:"-"`
	DisplayName         string     `db:"display_name" json:"displayName,omitempty"`
	CompanyID           *id.ID     `db:"company_id" json:"companyId,omitempty"`
	Roles               []string   `db:"roles" json:"roles,omitempty"`
	IsActive            bool       `db:"is_active" json:"isActive"`
	IsAdmin             bool       `db:"is_admin" json:"isAdmin"`
	FailedLoginAttempts int        `db:"failed_login_attempts" json:"-"`
	LockedUntil         *time.Time `db:"locked_until" json:"-"`
	LastLoginAt         *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`
}

// NewOperator creates an active operator.
func NewOperator(login, passwordHash string) *Operator {
	now := time.Now()
	return &Operator{
		ID:           id.New(),
		Login:        login,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsLocked reports whether the account is temporarily locked.
func (o *Operator) IsLocked() bool {
	return o.LockedUntil != nil && time.Now().Before(*o.LockedUntil)
}

// CanLogin checks account state before password verification.
func (o *Operator) CanLogin() error {
	if !o.IsActive {
		return apperror.NewForbidden("account is disabled")
	}
	if o.IsLocked() {
		return apperror.NewForbidden("account is temporarily locked")
	}
	return nil
}

// RecordFailedLogin increments the failure counter, locking the account once
// the limit is reached.
func (o *Operator) RecordFailedLogin(maxAttempts int, lockDuration time.Duration) {
	o.FailedLoginAttempts++
	if o.FailedLoginAttempts >= maxAttempts {
		until := time.Now().Add(lockDuration)
		o.LockedUntil = &until
	}
}

// RecordSuccessfulLogin resets the failure counter.
func (o *Operator) RecordSuccessfulLogin() {
	o.FailedLoginAttempts = 0
	o.LockedUntil = nil
	now := time.Now()
	o.LastLoginAt = &now
}
