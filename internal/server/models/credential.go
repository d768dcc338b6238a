package models

import "time"

// CredentialKind describes how a license key may be used.
type CredentialKind string

const (
	CredentialTimed        CredentialKind = "timed"
	CredentialLifetime     CredentialKind = "lifetime"
	CredentialDeviceLocked CredentialKind = "device_locked"
)

// CredentialStatus is the lifecycle state of a license key.
type CredentialStatus string

const (
	CredentialUnused  CredentialStatus = "unused"
	CredentialActive  CredentialStatus = "active"
	CredentialExpired CredentialStatus = "expired"
	CredentialRevoked CredentialStatus = "revoked"
)

// Credential is an issued license key. Source, RequesterAddress and
// CreatedAt are the structured provenance used for per-address quotas; Note
// is a free-text copy of it for display.
type Credential struct {
	ID               string
	Value            string
	ResourceID       string
	OwnerID          string
	Kind             CredentialKind
	Status           CredentialStatus
	MaxDevices       int
	Source           string
	RequesterAddress string
	Note             string
	ExpiresAt        *time.Time
	CreatedAt        time.Time
}

// IsLapsed reports whether an active or unused key has passed its deadline
// at now and should be shown as expired.
func (c *Credential) IsLapsed(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	if c.Status != CredentialActive && c.Status != CredentialUnused {
		return false
	}
	return !now.Before(*c.ExpiresAt)
}
