// Package models defines server-side data models persisted in the database.
package models

import (
	"slices"
	"time"
)

// SessionStatus is the state of a get-key session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionCompleted SessionStatus = "completed"
	SessionExpired   SessionStatus = "expired"
)

// Session is one unlock attempt. It is referenced by a signed bearer token;
// TokenHash stores the SHA-256 of that token.
type Session struct {
	ID                   string
	ResourceID           string
	OwnerID              string
	TokenHash            string
	RequesterAddress     string
	DeviceFingerprint    string
	CheckpointsRequired  int
	CheckpointsCompleted []int
	ChallengeRequired    bool
	ChallengePassed      bool
	Status               SessionStatus
	CredentialValue      *string
	Version              int64
	ExpiresAt            time.Time
	CreatedAt            time.Time
}

// HasCheckpoint reports whether index i is already recorded.
func (s *Session) HasCheckpoint(i int) bool {
	return slices.Contains(s.CheckpointsCompleted, i)
}

// CheckpointsDone reports whether every index in 0..CheckpointsRequired-1
// has been recorded.
func (s *Session) CheckpointsDone() bool {
	for i := 0; i < s.CheckpointsRequired; i++ {
		if !s.HasCheckpoint(i) {
			return false
		}
	}
	return true
}

// ReadyForIssue reports whether the session satisfies every precondition
// for the pending -> completed transition.
func (s *Session) ReadyForIssue() bool {
	return s.CheckpointsDone() && (!s.ChallengeRequired || s.ChallengePassed)
}

// IsPastDeadline reports whether the session deadline has passed at now.
func (s *Session) IsPastDeadline(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
