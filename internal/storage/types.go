// Package storage defines the persistent data model shared by the
// orchestrator and the transcript collector: tenants, API tokens, meetings,
// and transcript segments. The PostgreSQL implementation lives in the
// postgres subpackage.
package storage

import (
	"time"

	"github.com/meetscribe/meetscribe/internal/platform"
)

// MeetingStatus tracks a meeting's lifecycle. Transitions are one-way:
// requested → active → {ended, failed}; a row never regresses.
type MeetingStatus string

const (
	StatusRequested MeetingStatus = "requested"
	StatusActive    MeetingStatus = "active"
	StatusEnded     MeetingStatus = "ended"
	StatusFailed    MeetingStatus = "failed"
)

// IsValid reports whether s is a recognised meeting status.
func (s MeetingStatus) IsValid() bool {
	switch s {
	case StatusRequested, StatusActive, StatusEnded, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal one-way
// lifecycle step.
func (s MeetingStatus) CanTransitionTo(next MeetingStatus) bool {
	switch s {
	case StatusRequested:
		return next == StatusActive || next == StatusEnded || next == StatusFailed
	case StatusActive:
		return next == StatusEnded || next == StatusFailed
	}
	return false
}

// Tenant is an authenticated principal. Rows are created by an out-of-scope
// admin flow; the core only reads them.
type Tenant struct {
	ID    int64
	Email string
	Name  string
}

// Meeting is the persistent record of one bot engagement with a conference.
// A tenant may hold several rows for the same (platform, native id) across
// time; reads pick the most recent.
type Meeting struct {
	ID         int64
	TenantID   int64
	Platform   platform.Platform
	NativeID   string
	MeetingURL string
	Status     MeetingStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Segment is one stored transcript interval. (MeetingID, StartTime, EndTime)
// is unique in the store; re-ingesting the same interval never duplicates it.
type Segment struct {
	ID        int64
	MeetingID int64
	StartTime float64
	EndTime   float64
	Text      string
	Language  string
	CreatedAt time.Time
}
