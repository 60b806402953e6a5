package storage

import (
	"context"

	"github.com/meetscribe/meetscribe/internal/platform"
)

// TokenResolver maps an opaque API token to its tenant.
type TokenResolver interface {
	// ResolveToken returns the tenant the token belongs to, or
	// [apperr.ErrInvalidCredential] when the token is unknown.
	ResolveToken(ctx context.Context, token string) (Tenant, error)
}

// MeetingStore persists meeting lifecycle records.
type MeetingStore interface {
	// CreateMeeting inserts a new meeting in the given status and returns it
	// with its assigned id and timestamps.
	CreateMeeting(ctx context.Context, m Meeting) (Meeting, error)

	// FindOpenMeeting returns the most recent meeting for the tenant and
	// (platform, native id) that is still requested or active, or
	// [apperr.ErrNotFound].
	FindOpenMeeting(ctx context.Context, tenantID int64, p platform.Platform, nativeID string) (Meeting, error)

	// LatestMeeting returns the most recent meeting for the tenant and
	// (platform, native id) in any status, or [apperr.ErrNotFound].
	LatestMeeting(ctx context.Context, tenantID int64, p platform.Platform, nativeID string) (Meeting, error)

	// GetMeeting returns the meeting with the given id, or [apperr.ErrNotFound].
	GetMeeting(ctx context.Context, id int64) (Meeting, error)

	// ListMeetings returns all of the tenant's meetings, most recent first.
	ListMeetings(ctx context.Context, tenantID int64) ([]Meeting, error)

	// TransitionMeeting advances the meeting to the given status. Illegal
	// (backwards) transitions are ignored: the row keeps its terminal state
	// and the stored meeting is returned unchanged.
	TransitionMeeting(ctx context.Context, id int64, to MeetingStatus) (Meeting, error)
}

// TranscriptStore persists completed transcript segments.
type TranscriptStore interface {
	// InsertSegments writes the batch in a single transaction. Intervals that
	// already exist for their meeting are silently skipped. Returns the
	// number of rows actually inserted.
	InsertSegments(ctx context.Context, segments []Segment) (int, error)

	// SegmentsForMeeting returns the meeting's segments in ascending
	// start-time order.
	SegmentsForMeeting(ctx context.Context, meetingID int64) ([]Segment, error)
}
