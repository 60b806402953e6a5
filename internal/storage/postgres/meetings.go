package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/platform"
	"github.com/meetscribe/meetscribe/internal/storage"
)

const meetingColumns = `id, user_id, platform, platform_specific_id, meeting_url, status, created_at, updated_at`

// CreateMeeting implements [storage.MeetingStore].
func (s *Store) CreateMeeting(ctx context.Context, m storage.Meeting) (storage.Meeting, error) {
	const q = `
		INSERT INTO meetings (user_id, platform, platform_specific_id, meeting_url, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + meetingColumns

	status := m.Status
	if status == "" {
		status = storage.StatusRequested
	}

	row := s.db.QueryRow(ctx, q, m.TenantID, string(m.Platform), m.NativeID, m.MeetingURL, string(status))
	created, err := scanMeeting(row)
	if err != nil {
		return storage.Meeting{}, storeErr("create meeting", err)
	}
	return created, nil
}

// FindOpenMeeting implements [storage.MeetingStore].
func (s *Store) FindOpenMeeting(ctx context.Context, tenantID int64, p platform.Platform, nativeID string) (storage.Meeting, error) {
	const q = `
		SELECT ` + meetingColumns + `
		FROM   meetings
		WHERE  user_id = $1
		  AND  platform = $2
		  AND  platform_specific_id = $3
		  AND  status IN ('requested', 'active')
		ORDER  BY created_at DESC, id DESC
		LIMIT  1`

	return s.queryMeeting(ctx, "find open meeting", q, tenantID, string(p), nativeID)
}

// LatestMeeting implements [storage.MeetingStore].
func (s *Store) LatestMeeting(ctx context.Context, tenantID int64, p platform.Platform, nativeID string) (storage.Meeting, error) {
	const q = `
		SELECT ` + meetingColumns + `
		FROM   meetings
		WHERE  user_id = $1
		  AND  platform = $2
		  AND  platform_specific_id = $3
		ORDER  BY created_at DESC, id DESC
		LIMIT  1`

	return s.queryMeeting(ctx, "latest meeting", q, tenantID, string(p), nativeID)
}

// GetMeeting implements [storage.MeetingStore].
func (s *Store) GetMeeting(ctx context.Context, id int64) (storage.Meeting, error) {
	const q = `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`
	return s.queryMeeting(ctx, "get meeting", q, id)
}

// ListMeetings implements [storage.MeetingStore].
func (s *Store) ListMeetings(ctx context.Context, tenantID int64) ([]storage.Meeting, error) {
	const q = `
		SELECT ` + meetingColumns + `
		FROM   meetings
		WHERE  user_id = $1
		ORDER  BY created_at DESC, id DESC`

	rows, err := s.db.Query(ctx, q, tenantID)
	if err != nil {
		return nil, storeErr("list meetings", err)
	}
	meetings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Meeting, error) {
		return scanMeeting(row)
	})
	if err != nil {
		return nil, storeErr("list meetings: scan", err)
	}
	if meetings == nil {
		meetings = []storage.Meeting{}
	}
	return meetings, nil
}

// TransitionMeeting implements [storage.MeetingStore]. The one-way lifecycle
// is enforced in SQL: the update only applies when the current status may
// legally move to the target, so concurrent writers cannot regress a row.
func (s *Store) TransitionMeeting(ctx context.Context, id int64, to storage.MeetingStatus) (storage.Meeting, error) {
	if !to.IsValid() {
		return storage.Meeting{}, fmt.Errorf("postgres: transition meeting: status %q: %w", to, apperr.ErrValidation)
	}

	const q = `
		UPDATE meetings
		SET    status = $2, updated_at = now()
		WHERE  id = $1
		  AND  CASE status
		         WHEN 'requested' THEN $2 IN ('active', 'ended', 'failed')
		         WHEN 'active'    THEN $2 IN ('ended', 'failed')
		         ELSE false
		       END
		RETURNING ` + meetingColumns

	row := s.db.QueryRow(ctx, q, id, string(to))
	m, err := scanMeeting(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the row is missing or the transition was illegal; return the
		// stored state so callers see which.
		return s.GetMeeting(ctx, id)
	}
	if err != nil {
		return storage.Meeting{}, storeErr("transition meeting", err)
	}
	return m, nil
}

func (s *Store) queryMeeting(ctx context.Context, op, q string, args ...any) (storage.Meeting, error) {
	m, err := scanMeeting(s.db.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Meeting{}, fmt.Errorf("postgres: %s: %w", op, apperr.ErrNotFound)
	}
	if err != nil {
		return storage.Meeting{}, storeErr(op, err)
	}
	return m, nil
}

func scanMeeting(row pgx.Row) (storage.Meeting, error) {
	var (
		m           storage.Meeting
		platformTag string
		statusTag   string
	)
	if err := row.Scan(&m.ID, &m.TenantID, &platformTag, &m.NativeID, &m.MeetingURL, &statusTag, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return storage.Meeting{}, err
	}
	m.Platform = platform.Platform(platformTag)
	m.Status = storage.MeetingStatus(statusTag)
	return m, nil
}
