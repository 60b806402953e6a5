package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/meetscribe/meetscribe/internal/storage"
)

// InsertSegments implements [storage.TranscriptStore]. The whole batch is
// committed in one transaction; rows whose (meeting_id, start_time, end_time)
// already exist are skipped via ON CONFLICT DO NOTHING; they represent a
// dedup-window miss, not an error.
func (s *Store) InsertSegments(ctx context.Context, segments []storage.Segment) (int, error) {
	if len(segments) == 0 {
		return 0, nil
	}

	const q = `
		INSERT INTO transcriptions (meeting_id, start_time, end_time, text, language)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (meeting_id, start_time, end_time) DO NOTHING`

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, storeErr("insert segments: begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	inserted := 0
	for _, seg := range segments {
		tag, err := tx.Exec(ctx, q, seg.MeetingID, seg.StartTime, seg.EndTime, seg.Text, seg.Language)
		if err != nil {
			return 0, storeErr("insert segments: exec", err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, storeErr("insert segments: commit", err)
	}
	return inserted, nil
}

// SegmentsForMeeting implements [storage.TranscriptStore].
func (s *Store) SegmentsForMeeting(ctx context.Context, meetingID int64) ([]storage.Segment, error) {
	const q = `
		SELECT id, meeting_id, start_time, end_time, text, language, created_at
		FROM   transcriptions
		WHERE  meeting_id = $1
		ORDER  BY start_time`

	rows, err := s.db.Query(ctx, q, meetingID)
	if err != nil {
		return nil, storeErr("segments for meeting", err)
	}
	segments, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Segment, error) {
		var seg storage.Segment
		err := row.Scan(&seg.ID, &seg.MeetingID, &seg.StartTime, &seg.EndTime, &seg.Text, &seg.Language, &seg.CreatedAt)
		return seg, err
	})
	if err != nil {
		return nil, storeErr("segments for meeting: scan", err)
	}
	if segments == nil {
		segments = []storage.Segment{}
	}
	return segments, nil
}

// SegmentStats summarises stored transcript volume. Served by the /stats
// endpoint.
type SegmentStats struct {
	TotalSegments      int64
	SegmentsPerMeeting map[int64]int64
}

// Stats returns aggregate counts over the transcriptions table.
func (s *Store) Stats(ctx context.Context) (SegmentStats, error) {
	stats := SegmentStats{SegmentsPerMeeting: map[int64]int64{}}

	const totalQ = `SELECT COUNT(*) FROM transcriptions`
	if err := s.db.QueryRow(ctx, totalQ).Scan(&stats.TotalSegments); err != nil {
		return SegmentStats{}, storeErr("stats: total", err)
	}

	const perMeetingQ = `SELECT meeting_id, COUNT(*) FROM transcriptions GROUP BY meeting_id`
	rows, err := s.db.Query(ctx, perMeetingQ)
	if err != nil {
		return SegmentStats{}, storeErr("stats: per meeting", err)
	}
	defer rows.Close()
	for rows.Next() {
		var meetingID, count int64
		if err := rows.Scan(&meetingID, &count); err != nil {
			return SegmentStats{}, storeErr("stats: scan", err)
		}
		stats.SegmentsPerMeeting[meetingID] = count
	}
	if err := rows.Err(); err != nil {
		return SegmentStats{}, storeErr("stats: rows", err)
	}
	return stats, nil
}
