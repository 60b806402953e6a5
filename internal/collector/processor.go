package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/storage"
)

// SegmentCache is the slice of the live-state store the processor needs for
// dedup and partial caching.
type SegmentCache interface {
	SegmentSeen(ctx context.Context, meetingID int64, start, end float64) (payload string, seen bool, err error)
	MarkSegment(ctx context.Context, meetingID int64, start, end float64, payload string, completed bool) error
}

// Result summarises what happened to one frame.
type Result struct {
	Stored       int
	Deduplicated int
	Filtered     int
	Partials     int
	Invalid      int
}

// cachedSegment is the dedup-key payload. The completed flag is what lets a
// completed segment supersede its earlier partial form.
type cachedSegment struct {
	Text      string `json:"text"`
	Language  string `json:"language,omitempty"`
	Completed bool   `json:"completed"`
}

// Processor turns inbound frames into stored transcript rows. Safe for
// concurrent use; each connection calls it sequentially, preserving that
// connection's arrival order.
type Processor struct {
	cache       SegmentCache
	meetings    storage.MeetingStore
	transcripts storage.TranscriptStore
}

// NewProcessor creates a Processor.
func NewProcessor(cache SegmentCache, meetings storage.MeetingStore, transcripts storage.TranscriptStore) *Processor {
	return &Processor{cache: cache, meetings: meetings, transcripts: transcripts}
}

// Process handles one frame. Per-segment problems (missing fields, dedup
// hits, filtered noise) are absorbed into the Result; only frame-level
// problems (unknown meeting, store outage) become errors.
func (p *Processor) Process(ctx context.Context, frame Frame) (Result, error) {
	if _, err := p.meetings.GetMeeting(ctx, frame.MeetingID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Result{}, fmt.Errorf("collector: unknown meeting %d: %w", frame.MeetingID, apperr.ErrValidation)
		}
		return Result{}, err
	}

	var res Result
	var batch []storage.Segment

	for _, seg := range frame.Segments {
		if !seg.complete() {
			res.Invalid++
			continue
		}
		start, end, text := *seg.StartTime, *seg.EndTime, *seg.Text

		payload, seen, err := p.cache.SegmentSeen(ctx, frame.MeetingID, start, end)
		if err != nil {
			return res, err
		}
		if seen {
			if cachedCompleted(payload) {
				// The interval is already durably handled; a completed entry
				// is never overwritten, not even by a late partial.
				res.Deduplicated++
				continue
			}
			if !seg.Completed {
				// Partial update over a cached partial: refresh it.
				if err := p.markPartial(ctx, frame.MeetingID, start, end, seg); err != nil {
					return res, err
				}
				res.Partials++
				continue
			}
			// A completed segment superseding its partial form falls through
			// to filtering and persistence.
		}

		if !seg.Completed {
			if err := p.markPartial(ctx, frame.MeetingID, start, end, seg); err != nil {
				return res, err
			}
			res.Partials++
			continue
		}

		if !Informative(text) {
			if err := p.mark(ctx, frame.MeetingID, start, end, seg, true); err != nil {
				return res, err
			}
			res.Filtered++
			continue
		}

		batch = append(batch, storage.Segment{
			MeetingID: frame.MeetingID,
			StartTime: start,
			EndTime:   end,
			Text:      text,
			Language:  seg.Language,
		})
	}

	if len(batch) > 0 {
		n, err := p.transcripts.InsertSegments(ctx, batch)
		if err != nil {
			return res, err
		}
		res.Stored = n
		res.Deduplicated += len(batch) - n

		// Dedup keys are written after the commit so a failed insert can be
		// retried by the worker.
		for _, seg := range batch {
			cached := cachedSegment{Text: seg.Text, Language: seg.Language, Completed: true}
			if err := p.markCached(ctx, seg.MeetingID, seg.StartTime, seg.EndTime, cached); err != nil {
				slog.Warn("collector: writing dedup key after insert",
					"meeting_id", seg.MeetingID, "start", seg.StartTime, "error", err)
			}
		}
	}

	return res, nil
}

func (p *Processor) markPartial(ctx context.Context, meetingID int64, start, end float64, seg Segment) error {
	return p.mark(ctx, meetingID, start, end, seg, false)
}

func (p *Processor) mark(ctx context.Context, meetingID int64, start, end float64, seg Segment, completed bool) error {
	cached := cachedSegment{Text: *seg.Text, Language: seg.Language, Completed: completed}
	return p.markCached(ctx, meetingID, start, end, cached)
}

func (p *Processor) markCached(ctx context.Context, meetingID int64, start, end float64, cached cachedSegment) error {
	payload, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("collector: marshal cached segment: %w", err)
	}
	return p.cache.MarkSegment(ctx, meetingID, start, end, string(payload), cached.Completed)
}

func cachedCompleted(payload string) bool {
	var cached cachedSegment
	if err := json.Unmarshal([]byte(payload), &cached); err != nil {
		return false
	}
	return cached.Completed
}
