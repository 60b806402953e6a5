// Package orchestrator coordinates bot launches and teardowns. It owns the
// at-most-one-bot-per-triple guarantee: the Redis triple lock is taken before
// any container work, and every failure path puts the lock back.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/containers"
	"github.com/meetscribe/meetscribe/internal/identity"
	"github.com/meetscribe/meetscribe/internal/observe"
	"github.com/meetscribe/meetscribe/internal/platform"
	"github.com/meetscribe/meetscribe/internal/storage"
)

// LockStore is the slice of the live-state store the orchestrator needs.
type LockStore interface {
	TryLock(ctx context.Context, t platform.Triple) (bool, error)
	Release(ctx context.Context, t platform.Triple) error
	PutMapping(ctx context.Context, t platform.Triple, containerID string) error
	GetMapping(ctx context.Context, t platform.Triple) (string, error)
}

// StartResult reports a successful bot launch.
type StartResult struct {
	Status      string
	Meeting     storage.Meeting
	ContainerID string
}

// StopResult reports a stop attempt. Status is one of stopped, stop_failed,
// or not_found.
type StopResult struct {
	Status      string
	MeetingID   int64
	ContainerID string
}

const (
	StatusStarted    = "started"
	StatusStopped    = "stopped"
	StatusStopFailed = "stop_failed"
	StatusNotFound   = "not_found"
)

// ConflictError reports that another live bot already holds the triple. It
// carries the triple so the API layer can echo it to the caller.
type ConflictError struct {
	Triple platform.Triple
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("orchestrator: bot already live for %s", e.Triple)
}

func (e *ConflictError) Unwrap() error { return apperr.ErrConflict }

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithDefaultBotName sets the display name used when a request omits one.
func WithDefaultBotName(name string) Option {
	return func(o *Orchestrator) { o.defaultBotName = name }
}

// WithConnectionIDs substitutes the per-bot connection id generator. Used by
// tests.
func WithConnectionIDs(gen func() string) Option {
	return func(o *Orchestrator) { o.newConnectionID = gen }
}

// Orchestrator implements the request-bot and stop-bot operations. Safe for
// concurrent use.
type Orchestrator struct {
	locks    LockStore
	meetings storage.MeetingStore
	runtime  containers.Runtime
	metrics  *observe.Metrics

	defaultBotName  string
	newConnectionID func() string
}

// New creates an Orchestrator.
func New(locks LockStore, meetings storage.MeetingStore, runtime containers.Runtime, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		locks:           locks,
		meetings:        meetings,
		runtime:         runtime,
		metrics:         observe.DefaultMetrics(),
		defaultBotName:  "Meetscribe Bot",
		newConnectionID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// BotRequest is a caller's launch request. Platform is required; at least one
// of MeetingURL and NativeID must be set, and when both are present they must
// agree.
type BotRequest struct {
	Platform   string
	MeetingURL string
	NativeID   string
	BotName    string
}

// RequestBot launches a bot for the caller's meeting. The request is
// canonicalized before any backing store is touched, so malformed input never
// costs a Redis round trip. Exactly one of two concurrent calls for the same
// triple wins the lock; the loser gets [apperr.ErrConflict] and causes no
// side effects.
func (o *Orchestrator) RequestBot(ctx context.Context, p identity.Principal, req BotRequest) (StartResult, error) {
	plat, err := platform.Parse(req.Platform)
	if err != nil {
		return StartResult{}, err
	}
	nativeID, err := resolveNativeID(plat, req)
	if err != nil {
		return StartResult{}, err
	}
	triple, err := platform.NewTriple(plat, nativeID, p.Token)
	if err != nil {
		return StartResult{}, err
	}
	launchStart := time.Now()

	acquired, err := o.locks.TryLock(ctx, triple)
	if err != nil {
		return StartResult{}, err
	}
	if !acquired {
		slog.Warn("orchestrator: bot request conflicts with live bot",
			"tenant_id", p.Tenant.ID, "triple", triple.String())
		o.metrics.RecordBotRequest(ctx, string(plat), "conflict")
		return StartResult{}, &ConflictError{Triple: triple}
	}

	meeting, err := o.openMeeting(ctx, p.Tenant.ID, triple, req.MeetingURL)
	if err != nil {
		o.release(ctx, triple)
		return StartResult{}, err
	}

	botName := req.BotName
	if botName == "" {
		botName = o.defaultBotName
	}
	spec := containers.LaunchSpec{
		Platform:     plat,
		MeetingURL:   canonicalURL(plat, nativeID, req.MeetingURL),
		Token:        p.Token,
		BotName:      botName,
		ConnectionID: o.newConnectionID(),
	}
	containerID, err := o.runtime.Launch(ctx, spec)
	if err != nil {
		slog.Warn("orchestrator: bot launch failed",
			"tenant_id", p.Tenant.ID, "meeting_id", meeting.ID, "error", err)
		o.release(ctx, triple)
		if _, terr := o.meetings.TransitionMeeting(ctx, meeting.ID, storage.StatusFailed); terr != nil {
			slog.Error("orchestrator: marking meeting failed", "meeting_id", meeting.ID, "error", terr)
		}
		o.metrics.RecordBotRequest(ctx, string(plat), "launch_failed")
		return StartResult{}, err
	}

	if err := o.locks.PutMapping(ctx, triple, containerID); err != nil {
		// Without the mapping the stop path cannot find the container, so the
		// launch is undone rather than leaving an unreachable bot.
		if serr := o.runtime.Stop(ctx, containerID); serr != nil {
			slog.Error("orchestrator: stopping unmapped container", "container_id", containerID, "error", serr)
		}
		o.release(ctx, triple)
		return StartResult{}, err
	}

	if active, terr := o.meetings.TransitionMeeting(ctx, meeting.ID, storage.StatusActive); terr != nil {
		// The bot is live, locked, and mapped; failing the request now would
		// tell the caller a running bot never started. The row stays in
		// requested and the stop path moves it to its terminal state.
		slog.Error("orchestrator: marking meeting active", "meeting_id", meeting.ID, "error", terr)
	} else {
		meeting = active
	}

	o.metrics.RecordBotRequest(ctx, string(plat), StatusStarted)
	o.metrics.BotLaunchDuration.Record(ctx, time.Since(launchStart).Seconds())
	slog.Info("orchestrator: bot started",
		"tenant_id", p.Tenant.ID, "meeting_id", meeting.ID, "container_id", containerID, "platform", plat)
	return StartResult{Status: StatusStarted, Meeting: meeting, ContainerID: containerID}, nil
}

// StopBot tears down the caller's bot for the meeting. The operation is
// idempotent: a triple with no live mapping releases any leftover lock and
// reports not_found.
func (o *Orchestrator) StopBot(ctx context.Context, p identity.Principal, platformTag, nativeID string) (StopResult, error) {
	plat, err := platform.Parse(platformTag)
	if err != nil {
		return StopResult{}, err
	}
	triple, err := platform.NewTriple(plat, nativeID, p.Token)
	if err != nil {
		return StopResult{}, err
	}

	containerID, err := o.locks.GetMapping(ctx, triple)
	if errors.Is(err, apperr.ErrNotFound) {
		if rerr := o.locks.Release(ctx, triple); rerr != nil {
			return StopResult{}, rerr
		}
		o.metrics.RecordBotStop(ctx, StatusNotFound)
		return StopResult{Status: StatusNotFound}, nil
	}
	if err != nil {
		return StopResult{}, err
	}

	status := StatusStopped
	if serr := o.runtime.Stop(ctx, containerID); serr != nil {
		slog.Warn("orchestrator: container stop failed", "container_id", containerID, "error", serr)
		status = StatusStopFailed
	}

	// The lock and mapping go away regardless of how the stop went; the
	// container is either dead or unreachable, and the triple must be free
	// for a relaunch.
	if err := o.locks.Release(ctx, triple); err != nil {
		return StopResult{}, err
	}

	result := StopResult{Status: status, ContainerID: containerID}
	meeting, err := o.meetings.LatestMeeting(ctx, p.Tenant.ID, plat, nativeID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		// A mapping without a meeting row should not happen, but the stop
		// still succeeded.
	case err != nil:
		return StopResult{}, err
	default:
		if _, err := o.meetings.TransitionMeeting(ctx, meeting.ID, storage.StatusEnded); err != nil {
			return StopResult{}, err
		}
		result.MeetingID = meeting.ID
	}

	o.metrics.RecordBotStop(ctx, status)
	slog.Info("orchestrator: bot stopped",
		"tenant_id", p.Tenant.ID, "meeting_id", result.MeetingID, "container_id", containerID, "status", status)
	return result, nil
}

// openMeeting returns the tenant's requested/active meeting for the triple,
// creating a fresh row in status requested when none is open. A triple whose
// previous meeting ended gets a new row on relaunch. suppliedURL is persisted
// on platforms whose URLs cannot be rebuilt from the native id.
func (o *Orchestrator) openMeeting(ctx context.Context, tenantID int64, t platform.Triple, suppliedURL string) (storage.Meeting, error) {
	meeting, err := o.meetings.FindOpenMeeting(ctx, tenantID, t.Platform, t.NativeID)
	if err == nil {
		return meeting, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return storage.Meeting{}, err
	}
	return o.meetings.CreateMeeting(ctx, storage.Meeting{
		TenantID:   tenantID,
		Platform:   t.Platform,
		NativeID:   t.NativeID,
		MeetingURL: canonicalURL(t.Platform, t.NativeID, suppliedURL),
		Status:     storage.StatusRequested,
	})
}

// resolveNativeID canonicalizes the request's meeting identity. A URL is
// authoritative when present; a bare native id works only on platforms whose
// URLs can be rebuilt from it.
func resolveNativeID(plat platform.Platform, req BotRequest) (string, error) {
	switch {
	case req.MeetingURL == "" && req.NativeID == "":
		return "", fmt.Errorf("orchestrator: meeting_url or native_meeting_id required: %w", apperr.ErrValidation)

	case req.MeetingURL == "":
		if err := platform.ValidateNativeID(plat, req.NativeID); err != nil {
			return "", err
		}
		if _, err := platform.BuildURL(plat, req.NativeID); err != nil {
			return "", fmt.Errorf("orchestrator: %s bots need meeting_url, the join URL cannot be rebuilt from an id: %w",
				plat, apperr.ErrValidation)
		}
		return req.NativeID, nil

	default:
		extracted, err := platform.Extract(plat, req.MeetingURL)
		if err != nil {
			return "", err
		}
		if req.NativeID != "" && req.NativeID != extracted {
			return "", fmt.Errorf("orchestrator: native_meeting_id does not match meeting_url: %w", apperr.ErrValidation)
		}
		return extracted, nil
	}
}

func (o *Orchestrator) release(ctx context.Context, t platform.Triple) {
	if err := o.locks.Release(ctx, t); err != nil {
		slog.Error("orchestrator: releasing triple lock", "triple", t.String(), "error", err)
	}
}

// canonicalURL rebuilds the platform URL from the native id where the
// platform supports it, falling back to the caller's URL for platforms whose
// ids do not round-trip.
func canonicalURL(p platform.Platform, nativeID, original string) string {
	if url, err := platform.BuildURL(p, nativeID); err == nil {
		return url
	}
	return original
}
