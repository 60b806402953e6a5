// Package httpapi exposes the orchestrator and read operations over REST.
// Every route requires the tenant's API token in a fixed header; the
// collector websocket and the health probes live outside this package.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/meetscribe/meetscribe/internal/identity"
	"github.com/meetscribe/meetscribe/internal/orchestrator"
	"github.com/meetscribe/meetscribe/internal/platform"
	"github.com/meetscribe/meetscribe/internal/storage"
	"github.com/meetscribe/meetscribe/internal/storage/postgres"
)

// StatsProvider supplies the aggregate counters behind GET /stats.
type StatsProvider interface {
	Stats(ctx context.Context) (postgres.SegmentStats, error)
}

// API wires the authenticated REST surface.
type API struct {
	auth        *identity.Resolver
	authHeader  string
	orch        *orchestrator.Orchestrator
	meetings    storage.MeetingStore
	transcripts storage.TranscriptStore
	stats       StatsProvider
}

// New creates the API. authHeader names the header carrying the tenant token.
func New(auth *identity.Resolver, authHeader string, orch *orchestrator.Orchestrator, meetings storage.MeetingStore, transcripts storage.TranscriptStore, stats StatsProvider) *API {
	return &API{
		auth:        auth,
		authHeader:  authHeader,
		orch:        orch,
		meetings:    meetings,
		transcripts: transcripts,
		stats:       stats,
	}
}

// Handler returns the routed REST surface:
//
//	POST   /bots                                    launch a bot
//	DELETE /bots/{platform}/{native_id}             stop a bot
//	GET    /meetings                                list the tenant's meetings
//	GET    /transcripts/{platform}/{native_id}      fetch the latest transcript
//	GET    /stats                                   transcript volume counters
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bots", a.authenticated(a.handleRequestBot))
	mux.HandleFunc("DELETE /bots/{platform}/{native_id}", a.authenticated(a.handleStopBot))
	mux.HandleFunc("GET /meetings", a.authenticated(a.handleListMeetings))
	mux.HandleFunc("GET /transcripts/{platform}/{native_id}", a.authenticated(a.handleGetTranscript))
	mux.HandleFunc("GET /stats", a.authenticated(a.handleStats))
	return mux
}

type authedHandler func(w http.ResponseWriter, r *http.Request, p identity.Principal)

// authenticated resolves the token header before the handler runs.
func (a *API) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := a.auth.Resolve(r.Context(), r.Header.Get(a.authHeader))
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, p)
	}
}

// ---------------------------------------------------------------------------
// Bots
// ---------------------------------------------------------------------------

type requestBotBody struct {
	Platform        string `json:"platform"`
	MeetingURL      string `json:"meeting_url,omitempty"`
	NativeMeetingID string `json:"native_meeting_id,omitempty"`
	BotName         string `json:"bot_name,omitempty"`
}

type botResponse struct {
	Status      string `json:"status"`
	MeetingID   int64  `json:"meeting_id,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
}

func (a *API) handleRequestBot(w http.ResponseWriter, r *http.Request, p identity.Principal) {
	var body requestBotBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	res, err := a.orch.RequestBot(r.Context(), p, orchestrator.BotRequest{
		Platform:   body.Platform,
		MeetingURL: body.MeetingURL,
		NativeID:   body.NativeMeetingID,
		BotName:    body.BotName,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, botResponse{
		Status:      res.Status,
		MeetingID:   res.Meeting.ID,
		ContainerID: res.ContainerID,
	})
}

func (a *API) handleStopBot(w http.ResponseWriter, r *http.Request, p identity.Principal) {
	res, err := a.orch.StopBot(r.Context(), p, r.PathValue("platform"), r.PathValue("native_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, botResponse{
		Status:      res.Status,
		MeetingID:   res.MeetingID,
		ContainerID: res.ContainerID,
	})
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

type meetingJSON struct {
	ID              int64     `json:"id"`
	Platform        string    `json:"platform"`
	NativeMeetingID string    `json:"native_meeting_id"`
	MeetingURL      string    `json:"meeting_url,omitempty"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type segmentJSON struct {
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	Text      string  `json:"text"`
	Language  string  `json:"language,omitempty"`
}

func toMeetingJSON(m storage.Meeting) meetingJSON {
	return meetingJSON{
		ID:              m.ID,
		Platform:        string(m.Platform),
		NativeMeetingID: m.NativeID,
		MeetingURL:      m.MeetingURL,
		Status:          string(m.Status),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func (a *API) handleListMeetings(w http.ResponseWriter, r *http.Request, p identity.Principal) {
	meetings, err := a.meetings.ListMeetings(r.Context(), p.Tenant.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]meetingJSON, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, toMeetingJSON(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"meetings": out})
}

func (a *API) handleGetTranscript(w http.ResponseWriter, r *http.Request, p identity.Principal) {
	plat, err := platform.Parse(r.PathValue("platform"))
	if err != nil {
		writeError(w, err)
		return
	}
	nativeID := r.PathValue("native_id")
	if err := platform.ValidateNativeID(plat, nativeID); err != nil {
		writeError(w, err)
		return
	}

	meeting, err := a.meetings.LatestMeeting(r.Context(), p.Tenant.ID, plat, nativeID)
	if err != nil {
		writeError(w, err)
		return
	}
	segments, err := a.transcripts.SegmentsForMeeting(r.Context(), meeting.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]segmentJSON, 0, len(segments))
	for _, s := range segments {
		out = append(out, segmentJSON{
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
			Text:      s.Text,
			Language:  s.Language,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"meeting":  toMeetingJSON(meeting),
		"segments": out,
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request, _ identity.Principal) {
	stats, err := a.stats.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_segments":       stats.TotalSegments,
		"segments_per_meeting": stats.SegmentsPerMeeting,
	})
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("httpapi: encoding response", "error", err)
	}
}
