package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/meetscribe/meetscribe/internal/apperr"
	"github.com/meetscribe/meetscribe/internal/containers"
	"github.com/meetscribe/meetscribe/internal/identity"
	"github.com/meetscribe/meetscribe/internal/orchestrator"
	"github.com/meetscribe/meetscribe/internal/platform"
	"github.com/meetscribe/meetscribe/internal/storage"
	"github.com/meetscribe/meetscribe/internal/storage/postgres"
)

// ---------------------------------------------------------------------------
// In-memory backend
// ---------------------------------------------------------------------------

type memBackend struct {
	tokens   map[string]storage.Tenant
	locks    map[string]bool
	mappings map[string]string

	nextMeetingID int64
	meetings      map[int64]storage.Meeting
	segments      []storage.Segment

	nextContainer int
}

func newMemBackend() *memBackend {
	return &memBackend{
		tokens:        map[string]storage.Tenant{"tok-7": {ID: 7, Email: "t@example.com"}},
		locks:         map[string]bool{},
		mappings:      map[string]string{},
		nextMeetingID: 1,
		meetings:      map[int64]storage.Meeting{},
	}
}

func (b *memBackend) ResolveToken(_ context.Context, token string) (storage.Tenant, error) {
	t, ok := b.tokens[token]
	if !ok {
		return storage.Tenant{}, apperr.ErrInvalidCredential
	}
	return t, nil
}

func (b *memBackend) TryLock(_ context.Context, t platform.Triple) (bool, error) {
	if b.locks[t.String()] {
		return false, nil
	}
	b.locks[t.String()] = true
	return true, nil
}

func (b *memBackend) Release(_ context.Context, t platform.Triple) error {
	delete(b.locks, t.String())
	delete(b.mappings, t.String())
	return nil
}

func (b *memBackend) PutMapping(_ context.Context, t platform.Triple, containerID string) error {
	b.mappings[t.String()] = containerID
	return nil
}

func (b *memBackend) GetMapping(_ context.Context, t platform.Triple) (string, error) {
	id, ok := b.mappings[t.String()]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return id, nil
}

func (b *memBackend) CreateMeeting(_ context.Context, m storage.Meeting) (storage.Meeting, error) {
	m.ID = b.nextMeetingID
	b.nextMeetingID++
	m.CreatedAt = time.Now()
	m.UpdatedAt = m.CreatedAt
	b.meetings[m.ID] = m
	return m, nil
}

func (b *memBackend) FindOpenMeeting(_ context.Context, tenantID int64, p platform.Platform, nativeID string) (storage.Meeting, error) {
	for _, m := range b.meetings {
		if m.TenantID == tenantID && m.Platform == p && m.NativeID == nativeID &&
			(m.Status == storage.StatusRequested || m.Status == storage.StatusActive) {
			return m, nil
		}
	}
	return storage.Meeting{}, apperr.ErrNotFound
}

func (b *memBackend) LatestMeeting(_ context.Context, tenantID int64, p platform.Platform, nativeID string) (storage.Meeting, error) {
	var latest storage.Meeting
	found := false
	for _, m := range b.meetings {
		if m.TenantID == tenantID && m.Platform == p && m.NativeID == nativeID && m.ID >= latest.ID {
			latest, found = m, true
		}
	}
	if !found {
		return storage.Meeting{}, apperr.ErrNotFound
	}
	return latest, nil
}

func (b *memBackend) GetMeeting(_ context.Context, id int64) (storage.Meeting, error) {
	m, ok := b.meetings[id]
	if !ok {
		return storage.Meeting{}, apperr.ErrNotFound
	}
	return m, nil
}

func (b *memBackend) ListMeetings(_ context.Context, tenantID int64) ([]storage.Meeting, error) {
	out := []storage.Meeting{}
	for _, m := range b.meetings {
		if m.TenantID == tenantID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (b *memBackend) TransitionMeeting(_ context.Context, id int64, to storage.MeetingStatus) (storage.Meeting, error) {
	m, ok := b.meetings[id]
	if !ok {
		return storage.Meeting{}, apperr.ErrNotFound
	}
	if m.Status.CanTransitionTo(to) {
		m.Status = to
		m.UpdatedAt = time.Now()
		b.meetings[id] = m
	}
	return m, nil
}

func (b *memBackend) InsertSegments(_ context.Context, segments []storage.Segment) (int, error) {
	b.segments = append(b.segments, segments...)
	return len(segments), nil
}

func (b *memBackend) SegmentsForMeeting(_ context.Context, meetingID int64) ([]storage.Segment, error) {
	out := []storage.Segment{}
	for _, s := range b.segments {
		if s.MeetingID == meetingID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (b *memBackend) Stats(context.Context) (postgres.SegmentStats, error) {
	stats := postgres.SegmentStats{SegmentsPerMeeting: map[int64]int64{}}
	for _, s := range b.segments {
		stats.TotalSegments++
		stats.SegmentsPerMeeting[s.MeetingID]++
	}
	return stats, nil
}

func (b *memBackend) Launch(_ context.Context, _ containers.LaunchSpec) (string, error) {
	b.nextContainer++
	return fmt.Sprintf("container-%d", b.nextContainer), nil
}

func (b *memBackend) Stop(context.Context, string) error { return nil }
func (b *memBackend) Ping(context.Context) error         { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *memBackend) {
	t.Helper()
	b := newMemBackend()
	orch := orchestrator.New(b, b, b)
	api := New(identity.New(b), "X-API-Key", orch, b, b, b)
	ts := httptest.NewServer(api.Handler())
	t.Cleanup(ts.Close)
	return ts, b
}

func do(t *testing.T, method, url, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("X-API-Key", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestAuthRejections(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, _ := do(t, http.MethodGet, ts.URL+"/meetings", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodGet, ts.URL+"/meetings", "tok-bogus", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("bad token: status = %d, want 403", resp.StatusCode)
	}
}

func TestBotLifecycle(t *testing.T) {
	t.Parallel()
	ts, b := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/bots", "tok-7",
		`{"platform":"google_meet","meeting_url":"https://meet.google.com/abc-defg-hij"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /bots status = %d, want 201 (body %v)", resp.StatusCode, body)
	}
	if body["status"] != "started" || body["container_id"] == "" {
		t.Errorf("body = %v", body)
	}
	meetingID := body["meeting_id"].(float64)

	resp, body = do(t, http.MethodDelete, ts.URL+"/bots/google_meet/abc-defg-hij", "tok-7", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE status = %d, want 200 (body %v)", resp.StatusCode, body)
	}
	if body["status"] != "stopped" || body["meeting_id"].(float64) != meetingID {
		t.Errorf("body = %v", body)
	}
	if len(b.locks) != 0 {
		t.Error("lock key must be absent after stop")
	}
}

func TestRequestBotConflictEchoesTriple(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	payload := `{"platform":"google_meet","meeting_url":"https://meet.google.com/abc-defg-hij"}`
	if resp, _ := do(t, http.MethodPost, ts.URL+"/bots", "tok-7", payload); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first request: %d", resp.StatusCode)
	}

	resp, body := do(t, http.MethodPost, ts.URL+"/bots", "tok-7", payload)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	if body["status"] != "conflict" || body["meeting_id"] != "google_meet:abc-defg-hij:tok-7" {
		t.Errorf("body = %v", body)
	}
}

func TestRequestBotByNativeMeetingID(t *testing.T) {
	t.Parallel()
	ts, b := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/bots", "tok-7",
		`{"platform":"zoom","native_meeting_id":"123456789"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %v)", resp.StatusCode, body)
	}
	if body["status"] != "started" {
		t.Errorf("body = %v", body)
	}
	if !b.locks["zoom:123456789:tok-7"] {
		t.Error("lock for the id-derived triple must be held")
	}
}

func TestRequestBotBadURL(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, _ := do(t, http.MethodPost, ts.URL+"/bots", "tok-7",
		`{"platform":"google_meet","meeting_url":"https://example.com/nope"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStopBotWithoutLiveBot(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, body := do(t, http.MethodDelete, ts.URL+"/bots/google_meet/abc-defg-hij", "tok-7", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "not_found" {
		t.Errorf("body = %v", body)
	}
}

func TestListMeetings(t *testing.T) {
	t.Parallel()
	ts, b := newTestServer(t)

	for _, id := range []string{"abc-defg-hij", "xyz-abcd-efg"} {
		if _, err := b.CreateMeeting(context.Background(), storage.Meeting{
			TenantID: 7, Platform: platform.GoogleMeet, NativeID: id, Status: storage.StatusEnded,
		}); err != nil {
			t.Fatal(err)
		}
	}

	resp, body := do(t, http.MethodGet, ts.URL+"/meetings", "tok-7", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	meetings := body["meetings"].([]any)
	if len(meetings) != 2 {
		t.Errorf("meetings = %d, want 2", len(meetings))
	}
	// Most recent first.
	first := meetings[0].(map[string]any)
	if first["native_meeting_id"] != "xyz-abcd-efg" {
		t.Errorf("first meeting = %v", first)
	}
}

func TestGetTranscriptOrdersSegments(t *testing.T) {
	t.Parallel()
	ts, b := newTestServer(t)

	m, err := b.CreateMeeting(context.Background(), storage.Meeting{
		TenantID: 7, Platform: platform.GoogleMeet, NativeID: "abc-defg-hij", Status: storage.StatusActive,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, start := range []float64{1.0, 0.5, 2.5} {
		b.segments = append(b.segments, storage.Segment{
			MeetingID: m.ID, StartTime: start, EndTime: start + 0.4, Text: fmt.Sprintf("segment at %v", start),
		})
	}

	resp, body := do(t, http.MethodGet, ts.URL+"/transcripts/google_meet/abc-defg-hij", "tok-7", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	segments := body["segments"].([]any)
	starts := make([]float64, 0, len(segments))
	for _, s := range segments {
		starts = append(starts, s.(map[string]any)["start_time"].(float64))
	}
	want := []float64{0.5, 1.0, 2.5}
	for i, s := range starts {
		if s != want[i] {
			t.Fatalf("segment order = %v, want %v", starts, want)
		}
	}
}

func TestGetTranscriptUnknownMeeting(t *testing.T) {
	t.Parallel()
	ts, _ := newTestServer(t)

	resp, _ := do(t, http.MethodGet, ts.URL+"/transcripts/google_meet/abc-defg-hij", "tok-7", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	ts, b := newTestServer(t)

	b.segments = append(b.segments,
		storage.Segment{MeetingID: 1, StartTime: 0, EndTime: 1, Text: "one"},
		storage.Segment{MeetingID: 1, StartTime: 1, EndTime: 2, Text: "two"},
		storage.Segment{MeetingID: 2, StartTime: 0, EndTime: 1, Text: "three"},
	)

	resp, body := do(t, http.MethodGet, ts.URL+"/stats", "tok-7", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["total_segments"].(float64) != 3 {
		t.Errorf("total_segments = %v", body["total_segments"])
	}
}
