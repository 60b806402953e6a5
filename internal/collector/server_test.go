package collector

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestServerKeepsConnectionAcrossBadFrames(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	transcripts := newFakeTranscripts()
	ts := httptest.NewServer(NewServer(newProcessor(cache, transcripts)))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, ts.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	readError := func() errorFrame {
		t.Helper()
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ef errorFrame
		if err := json.Unmarshal(data, &ef); err != nil {
			t.Fatalf("unmarshal error frame: %v", err)
		}
		return ef
	}

	// Malformed JSON draws an error frame but keeps the connection open.
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	if ef := readError(); ef.Status != "error" {
		t.Errorf("error frame = %+v", ef)
	}

	// A valid frame on the same connection is processed normally.
	frame := `{"meeting_id":1,"segments":[{"start_time":1.0,"end_time":2.0,"text":"Hello world","completed":true}]}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatal(err)
	}

	// An unknown meeting draws another error frame. Frames are handled in
	// order, so its arrival proves the previous frame was processed.
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"meeting_id":999,"segments":[]}`)); err != nil {
		t.Fatal(err)
	}
	if ef := readError(); ef.Status != "error" {
		t.Errorf("error frame = %+v", ef)
	}

	if n := transcripts.rowCount(); n != 1 {
		t.Errorf("stored rows = %d, want 1", n)
	}
}
