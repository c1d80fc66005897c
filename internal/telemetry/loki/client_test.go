package loki

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func capturePush(t *testing.T, status int) (*httptest.Server, *PushRequest) {
	t.Helper()
	captured := &PushRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, captured)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestPushEvent(t *testing.T) {
	srv, captured := capturePush(t, http.StatusNoContent)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := PushEvent(context.Background(), srv.URL, ts, `{"hello":"world"}`, map[string]string{"event_type": "account_logged_in"})
	if err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	if len(captured.Streams) != 1 {
		t.Fatalf("streams: want 1, got %d", len(captured.Streams))
	}
	stream := captured.Streams[0]
	if stream.Stream["job"] != "accounts" {
		t.Errorf("job label: %v", stream.Stream)
	}
	if stream.Stream["event_type"] != "account_logged_in" {
		t.Errorf("event_type label: %v", stream.Stream)
	}
	if len(stream.Values) != 1 || stream.Values[0][1] != `{"hello":"world"}` {
		t.Errorf("values: %v", stream.Values)
	}
}

func TestPushEventJSON_LabelsFromEvent(t *testing.T) {
	srv, captured := capturePush(t, http.StatusNoContent)

	raw := []byte(`{"account_id":"acc-1","event_type":"password_changed","source":"auth_service","created_at":"2026-01-02T03:04:05Z"}`)
	if err := PushEventJSON(context.Background(), srv.URL, raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	stream := captured.Streams[0]
	if stream.Stream["account_id"] != "acc-1" || stream.Stream["event_type"] != "password_changed" {
		t.Errorf("labels: %v", stream.Stream)
	}
	// Timestamp comes from the event, not the wall clock.
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixNano()
	if got := stream.Values[0][0]; got != strconv.FormatInt(want, 10) {
		t.Errorf("timestamp: want %d, got %s", want, got)
	}
}

func TestPushEventJSON_UnparseableLine(t *testing.T) {
	srv, captured := capturePush(t, http.StatusNoContent)

	if err := PushEventJSON(context.Background(), srv.URL, []byte("not json at all")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	stream := captured.Streams[0]
	if stream.Values[0][1] != "not json at all" {
		t.Errorf("raw line must still be pushed: %v", stream.Values)
	}
	if len(stream.Stream) != 1 {
		t.Errorf("only the job label expected: %v", stream.Stream)
	}
}

func TestPushEvent_Errors(t *testing.T) {
	if err := PushEvent(context.Background(), "", time.Now(), "x", nil); err == nil {
		t.Error("empty base URL must fail")
	}
	srv, _ := capturePush(t, http.StatusInternalServerError)
	if err := PushEvent(context.Background(), srv.URL, time.Now(), "x", nil); err == nil {
		t.Error("non-2xx must fail")
	}
}
