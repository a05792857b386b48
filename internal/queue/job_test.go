package queue

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	if got := Key("alice", "dark"); got != "alice:dark" {
		t.Errorf("unexpected key %q", got)
	}
	j := &Job{User: "bob", Composition: "retro"}
	if got := j.Key(); got != "bob:retro" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestStatusTerminal(t *testing.T) {
	cases := map[Status]bool{
		StatusQueued:    false,
		StatusActive:    false,
		StatusCompleted: true,
		StatusFailed:    true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestJobFieldsRoundTrip(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &Job{
		ID:          "abc",
		User:        "alice",
		Composition: "dark",
		Payload:     json.RawMessage(`{"streak":12}`),
		Status:      StatusQueued,
		Attempts:    2,
		CreatedAt:   created,
	}

	fields := jobFields(in)
	asStrings := make(map[string]string, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			asStrings[k] = val
		case int:
			asStrings[k] = strconv.Itoa(val)
		}
	}

	out, err := jobFromFields(asStrings)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.ID != in.ID || out.User != in.User || out.Composition != in.Composition {
		t.Errorf("identity fields differ: %+v", out)
	}
	if out.Status != StatusQueued {
		t.Errorf("expected queued, got %s", out.Status)
	}
	if out.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", out.Attempts)
	}
	if string(out.Payload) != `{"streak":12}` {
		t.Errorf("payload differs: %s", out.Payload)
	}
	if !out.CreatedAt.Equal(created) {
		t.Errorf("created_at differs: %s", out.CreatedAt)
	}
}

func TestJobFromFieldsBadData(t *testing.T) {
	t.Run("bad attempts", func(t *testing.T) {
		_, err := jobFromFields(map[string]string{"id": "x", "attempts": "lots"})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("bad timestamp", func(t *testing.T) {
		_, err := jobFromFields(map[string]string{"id": "x", "created_at": "yesterday"})
		if err == nil {
			t.Error("expected error")
		}
	})
}
