package schema

import (
	"encoding/json"
	"errors"
	"testing"
)

func validChatMessage() map[string]any {
	return map[string]any{
		"schema_name":    "ChatMessage",
		"schema_version": "1.0.0",
		"id":             "msg-1",
		"ts":             1700000000000,
		"room_id":        "room_a",
		"origin":         "human",
		"user_id":        "u1",
		"display_name":   "viewer_one",
		"content":        "hello chat",
	}
}

func marshal(t *testing.T, rec map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestValidateChatMessage(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name     string
		mutate   func(rec map[string]any)
		wantKind ErrorKind
		wantPath string
	}{
		{name: "valid", mutate: func(rec map[string]any) {}},
		{
			name:     "missing id",
			mutate:   func(rec map[string]any) { delete(rec, "id") },
			wantKind: KindMissingField,
			wantPath: "id",
		},
		{
			name:     "missing room",
			mutate:   func(rec map[string]any) { rec["room_id"] = "" },
			wantKind: KindMissingField,
			wantPath: "room_id",
		},
		{
			name:     "zero timestamp",
			mutate:   func(rec map[string]any) { rec["ts"] = 0 },
			wantKind: KindBadValue,
			wantPath: "ts",
		},
		{
			name:     "unknown origin",
			mutate:   func(rec map[string]any) { rec["origin"] = "alien" },
			wantKind: KindBadValue,
			wantPath: "origin",
		},
		{
			name:     "embedded newline",
			mutate:   func(rec map[string]any) { rec["content"] = "two\nlines" },
			wantKind: KindBadValue,
			wantPath: "content",
		},
		{
			name:     "unknown schema",
			mutate:   func(rec map[string]any) { rec["schema_name"] = "MysteryRecord" },
			wantKind: KindUnknownSchema,
			wantPath: "schema_name",
		},
		{
			name:     "major version bump rejected",
			mutate:   func(rec map[string]any) { rec["schema_version"] = "2.0.0" },
			wantKind: KindVersionMismatch,
			wantPath: "schema_version",
		},
		{
			name:   "minor version bump accepted",
			mutate: func(rec map[string]any) { rec["schema_version"] = "1.3.0" },
		},
		{
			name:   "unknown fields ignored",
			mutate: func(rec map[string]any) { rec["future_field"] = map[string]any{"x": 1} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validChatMessage()
			tt.mutate(rec)
			err := v.Validate(marshal(t, rec))
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var serr *Error
			if !errors.As(err, &serr) {
				t.Fatalf("Validate() = %v, want *Error", err)
			}
			if serr.Kind != tt.wantKind || serr.Path != tt.wantPath {
				t.Errorf("got (%s, %q), want (%s, %q)", serr.Kind, serr.Path, tt.wantKind, tt.wantPath)
			}
		})
	}
}

func TestValidateNotJSON(t *testing.T) {
	v := NewValidator()
	var serr *Error
	if err := v.Validate([]byte("not json")); !errors.As(err, &serr) || serr.Kind != KindMalformed {
		t.Fatalf("Validate() = %v, want malformed error", err)
	}
}

func TestValidateObservation(t *testing.T) {
	v := NewValidator()
	rec := map[string]any{
		"schema_name":    "StreamObservation",
		"schema_version": "1.0.0",
		"id":             "obs-1",
		"ts":             1700000000000,
		"room_id":        "room_a",
		"frame_id":       "frm-1",
		"frame_sha256":   "abc123",
		"summary":        "streamer lands a clutch play",
		"hype_level":     0.8,
	}
	if err := v.Validate(marshal(t, rec)); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}

	rec["hype_level"] = 1.5
	var serr *Error
	if err := v.Validate(marshal(t, rec)); !errors.As(err, &serr) || serr.Path != "hype_level" {
		t.Fatalf("Validate() = %v, want hype_level error", err)
	}

	rec["hype_level"] = 0.2
	long := make([]rune, 513)
	for i := range long {
		long[i] = 'x'
	}
	rec["summary"] = string(long)
	if err := v.Validate(marshal(t, rec)); !errors.As(err, &serr) || serr.Path != "summary" {
		t.Fatalf("Validate() = %v, want summary error", err)
	}
}

func TestValidateTranscript(t *testing.T) {
	v := NewValidator()
	rec := map[string]any{
		"schema_name":    "StreamTranscriptSegment",
		"schema_version": "1.0.0",
		"id":             "tr-1",
		"ts":             1700000000000,
		"room_id":        "room_a",
		"start_ms":       1000,
		"end_ms":         500,
		"text":           "hello",
	}
	var serr *Error
	if err := v.Validate(marshal(t, rec)); !errors.As(err, &serr) || serr.Path != "end_ms" {
		t.Fatalf("Validate() = %v, want end_ms error", err)
	}
}
