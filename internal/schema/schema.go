// Package schema validates bus records against the registered record shapes.
//
// Every record on the bus is a JSON object carrying schema_name and
// schema_version. The validator checks the envelope first (name known,
// version compatible) and then the per-schema required fields and value
// constraints. Unknown fields are ignored so that newer producers can add
// fields without breaking older consumers; a version bump in the minor or
// patch position is accepted as long as the major matches.
package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/itsDarianNgo/Chatter/pkg/types"
)

// ErrorKind classifies a validation failure.
type ErrorKind string

const (
	// KindMalformed means the payload was not a JSON object at all.
	KindMalformed ErrorKind = "malformed"

	// KindUnknownSchema means schema_name is not registered.
	KindUnknownSchema ErrorKind = "unknown_schema"

	// KindVersionMismatch means schema_version has a different major version
	// than the registered one, or does not parse as semver.
	KindVersionMismatch ErrorKind = "version_mismatch"

	// KindMissingField means a required field is absent or empty.
	KindMissingField ErrorKind = "missing_field"

	// KindBadValue means a field is present but violates its constraint.
	KindBadValue ErrorKind = "bad_value"
)

// Error is a structured validation failure. Path is a dotted JSON path into
// the record ("" for envelope-level failures).
type Error struct {
	Kind    ErrorKind
	Path    string
	Message string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("schema: %s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("schema: %s at %q: %s", e.Kind, e.Path, e.Message)
}

func errf(kind ErrorKind, path, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}

// checker validates the decoded record body after the envelope has passed.
type checker func(rec map[string]any) *Error

// Validator holds the registry of known record shapes.
//
// The zero value is not usable; construct with NewValidator, which registers
// all record kinds this repository knows about. A Validator is safe for
// concurrent use because the registry is immutable after construction.
type Validator struct {
	registry map[string]entry
}

type entry struct {
	version string
	check   checker
}

// NewValidator returns a Validator with every bus record kind registered at
// its current version.
func NewValidator() *Validator {
	return &Validator{registry: map[string]entry{
		types.SchemaChatMessage:       {types.SchemaVersionChatMessage, checkChatMessage},
		types.SchemaStreamObservation: {types.SchemaVersionObservation, checkObservation},
		types.SchemaStreamFrame:       {types.SchemaVersionFrame, checkFrame},
		types.SchemaStreamTranscript:  {types.SchemaVersionTranscript, checkTranscript},
	}}
}

// Validate decodes payload and checks it against the registered shape for its
// schema_name. It returns nil when the record is acceptable and a *Error
// describing the first failure otherwise.
func (v *Validator) Validate(payload []byte) error {
	var rec map[string]any
	if err := json.Unmarshal(payload, &rec); err != nil {
		return errf(KindMalformed, "", "not a JSON object: %v", err)
	}
	name, _ := rec["schema_name"].(string)
	if name == "" {
		return errf(KindMissingField, "schema_name", "required")
	}
	ent, ok := v.registry[name]
	if !ok {
		return errf(KindUnknownSchema, "schema_name", "unknown schema %q", name)
	}
	version, _ := rec["schema_version"].(string)
	if version == "" {
		return errf(KindMissingField, "schema_version", "required")
	}
	if err := compatibleVersion(ent.version, version); err != nil {
		return err
	}
	if err := checkEnvelope(rec); err != nil {
		return err
	}
	if err := ent.check(rec); err != nil {
		return err
	}
	return nil
}

// compatibleVersion accepts any version whose major component matches the
// registered version. Minor and patch drift is additive only, so older
// consumers tolerate it.
func compatibleVersion(registered, got string) *Error {
	wantMajor, ok := majorOf(registered)
	if !ok {
		return errf(KindVersionMismatch, "schema_version", "registered version %q is not semver", registered)
	}
	gotMajor, ok := majorOf(got)
	if !ok {
		return errf(KindVersionMismatch, "schema_version", "version %q is not semver", got)
	}
	if gotMajor != wantMajor {
		return errf(KindVersionMismatch, "schema_version", "major version %d incompatible with %d", gotMajor, wantMajor)
	}
	return nil
}

func majorOf(version string) (int, bool) {
	head, _, ok := strings.Cut(version, ".")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(head)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// checkEnvelope verifies the fields every record kind shares.
func checkEnvelope(rec map[string]any) *Error {
	if s, _ := rec["id"].(string); s == "" {
		return errf(KindMissingField, "id", "required")
	}
	ts, ok := rec["ts"].(float64)
	if !ok {
		return errf(KindMissingField, "ts", "required numeric UTC millisecond timestamp")
	}
	if ts <= 0 {
		return errf(KindBadValue, "ts", "must be a positive UTC millisecond timestamp")
	}
	if s, _ := rec["room_id"].(string); s == "" {
		return errf(KindMissingField, "room_id", "required")
	}
	return nil
}

func requireString(rec map[string]any, field string) *Error {
	if s, _ := rec[field].(string); s == "" {
		return errf(KindMissingField, field, "required")
	}
	return nil
}

func checkChatMessage(rec map[string]any) *Error {
	origin, _ := rec["origin"].(string)
	if origin == "" {
		return errf(KindMissingField, "origin", "required")
	}
	if !types.Origin(origin).IsValid() {
		return errf(KindBadValue, "origin", "unknown origin %q", origin)
	}
	for _, f := range []string{"user_id", "display_name"} {
		if err := requireString(rec, f); err != nil {
			return err
		}
	}
	content, ok := rec["content"].(string)
	if !ok {
		return errf(KindMissingField, "content", "required")
	}
	if strings.ContainsAny(content, "\r\n") {
		return errf(KindBadValue, "content", "must be a single line")
	}
	return nil
}

func checkObservation(rec map[string]any) *Error {
	for _, f := range []string{"frame_id", "frame_sha256"} {
		if err := requireString(rec, f); err != nil {
			return err
		}
	}
	summary, ok := rec["summary"].(string)
	if !ok || summary == "" {
		return errf(KindMissingField, "summary", "required")
	}
	if len([]rune(summary)) > 512 {
		return errf(KindBadValue, "summary", "exceeds 512 characters")
	}
	if hype, ok := rec["hype_level"].(float64); ok && (hype < 0 || hype > 1) {
		return errf(KindBadValue, "hype_level", "must be within [0, 1]")
	}
	return nil
}

func checkFrame(rec map[string]any) *Error {
	for _, f := range []string{"path", "sha256"} {
		if err := requireString(rec, f); err != nil {
			return err
		}
	}
	return nil
}

func checkTranscript(rec map[string]any) *Error {
	start, ok := rec["start_ms"].(float64)
	if !ok {
		return errf(KindMissingField, "start_ms", "required")
	}
	end, ok := rec["end_ms"].(float64)
	if !ok {
		return errf(KindMissingField, "end_ms", "required")
	}
	if end < start {
		return errf(KindBadValue, "end_ms", "must not precede start_ms")
	}
	if _, ok := rec["text"].(string); !ok {
		return errf(KindMissingField, "text", "required")
	}
	return nil
}
