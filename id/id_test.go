package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/darkroomhq/darkroom/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
		{"SubscriberID", id.NewSubscriberID, "sub_"},
		{"ScheduleID", id.NewScheduleID, "sched_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := id.NewJobID()

	parsed, err := id.Parse(orig.String())
	if err != nil {
		t.Fatalf("Parse(%q) returned error: %v", orig, err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip mismatch: %q != %q", parsed, orig)
	}
	if parsed.Prefix() != id.PrefixJob {
		t.Errorf("Prefix() = %q, want %q", parsed.Prefix(), id.PrefixJob)
	}
}

func TestParseRejectsEmptyAndGarbage(t *testing.T) {
	for _, s := range []string{"", "not a typeid", "JOB_UPPERCASE"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}

func TestParseWithPrefix(t *testing.T) {
	jobID := id.NewJobID()

	if _, err := id.ParseJobID(jobID.String()); err != nil {
		t.Errorf("ParseJobID(%q) returned error: %v", jobID, err)
	}
	if _, err := id.ParseWorkerID(jobID.String()); err == nil {
		t.Error("ParseWorkerID should reject a job-prefixed ID")
	}
}

func TestNilID(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}
	if id.NewJobID().IsNil() {
		t.Error("fresh ID should not be nil")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	orig := id.NewWorkerID()

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded id.ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.String() != orig.String() {
		t.Errorf("JSON round trip mismatch: %q != %q", decoded, orig)
	}
}

func TestScanAndValue(t *testing.T) {
	orig := id.NewJobID()

	val, err := orig.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if scanned.String() != orig.String() {
		t.Errorf("Scan/Value round trip mismatch: %q != %q", scanned, orig)
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil): %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("Scan(nil) should produce the Nil ID")
	}
}
