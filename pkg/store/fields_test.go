package store

import "testing"

func TestBuildUpdate_Deterministic(t *testing.T) {
	query, args, err := buildUpdate("tok_1", Fields{
		"status":            "ended",
		"resumption_handle": nil,
		"ended_at":          "2026-03-01T09:30:00Z",
	})
	if err != nil {
		t.Fatalf("buildUpdate() error: %v", err)
	}

	want := "UPDATE interview_sessions SET ended_at = $2, resumption_handle = $3, status = $4, updated_at = now() WHERE token = $1"
	if query != want {
		t.Fatalf("query = %q, want %q", query, want)
	}
	if len(args) != 4 {
		t.Fatalf("args = %v", args)
	}
	if args[0] != "tok_1" {
		t.Fatalf("args[0] = %v, want token", args[0])
	}
	if args[2] != nil {
		t.Fatalf("resumption_handle arg = %v, want nil", args[2])
	}
	if args[3] != "ended" {
		t.Fatalf("status arg = %v", args[3])
	}
}

func TestBuildUpdate_RejectsUnknownColumn(t *testing.T) {
	if _, _, err := buildUpdate("tok", Fields{"token": "evil"}); err == nil {
		t.Fatalf("expected error for non-updatable column")
	}
	if _, _, err := buildUpdate("tok", Fields{"status; DROP TABLE": "x"}); err == nil {
		t.Fatalf("expected error for injected column name")
	}
}

func TestBuildUpdate_EmptyFieldsIsNoop(t *testing.T) {
	query, args, err := buildUpdate("tok", nil)
	if err != nil {
		t.Fatalf("buildUpdate() error: %v", err)
	}
	if query != "" || args != nil {
		t.Fatalf("empty fields should produce no statement, got %q %v", query, args)
	}
}
