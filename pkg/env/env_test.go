package env

import "testing"

func TestGetPrefersPrefixedKey(t *testing.T) {
	t.Setenv("TABLESIDE_LOG_FORMAT", "console")
	t.Setenv("LOG_FORMAT", "json")
	if got := Get("LOG_FORMAT", "json"); got != "console" {
		t.Fatalf("expected console, got %q", got)
	}
}

func TestGetFallsBackToBareKey(t *testing.T) {
	t.Setenv("TABLESIDE_LOG_FORMAT", "")
	t.Setenv("LOG_FORMAT", "console")
	if got := Get("LOG_FORMAT", "json"); got != "console" {
		t.Fatalf("expected console, got %q", got)
	}
}

func TestGetTreatsBlankAsUnset(t *testing.T) {
	t.Setenv("TABLESIDE_INSTANCE_ID", "   ")
	t.Setenv("INSTANCE_ID", "")
	if got := Get("INSTANCE_ID", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
