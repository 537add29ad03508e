package filter

import "testing"

func drain(f *Filter, chunks []string) string {
	var out string
	for _, c := range chunks {
		out += f.Apply(c)
	}
	out += f.Flush()
	return out
}

func TestFilterRedactsOpenAIKeyWithinOneChunk(t *testing.T) {
	f, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := drain(f, []string{"here is my key sk-abcdefghijklmnopqrstuvwxyz1234 thanks"})
	if got != "here is my key [REDACTED] thanks" {
		t.Fatalf("unexpected redaction: %q", got)
	}
}

func TestFilterRedactsKeyValuePair(t *testing.T) {
	f, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := drain(f, []string{"config: password=hunter2secret more text"})
	if got != "config: [REDACTED] more text" {
		t.Fatalf("unexpected redaction: %q", got)
	}
}

func TestFilterRedactsSSNSplitAcrossChunks(t *testing.T) {
	f, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := drain(f, []string{"my ssn is 123-45", "-6789 ok"})
	if got != "my ssn is [REDACTED_PII] ok" {
		t.Fatalf("unexpected redaction across chunk boundary: %q", got)
	}
}

func TestFilterCustomPattern(t *testing.T) {
	f, err := New(Config{Extra: []ConfigPattern{{Pattern: `internal-[0-9]+`, Replacement: "[REDACTED_INTERNAL]"}}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := drain(f, []string{"ticket internal-4821 filed"})
	if got != "ticket [REDACTED_INTERNAL] filed" {
		t.Fatalf("unexpected redaction: %q", got)
	}
}

func TestFilterLeavesBenignTextUntouched(t *testing.T) {
	f, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := drain(f, []string{"nothing sensitive here"})
	if got != "nothing sensitive here" {
		t.Fatalf("expected untouched text, got %q", got)
	}
}
