package graph

import (
	"testing"

	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
)

// Compile-time check that GraphStore satisfies ingest.GraphSink.
var _ ingest.GraphSink = (*GraphStore)(nil)

func TestNew(t *testing.T) {
	gs := New(nil)
	if gs == nil {
		t.Fatal("expected non-nil GraphStore")
	}
	if gs.nodes == nil {
		t.Fatal("expected node repo to be wired")
	}
}

func TestSanitizeRelType(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"contains", "CONTAINS"},
		{"refers_to", "REFERS_TO"},
		{"part-of!", "PARTOF"},
		{"", "RELATED_TO"},
		{"###", "RELATED_TO"},
	}
	for _, c := range cases {
		if got := sanitizeRelType(c.in); got != c.want {
			t.Errorf("sanitizeRelType(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestApplyDelta_EmptyDeltaIsNoop(t *testing.T) {
	// ApplyDelta with an empty delta issues no statements, so it must not
	// touch the driver at all and must not panic on a nil driver.
	gs := New(nil)
	if err := gs.ApplyDelta(nil, ingest.GraphDelta{}); err != nil {
		t.Fatalf("unexpected error on empty delta: %v", err)
	}
}

func TestDeleteChunks_EmptyIsNoop(t *testing.T) {
	gs := New(nil)
	if err := gs.DeleteChunks(nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMarkObsolete_EmptyIsNoop(t *testing.T) {
	gs := New(nil)
	if err := gs.MarkObsolete(nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
