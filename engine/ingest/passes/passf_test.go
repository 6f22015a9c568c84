package passes

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/WessleyAI/rulebook-ingest/engine/artifact"
	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
)

func writeGraphDelta(t *testing.T, pc ingest.PassContext, delta ingest.GraphDelta) {
	t.Helper()
	writeGraphDeltaAt(t, pc.Store, pc.JobDir, delta)
}

func writeGraphDeltaAt(t *testing.T, store *artifact.Store, jobDir string, delta ingest.GraphDelta) {
	t.Helper()
	data, err := json.Marshal(delta)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.WriteArtifact(jobDir, domain.PassE, "graph_delta.json", data); err != nil {
		t.Fatal(err)
	}
}

func writeSectionFingerprintsAt(t *testing.T, store *artifact.Store, jobDir string, records []SectionFingerprintRecord) {
	t.Helper()
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.WriteArtifact(jobDir, domain.PassC, "section_fingerprints.json", data); err != nil {
		t.Fatal(err)
	}
}

func writeChunksAt(t *testing.T, store *artifact.Store, jobDir string, chunks []Chunk) {
	t.Helper()
	data, err := marshalJSONL(chunks)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.WriteArtifact(jobDir, domain.PassC, "chunks.jsonl", data); err != nil {
		t.Fatal(err)
	}
}

func TestFinalizer_SweepsOrphansAndWritesSummary(t *testing.T) {
	pc := testPassContext(t, 1000, ingest.Adapters{GraphSink: &fakeGraphSink{}, VectorSink: &fakeVectorSink{}}, domain.DefaultPolicy())
	writeChunks(t, pc, []Chunk{{ChunkID: "c1", SectionID: "section-1", Page: 1, Kind: domain.KindParagraph, Text: "text"}})
	writeGraphDelta(t, pc, ingest.GraphDelta{})

	orphan := filepath.Join(pc.JobDir, "pass_C", "stray.tmp")
	if err := os.WriteFile(orphan, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := Finalizer{}.Execute(pc)
	if result.Status != domain.PassSucceeded {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Error)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("expected orphaned .tmp file to be swept")
	}

	data, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassF, "run_summary.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty run summary")
	}
}

func TestFinalizer_PurgesObsoleteChunksFromPriorJob(t *testing.T) {
	root := t.TempDir()
	store := artifact.New(root)

	priorJobDir, err := store.CreateJobDir(domain.EnvTest, "core-rules_20260101T000000Z")
	if err != nil {
		t.Fatal(err)
	}
	writeSectionFingerprintsAt(t, store, priorJobDir, []SectionFingerprintRecord{
		{SectionID: "section-1", Title: "Intro", Depth: 0, StartPage: 1, EndPage: 1, SectionSHA: "x"},
		{SectionID: "section-2", Title: "Obsolete", Depth: 0, StartPage: 2, EndPage: 2, SectionSHA: "y"},
	})
	writeChunksAt(t, store, priorJobDir, []Chunk{
		{ChunkID: "old-1", SectionID: "section-1", Page: 1, Kind: domain.KindParagraph, Text: "kept"},
		{ChunkID: "old-2", SectionID: "section-2", Page: 2, Kind: domain.KindParagraph, Text: "gone"},
	})

	// Ensure the current job directory sorts after the prior one.
	time.Sleep(2 * time.Millisecond)
	currentJobDir, err := store.CreateJobDir(domain.EnvTest, "core-rules_20260102T000000Z")
	if err != nil {
		t.Fatal(err)
	}
	writeSectionFingerprintsAt(t, store, currentJobDir, []SectionFingerprintRecord{
		{SectionID: "section-1", Title: "Intro", Depth: 0, StartPage: 1, EndPage: 1, SectionSHA: "x"},
	})
	writeChunksAt(t, store, currentJobDir, []Chunk{
		{ChunkID: "new-1", SectionID: "section-1", Page: 1, Kind: domain.KindParagraph, Text: "kept"},
	})
	writeGraphDeltaAt(t, store, currentJobDir, ingest.GraphDelta{})

	sourcePath := filepath.Join(currentJobDir, "source.pdf")
	if err := os.WriteFile(sourcePath, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	source := domain.Source{SourceID: "core-rules", Path: sourcePath, SizeBytes: 1000, SHA256: fakeSHA(), MIMEType: "application/pdf"}

	policy := domain.DefaultPolicy()
	policy.ObsoletePolicy = domain.ObsoleteSoftMark
	sink := &fakeGraphSink{}
	pc := ingest.PassContext{
		Ctx: context.Background(), JobID: "job-2", JobDir: currentJobDir, Source: source,
		Environment: domain.EnvTest, Policy: policy,
		Adapters: ingest.Adapters{GraphSink: sink, VectorSink: &fakeVectorSink{}},
		Store:    store,
	}

	result := Finalizer{}.Execute(pc)
	if result.Status != domain.PassSucceeded {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Error)
	}
	if len(sink.markedObsolete) != 1 || sink.markedObsolete[0] != "old-2" {
		t.Fatalf("expected old-2 marked obsolete, got %v", sink.markedObsolete)
	}
}
