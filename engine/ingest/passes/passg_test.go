package passes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
	"github.com/WessleyAI/rulebook-ingest/engine/manifest"
)

func writeVectors(t *testing.T, pc ingest.PassContext, records []VectorRecord) {
	t.Helper()
	data, err := marshalJSONL(records)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pc.Store.WriteArtifact(pc.JobDir, domain.PassD, "vectors.jsonl", data); err != nil {
		t.Fatal(err)
	}
}

func TestHGRNValidator_CleanWhenFullyCovered(t *testing.T) {
	pc := testPassContext(t, 1000, ingest.Adapters{}, domain.DefaultPolicy())
	writeTOC(t, pc, []TOCSection{{SectionID: "section-1", Title: "Intro", StartPage: 1, EndPage: 1, Depth: 0}})
	writeChunks(t, pc, []Chunk{{ChunkID: "c1", SectionID: "section-1", Page: 1, Kind: domain.KindParagraph, Text: "t"}})
	writeVectors(t, pc, []VectorRecord{{ChunkID: "c1", SectionID: "section-1", Dim: 8}})
	writeGraphDelta(t, pc, ingest.GraphDelta{
		NodesUpsert: []ingest.GraphNode{{ID: "section-1", Label: "Section"}, {ID: "c1", Label: "Chunk"}},
		EdgesUpsert: []ingest.GraphEdge{{FromID: "section-1", ToID: "c1", Type: "contains"}},
	})

	result := HGRNValidator{}.Execute(pc)
	if result.Status != domain.PassSucceeded {
		t.Fatalf("expected success, got %s: %s", result.Status, result.Error)
	}
	if result.Error != "" {
		t.Fatalf("expected no warning marker on a clean run, got %q", result.Error)
	}
}

func TestHGRNValidator_FailsOnDanglingEdgeWithZeroTolerance(t *testing.T) {
	pc := testPassContext(t, 1000, ingest.Adapters{}, domain.DefaultPolicy())
	writeTOC(t, pc, []TOCSection{{SectionID: "section-1", Title: "Intro", StartPage: 1, EndPage: 1, Depth: 0}})
	writeChunks(t, pc, []Chunk{{ChunkID: "c1", SectionID: "section-1", Page: 1, Kind: domain.KindParagraph, Text: "t"}})
	writeVectors(t, pc, []VectorRecord{{ChunkID: "c1", SectionID: "section-1", Dim: 8}})
	writeGraphDelta(t, pc, ingest.GraphDelta{
		NodesUpsert: []ingest.GraphNode{{ID: "section-1", Label: "Section"}},
		EdgesUpsert: []ingest.GraphEdge{{FromID: "section-1", ToID: "missing-node", Type: "contains"}},
	})

	result := HGRNValidator{}.Execute(pc)
	if result.Status != domain.PassFailed {
		t.Fatalf("expected failure on a dangling edge with zero tolerance, got %s", result.Status)
	}
}

func TestHGRNValidator_FailsOnTamperedAuditChain(t *testing.T) {
	pc := testPassContext(t, 1000, ingest.Adapters{}, domain.DefaultPolicy())
	writeTOC(t, pc, []TOCSection{{SectionID: "section-1", Title: "Intro", StartPage: 1, EndPage: 1, Depth: 0}})
	writeChunks(t, pc, []Chunk{{ChunkID: "c1", SectionID: "section-1", Page: 1, Kind: domain.KindParagraph, Text: "t"}})
	writeVectors(t, pc, []VectorRecord{{ChunkID: "c1", SectionID: "section-1", Dim: 8}})
	writeGraphDelta(t, pc, ingest.GraphDelta{
		NodesUpsert: []ingest.GraphNode{{ID: "section-1", Label: "Section"}, {ID: "c1", Label: "Chunk"}},
		EdgesUpsert: []ingest.GraphEdge{{FromID: "section-1", ToID: "c1", Type: "contains"}},
	})

	al, err := manifest.OpenAuditLog(pc.JobDir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := al.Append("job", domain.PassA, "pass_started", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if _, err := al.Append("job", domain.PassA, "pass_succeeded", []byte(`{"count":1}`)); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(pc.JobDir, "audit.ndjson")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := append([]byte{}, data...)
	tampered[0] = 'X'
	if err := os.WriteFile(path, tampered, 0o644); err != nil {
		t.Fatal(err)
	}

	result := HGRNValidator{}.Execute(pc)
	if result.Status != domain.PassFailed {
		t.Fatalf("expected failure on a tampered audit chain, got %s", result.Status)
	}
}

func TestHGRNValidator_WarnsOnPartialCoverage(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.ValidationThresholds.MinCoverageRatio = 0.9
	pc := testPassContext(t, 1000, ingest.Adapters{}, policy)
	writeTOC(t, pc, []TOCSection{
		{SectionID: "section-1", Title: "Intro", StartPage: 1, EndPage: 1, Depth: 0},
		{SectionID: "section-2", Title: "Uncovered", StartPage: 2, EndPage: 2, Depth: 0},
	})
	writeChunks(t, pc, []Chunk{{ChunkID: "c1", SectionID: "section-1", Page: 1, Kind: domain.KindParagraph, Text: "t"}})
	writeVectors(t, pc, []VectorRecord{{ChunkID: "c1", SectionID: "section-1", Dim: 8}})
	writeGraphDelta(t, pc, ingest.GraphDelta{
		NodesUpsert: []ingest.GraphNode{{ID: "section-1", Label: "Section"}, {ID: "c1", Label: "Chunk"}},
		EdgesUpsert: []ingest.GraphEdge{{FromID: "section-1", ToID: "c1", Type: "contains"}},
	})

	result := HGRNValidator{}.Execute(pc)
	if result.Status != domain.PassSucceeded {
		t.Fatalf("expected succeeded-with-warnings to still be a succeeded PassResult, got %s: %s", result.Status, result.Error)
	}
	if result.Error == "" {
		t.Fatal("expected a warning marker in Error for partial coverage")
	}
}
