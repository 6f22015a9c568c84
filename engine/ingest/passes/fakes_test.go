package passes

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/WessleyAI/rulebook-ingest/engine/artifact"
	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
)

// fakePDF is a stub PDFExtractor whose text is assigned page-by-page so
// tests can control fingerprinting and section assignment precisely.
type fakePDF struct {
	pages   map[int]string
	outline []ingest.OutlineEntry
	splits  []splitCall
}

type splitCall struct {
	destPath             string
	startPage, endPage int
}

func (f *fakePDF) Extract(ctx context.Context, path string) ([]ingest.ExtractedBlock, error) {
	var out []ingest.ExtractedBlock
	for page := 1; page <= len(f.pages); page++ {
		text, ok := f.pages[page]
		if !ok {
			continue
		}
		out = append(out, ingest.ExtractedBlock{Page: page, Kind: domain.KindParagraph, Text: text})
	}
	return out, nil
}

func (f *fakePDF) PageCount(ctx context.Context, path string) (int, error) {
	return len(f.pages), nil
}

func (f *fakePDF) Split(ctx context.Context, path, destPath string, startPage, endPage int) error {
	f.splits = append(f.splits, splitCall{destPath: destPath, startPage: startPage, endPage: endPage})
	return os.WriteFile(destPath, []byte(fmt.Sprintf("part %d-%d", startPage, endPage)), 0o644)
}

func (f *fakePDF) Outline(ctx context.Context, path string) ([]ingest.OutlineEntry, error) {
	return f.outline, nil
}

type fakeLM struct {
	response string
	err      error
}

func (f *fakeLM) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f.response, f.err
}

type fakeEmbedder struct {
	dim int
}

func (f *fakeEmbedder) Embed(ctx context.Context, batch []string) ([][]float32, error) {
	out := make([][]float32, len(batch))
	for i := range batch {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

type fakeVectorSink struct {
	upserted []ingest.VectorUpsertItem
	deleted  []string
}

func (f *fakeVectorSink) Upsert(ctx context.Context, items []ingest.VectorUpsertItem) error {
	f.upserted = append(f.upserted, items...)
	return nil
}

func (f *fakeVectorSink) Delete(ctx context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeGraphSink struct {
	applied       []ingest.GraphDelta
	deleted       []string
	markedObsolete []string
}

func (f *fakeGraphSink) ApplyDelta(ctx context.Context, delta ingest.GraphDelta) error {
	f.applied = append(f.applied, delta)
	return nil
}

func (f *fakeGraphSink) DeleteChunks(ctx context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeGraphSink) MarkObsolete(ctx context.Context, ids []string) error {
	f.markedObsolete = append(f.markedObsolete, ids...)
	return nil
}

// testPassContext creates a fresh job directory with the given source size
// and returns a PassContext ready for a single pass's Execute call.
func testPassContext(t *testing.T, sourceSizeBytes int64, adapters ingest.Adapters, policy domain.Policy) ingest.PassContext {
	t.Helper()
	root := t.TempDir()
	store := artifact.New(root)
	jobDir, err := store.CreateJobDir(domain.EnvTest, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	sourcePath := jobDir + "/source.pdf"
	if err := os.WriteFile(sourcePath, []byte("%PDF-1.4 fake rulebook content"), 0o644); err != nil {
		t.Fatal(err)
	}
	source := domain.Source{SourceID: "core-rules", Path: sourcePath, SizeBytes: sourceSizeBytes, SHA256: fakeSHA(), MIMEType: "application/pdf"}
	return ingest.PassContext{
		Ctx: context.Background(), JobID: "job-1", JobDir: jobDir, Source: source,
		Environment: domain.EnvTest, Policy: policy, Adapters: adapters, Store: store,
	}
}

func fakeSHA() string {
	return strings.Repeat("a", 64)
}

// failingPDF is a PDFExtractor whose every method errors, used to exercise
// failure paths without a real adapter.
type failingPDF struct{}

func (failingPDF) Extract(ctx context.Context, path string) ([]ingest.ExtractedBlock, error) {
	return nil, fmt.Errorf("extract failed")
}

func (failingPDF) PageCount(ctx context.Context, path string) (int, error) {
	return 0, fmt.Errorf("page count failed")
}

func (failingPDF) Split(ctx context.Context, path, destPath string, startPage, endPage int) error {
	return fmt.Errorf("split failed")
}

func (failingPDF) Outline(ctx context.Context, path string) ([]ingest.OutlineEntry, error) {
	return nil, fmt.Errorf("outline failed")
}
