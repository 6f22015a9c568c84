// Package ingest drives the per-document pipeline: the seven-pass engine
// (Passes A-G), per-job state machine, and the worker pool that runs many
// jobs concurrently while keeping each job's own passes strictly sequential.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/WessleyAI/rulebook-ingest/engine/artifact"
	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/manifest"
)

// PassError wraps a taxonomy sentinel (see engine/domain/errors.go) with the
// pass it occurred in, the same field/value wrapping role
// domain.ValidationError plays for request validation. PassResult.Error
// stores its formatted text rather than the error value itself, since the
// manifest's PassRecord is a plain JSON document; construct a PassError with
// errors.As against a PassResult's originating error before it's flattened
// to a string, not after.
type PassError struct {
	PassID  domain.PassID
	Wrapped error
}

func (e *PassError) Error() string {
	return fmt.Sprintf("pass %s: %v", e.PassID, e.Wrapped)
}

func (e *PassError) Unwrap() error { return e.Wrapped }

// ExtractedBlock is one unit of layout-aware content pulled from a PDF page.
type ExtractedBlock struct {
	Page int
	Kind domain.SectionKind
	Text string
	BBox [4]float64 // x0,y0,x1,y1; zero value means unknown
}

// PDFExtractor is the adapter boundary to whatever library extracts text and
// layout blocks from a PDF.
type PDFExtractor interface {
	Extract(ctx context.Context, path string) ([]ExtractedBlock, error)
	PageCount(ctx context.Context, path string) (int, error)
	// Split writes a page-range-bounded copy of path to destPath, covering
	// pages [startPage, endPage] inclusive, 1-indexed.
	Split(ctx context.Context, path, destPath string, startPage, endPage int) error
	// Outline returns the PDF's structural bookmarks/outline, if any. A nil
	// slice (not an error) means the document has no discoverable outline.
	Outline(ctx context.Context, path string) ([]OutlineEntry, error)
}

// OutlineEntry is one bookmark/outline node as reported by the PDF's
// structural metadata (distinct from a model-inferred TOC).
type OutlineEntry struct {
	Title     string
	StartPage int
	Depth     int
}

// LanguageModel is the adapter boundary to a text-completion capability,
// used by Pass A to recognize headings the document's outline omits.
type LanguageModel interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// EmbeddingModel is the adapter boundary to an embedding capability, used by
// Pass D.
type EmbeddingModel interface {
	Embed(ctx context.Context, batch []string) ([][]float32, error)
}

// VectorUpsertItem is one point written to the vector sink.
type VectorUpsertItem struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// VectorSink is the adapter boundary to the vector store. Upsert must be
// idempotent keyed by ID.
type VectorSink interface {
	Upsert(ctx context.Context, items []VectorUpsertItem) error
	Delete(ctx context.Context, ids []string) error
}

// GraphNode is one node upsert in a GraphDelta.
type GraphNode struct {
	ID         string
	Label      string // Section | Chunk | Entity | Concept
	Properties map[string]any
}

// GraphEdge is one edge upsert in a GraphDelta.
type GraphEdge struct {
	FromID string
	ToID   string
	Type   string // contains | cites | refers_to | part_of
}

// GraphDelta is Pass E's staged output: a pure value with two sets so the
// sink can apply nodes before edges without in-memory cyclic ownership.
type GraphDelta struct {
	NodesUpsert []GraphNode
	EdgesUpsert []GraphEdge
}

// GraphSink is the adapter boundary to the graph store. ApplyDelta must be
// idempotent and must apply all nodes before any edge.
type GraphSink interface {
	ApplyDelta(ctx context.Context, delta GraphDelta) error
	DeleteChunks(ctx context.Context, chunkIDs []string) error
	MarkObsolete(ctx context.Context, chunkIDs []string) error
}

// Adapters bundles every external capability the pass engine needs. Built
// once by the CLI driver and threaded through every job — no ambient
// globals.
type Adapters struct {
	PDF        PDFExtractor
	LM         LanguageModel
	Embedder   EmbeddingModel
	VectorSink VectorSink
	GraphSink  GraphSink
}

// PassContext is what a Pass receives on execute. It carries everything the
// pass needs without reaching into ambient state.
type PassContext struct {
	Ctx         context.Context
	JobID       string
	JobDir      string
	Source      domain.Source
	Environment domain.Environment
	Policy      domain.Policy
	Adapters    Adapters
	Store       *artifact.Store
	Logger      *slog.Logger

	// DeltaChangedSections is non-nil only when Gate 0 returned DELTA;
	// passes that support selective reprocessing consult it.
	DeltaChangedSections []string
}

// PassResult is what a Pass returns from Execute.
type PassResult struct {
	PassID         domain.PassID
	Status         domain.PassState
	ProcessedCount int
	ArtifactCount  int
	Artifacts      []ArtifactOutput
	DurationMs     int64
	Error          string
}

// ArtifactOutput is one file a pass wrote, already persisted via the
// Artifact Store by the time PassResult is returned.
type ArtifactOutput struct {
	Name   string
	SHA256 string
	Bytes  int64
}

// Pass is the uniform contract every stage (A-G) implements.
type Pass interface {
	ID() domain.PassID
	RequiredInputs() []string
	ProducedArtifacts() []string
	Execute(pc PassContext) PassResult
}

// Job is one invocation of the pipeline for one source in one environment.
type Job struct {
	JobID       string
	Source      domain.Source
	Environment domain.Environment
	Policy      domain.Policy
	JobDir      string
	Manifest    *manifest.Manifest
	Audit       *manifest.AuditLog
	Status      domain.FinalStatus
	CreatedAt   time.Time
}
