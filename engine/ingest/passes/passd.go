package passes

import (
	"fmt"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
	"github.com/WessleyAI/rulebook-ingest/pkg/gazetteer"
)

// VectorEnricher is Pass D: it embeds every chunk in batches of
// policy.EmbedBatchSize, tags each with gazetteer keywords, and upserts the
// result into the vector sink. Upsert is keyed by chunk_id and therefore
// idempotent across re-runs.
type VectorEnricher struct{}

func (VectorEnricher) ID() domain.PassID           { return domain.PassD }
func (VectorEnricher) RequiredInputs() []string    { return []string{"chunks.jsonl"} }
func (VectorEnricher) ProducedArtifacts() []string { return []string{"vectors.jsonl"} }

func (VectorEnricher) Execute(pc ingest.PassContext) ingest.PassResult {
	data, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassC, "chunks.jsonl")
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	chunks, err := unmarshalJSONL[Chunk](data)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	batchSize := pc.Policy.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	var records []VectorRecord
	var items []ingest.VectorUpsertItem

	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := pc.Adapters.Embedder.Embed(pc.Ctx, texts)
		if err != nil {
			return ingest.PassResult{Status: domain.PassFailed, Error: fmt.Sprintf("%v: %v", domain.ErrExternalUnavailable, err)}
		}
		if len(vectors) != len(batch) {
			return ingest.PassResult{Status: domain.PassFailed, Error: fmt.Sprintf("%v: embedder returned %d vectors for %d chunks", domain.ErrIntegrityViolation, len(vectors), len(batch))}
		}

		for i, c := range batch {
			keywords := gazetteer.Keywords(c.Text, nil)
			records = append(records, VectorRecord{ChunkID: c.ChunkID, SectionID: c.SectionID, Dim: len(vectors[i]), Keywords: keywords})
			items = append(items, ingest.VectorUpsertItem{
				ID:     c.ChunkID,
				Vector: vectors[i],
				Metadata: map[string]any{
					"section_id": c.SectionID,
					"source_id":  pc.Source.SourceID,
					"kind":       string(c.Kind),
					"page":       c.Page,
					"keywords":   keywords,
				},
			})
		}
	}

	if len(items) > 0 {
		if err := pc.Adapters.VectorSink.Upsert(pc.Ctx, items); err != nil {
			return ingest.PassResult{Status: domain.PassFailed, Error: fmt.Sprintf("%v: %v", domain.ErrExternalUnavailable, err)}
		}
	}

	out, err := marshalJSONL(records)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	w, err := pc.Store.WriteArtifact(pc.JobDir, domain.PassD, "vectors.jsonl", out)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	return ingest.PassResult{
		Status:         domain.PassSucceeded,
		ProcessedCount: len(records),
		ArtifactCount:  1,
		Artifacts:      []ingest.ArtifactOutput{{Name: "vectors.jsonl", SHA256: w.SHA256, Bytes: w.Bytes}},
	}
}
