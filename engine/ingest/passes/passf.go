package passes

import (
	"encoding/json"
	"fmt"

	"github.com/WessleyAI/rulebook-ingest/engine/delta"
	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
)

// RunSummary is pass_F/run_summary.json.
type RunSummary struct {
	ProcessedChunks       int    `json:"processed_chunks"`
	SweptOrphans          int    `json:"swept_orphans"`
	ObsoleteChunksHandled int    `json:"obsolete_chunks_handled"`
	ObsoletePolicy        string `json:"obsolete_policy"`
	FullRebuild           bool   `json:"full_rebuild"`
}

// Finalizer is Pass F: it sweeps this job's own orphaned temp files left by
// a crashed write (the root-wide sweep for orphans left by other jobs runs
// once at orchestrator startup, not here), retires chunks belonging to
// sections the delta tracker found obsolete against the most recent other
// job directory for the same source, and emits the run's summary.
type Finalizer struct{}

func (Finalizer) ID() domain.PassID           { return domain.PassF }
func (Finalizer) RequiredInputs() []string    { return []string{"chunks.jsonl", "graph_delta.json"} }
func (Finalizer) ProducedArtifacts() []string { return []string{"run_summary.json"} }

func (Finalizer) Execute(pc ingest.PassContext) ingest.PassResult {
	chunksData, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassC, "chunks.jsonl")
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	currentChunks, err := unmarshalJSONL[Chunk](chunksData)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	swept, err := pc.Store.SweepOrphans(pc.JobDir)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	obsoleteHandled := 0
	fullRebuild := false
	if pc.Policy.AllowDelta && !pc.Policy.ForceFull {
		handled, fr, err := purgeObsoleteChunks(pc)
		if err != nil {
			return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
		}
		obsoleteHandled = handled
		fullRebuild = fr
	}

	summary := RunSummary{
		ProcessedChunks:       len(currentChunks),
		SweptOrphans:          swept,
		ObsoleteChunksHandled: obsoleteHandled,
		ObsoletePolicy:        string(pc.Policy.ObsoletePolicy),
		FullRebuild:           fullRebuild,
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	w, err := pc.Store.WriteArtifact(pc.JobDir, domain.PassF, "run_summary.json", data)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	return ingest.PassResult{
		Status:         domain.PassSucceeded,
		ProcessedCount: len(currentChunks),
		ArtifactCount:  1,
		Artifacts:      []ingest.ArtifactOutput{{Name: "run_summary.json", SHA256: w.SHA256, Bytes: w.Bytes}},
	}
}

// purgeObsoleteChunks compares this run's sections against the most recent
// other job directory for the same source (that job's final status is not
// checked), and retires chunks belonging to
// sections the prior job had but this one no longer does, per
// policy.ObsoletePolicy.
func purgeObsoleteChunks(pc ingest.PassContext) (handled int, fullRebuild bool, err error) {
	dirs, err := pc.Store.ListJobDirs(pc.Environment, pc.Source.SourceID)
	if err != nil {
		return 0, false, err
	}
	var priorDir string
	for _, d := range dirs {
		if d != pc.JobDir {
			priorDir = d
			break
		}
	}
	if priorDir == "" {
		return 0, false, nil
	}

	priorSectionData, err := pc.Store.ReadArtifact(priorDir, domain.PassC, "section_fingerprints.json")
	if err != nil {
		return 0, false, nil
	}
	var priorSections []SectionFingerprintRecord
	if err := json.Unmarshal(priorSectionData, &priorSections); err != nil {
		return 0, false, nil
	}

	currentSectionData, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassC, "section_fingerprints.json")
	if err != nil {
		return 0, false, err
	}
	var currentSections []SectionFingerprintRecord
	if err := json.Unmarshal(currentSectionData, &currentSections); err != nil {
		return 0, false, err
	}

	result := delta.Compute(toFingerprints(currentSections), toFingerprints(priorSections), pc.Policy.SimilarityThreshold, pc.Policy.FullRebuildThreshold)
	if len(result.ObsoleteSectionIDs) == 0 {
		return 0, result.FullRebuild, nil
	}

	priorChunksData, err := pc.Store.ReadArtifact(priorDir, domain.PassC, "chunks.jsonl")
	if err != nil {
		return 0, result.FullRebuild, nil
	}
	priorChunks, err := unmarshalJSONL[Chunk](priorChunksData)
	if err != nil {
		return 0, result.FullRebuild, nil
	}

	obsolete := make(map[string]bool, len(result.ObsoleteSectionIDs))
	for _, id := range result.ObsoleteSectionIDs {
		obsolete[id] = true
	}
	var obsoleteChunkIDs []string
	for _, c := range priorChunks {
		if obsolete[c.SectionID] {
			obsoleteChunkIDs = append(obsoleteChunkIDs, c.ChunkID)
		}
	}
	if len(obsoleteChunkIDs) == 0 {
		return 0, result.FullRebuild, nil
	}

	switch pc.Policy.ObsoletePolicy {
	case domain.ObsoleteHardDelete:
		if err := pc.Adapters.GraphSink.DeleteChunks(pc.Ctx, obsoleteChunkIDs); err != nil {
			return 0, result.FullRebuild, fmt.Errorf("%w: %v", domain.ErrExternalUnavailable, err)
		}
		if err := pc.Adapters.VectorSink.Delete(pc.Ctx, obsoleteChunkIDs); err != nil {
			return 0, result.FullRebuild, fmt.Errorf("%w: %v", domain.ErrExternalUnavailable, err)
		}
	default:
		if err := pc.Adapters.GraphSink.MarkObsolete(pc.Ctx, obsoleteChunkIDs); err != nil {
			return 0, result.FullRebuild, fmt.Errorf("%w: %v", domain.ErrExternalUnavailable, err)
		}
	}

	return len(obsoleteChunkIDs), result.FullRebuild, nil
}

func toFingerprints(records []SectionFingerprintRecord) []delta.SectionFingerprint {
	out := make([]delta.SectionFingerprint, len(records))
	for i, r := range records {
		out[i] = delta.SectionFingerprint{
			SectionID: r.SectionID, Title: r.Title, Depth: r.Depth,
			StartPage: r.StartPage, EndPage: r.EndPage, SectionSHA: r.SectionSHA,
		}
	}
	return out
}
