package passes

import (
	"encoding/json"
	"fmt"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
	"github.com/WessleyAI/rulebook-ingest/engine/manifest"
)

// ValidationReport is pass_G/validation_report.json.
type ValidationReport struct {
	TotalSections     int     `json:"total_sections"`
	CoveredSections   int     `json:"covered_sections"`
	CoverageRatio     float64 `json:"coverage_ratio"`
	TotalEdges        int     `json:"total_edges"`
	DanglingEdges     int     `json:"dangling_edges"`
	DanglingEdgeRatio float64 `json:"dangling_edge_ratio"`
	MinCoverageRatio  float64 `json:"min_coverage_ratio"`
	MaxDanglingRatio  float64 `json:"max_dangling_edge_ratio"`
	Outcome           string  `json:"outcome"` // clean | warnings | failed
}

// HGRNValidator is Pass G, the final gate: it verifies the job's audit log
// hash chain end-to-end, cross-checks chunk-to-section coverage and
// graph-edge referential integrity against policy.ValidationThresholds, and
// decides whether the job finishes clean, with warnings, or failed outright.
type HGRNValidator struct{}

func (HGRNValidator) ID() domain.PassID        { return domain.PassG }
func (HGRNValidator) RequiredInputs() []string { return []string{"toc.json", "chunks.jsonl", "vectors.jsonl", "graph_delta.json"} }
func (HGRNValidator) ProducedArtifacts() []string {
	return []string{"validation_report.json"}
}

func (HGRNValidator) Execute(pc ingest.PassContext) ingest.PassResult {
	if err := manifest.VerifyChain(pc.JobDir); err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	tocData, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassA, "toc.json")
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	var sections []TOCSection
	if err := json.Unmarshal(tocData, &sections); err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	chunksData, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassC, "chunks.jsonl")
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	chunks, err := unmarshalJSONL[Chunk](chunksData)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	vectorsData, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassD, "vectors.jsonl")
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	vectors, err := unmarshalJSONL[VectorRecord](vectorsData)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	graphData, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassE, "graph_delta.json")
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	var graphDelta ingest.GraphDelta
	if err := json.Unmarshal(graphData, &graphDelta); err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	sectionHasChunk := make(map[string]bool)
	for _, c := range chunks {
		sectionHasChunk[c.SectionID] = true
	}
	sectionHasVector := make(map[string]bool)
	for _, v := range vectors {
		sectionHasVector[v.SectionID] = true
	}

	covered := 0
	for _, s := range sections {
		if sectionHasChunk[s.SectionID] && sectionHasVector[s.SectionID] {
			covered++
		}
	}
	coverageRatio := 1.0
	if len(sections) > 0 {
		coverageRatio = float64(covered) / float64(len(sections))
	}

	nodeIDs := make(map[string]bool, len(graphDelta.NodesUpsert))
	for _, n := range graphDelta.NodesUpsert {
		nodeIDs[n.ID] = true
	}
	dangling := 0
	for _, e := range graphDelta.EdgesUpsert {
		if !nodeIDs[e.FromID] || !nodeIDs[e.ToID] {
			dangling++
		}
	}
	danglingRatio := 0.0
	if len(graphDelta.EdgesUpsert) > 0 {
		danglingRatio = float64(dangling) / float64(len(graphDelta.EdgesUpsert))
	}

	thresholds := pc.Policy.ValidationThresholds
	outcome := "clean"
	var warnErr string
	switch {
	case coverageRatio < thresholds.MinCoverageRatio*0.5:
		outcome = "failed"
	case danglingRatio > thresholds.MaxDanglingEdgeRatio:
		// Exceeding the dangling-edge tolerance fails the job; at the default
		// tolerance of 0, any dangling edge does.
		outcome = "failed"
	case coverageRatio < thresholds.MinCoverageRatio || dangling > 0:
		outcome = "warnings"
		warnErr = fmt.Sprintf("warnings: coverage_ratio=%.4f dangling_edge_ratio=%.4f", coverageRatio, danglingRatio)
	}

	report := ValidationReport{
		TotalSections: len(sections), CoveredSections: covered, CoverageRatio: coverageRatio,
		TotalEdges: len(graphDelta.EdgesUpsert), DanglingEdges: dangling, DanglingEdgeRatio: danglingRatio,
		MinCoverageRatio: thresholds.MinCoverageRatio, MaxDanglingRatio: thresholds.MaxDanglingEdgeRatio,
		Outcome: outcome,
	}
	data, err := json.Marshal(report)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	w, err := pc.Store.WriteArtifact(pc.JobDir, domain.PassG, "validation_report.json", data)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	artifacts := []ingest.ArtifactOutput{{Name: "validation_report.json", SHA256: w.SHA256, Bytes: w.Bytes}}

	if outcome == "failed" {
		return ingest.PassResult{
			Status: domain.PassFailed, ProcessedCount: len(sections), ArtifactCount: 1, Artifacts: artifacts,
			Error: fmt.Sprintf("%v: coverage_ratio=%.4f dangling_edge_ratio=%.4f below thresholds", domain.ErrIntegrityViolation, coverageRatio, danglingRatio),
		}
	}

	return ingest.PassResult{
		Status: domain.PassSucceeded, ProcessedCount: len(sections), ArtifactCount: 1, Artifacts: artifacts,
		Error: warnErr,
	}
}
