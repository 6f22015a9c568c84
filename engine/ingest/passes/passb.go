package passes

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/WessleyAI/rulebook-ingest/engine/artifact"
	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
)

// SplitIndexEntry is one row of pass_B/split_index.json.
type SplitIndexEntry struct {
	PartIndex int    `json:"part_index"`
	Path      string `json:"path"` // relative to the job directory
	StartPage int    `json:"start_page"`
	EndPage   int    `json:"end_page"`
}

// LogicalSplitter is Pass B: sources larger than policy.SplitThresholdBytes
// are divided into page-aligned parts so later passes can be fanned out;
// smaller sources are left whole. The threshold comparison is strict: a
// source exactly at the threshold is not split.
type LogicalSplitter struct{}

func (LogicalSplitter) ID() domain.PassID           { return domain.PassB }
func (LogicalSplitter) RequiredInputs() []string    { return []string{"toc.json"} }
func (LogicalSplitter) ProducedArtifacts() []string { return []string{"split_index.json"} }

func (LogicalSplitter) Execute(pc ingest.PassContext) ingest.PassResult {
	tocData, err := pc.Store.ReadArtifact(pc.JobDir, domain.PassA, "toc.json")
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	var sections []TOCSection
	if err := json.Unmarshal(tocData, &sections); err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	if pc.Source.SizeBytes <= pc.Policy.SplitThresholdBytes {
		written, err := writeSplitIndex(pc, nil)
		if err != nil {
			return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
		}
		return ingest.PassResult{
			Status:        domain.PassSkipped,
			ArtifactCount: 1,
			Artifacts:     []ingest.ArtifactOutput{{Name: "split_index.json", SHA256: written.SHA256, Bytes: written.Bytes}},
		}
	}

	totalPages := 0
	for _, s := range sections {
		if s.EndPage > totalPages {
			totalPages = s.EndPage
		}
	}
	if totalPages == 0 {
		totalPages = 1
	}

	parts := splitThreshold(pc.Source.SizeBytes, pc.Policy.SplitThresholdBytes)
	if parts > totalPages {
		parts = totalPages
	}
	if parts < 1 {
		parts = 1
	}

	boundaries := evenPageBoundaries(totalPages, parts)
	partsDir := filepath.Join(pc.JobDir, "pass_"+string(domain.PassB), "parts")
	if err := os.MkdirAll(partsDir, 0o755); err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}

	var entries []SplitIndexEntry
	for i, b := range boundaries {
		relPath := filepath.Join("parts", fmt.Sprintf("%d.pdf", i))
		destPath := filepath.Join(pc.JobDir, "pass_"+string(domain.PassB), relPath)
		if err := pc.Adapters.PDF.Split(pc.Ctx, pc.Source.Path, destPath, b.start, b.end); err != nil {
			return ingest.PassResult{Status: domain.PassFailed, Error: fmt.Sprintf("%v: %v", domain.ErrExternalUnavailable, err)}
		}
		entries = append(entries, SplitIndexEntry{PartIndex: i, Path: relPath, StartPage: b.start, EndPage: b.end})
	}

	written, err := writeSplitIndex(pc, entries)
	if err != nil {
		return ingest.PassResult{Status: domain.PassFailed, Error: err.Error()}
	}
	return ingest.PassResult{
		Status:         domain.PassSucceeded,
		ProcessedCount: len(entries),
		ArtifactCount:  1,
		Artifacts:      []ingest.ArtifactOutput{{Name: "split_index.json", SHA256: written.SHA256, Bytes: written.Bytes}},
	}
}

func writeSplitIndex(pc ingest.PassContext, entries []SplitIndexEntry) (artifact.Written, error) {
	if entries == nil {
		entries = []SplitIndexEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return artifact.Written{}, err
	}
	return pc.Store.WriteArtifact(pc.JobDir, domain.PassB, "split_index.json", data)
}

// splitThreshold returns how many roughly-equal parts a source of sizeBytes
// needs so that each part stays near thresholdBytes.
func splitThreshold(sizeBytes, thresholdBytes int64) int {
	if thresholdBytes <= 0 {
		return 1
	}
	n := sizeBytes / thresholdBytes
	if sizeBytes%thresholdBytes != 0 {
		n++
	}
	return int(n)
}

type pageRange struct{ start, end int }

// evenPageBoundaries divides [1, totalPages] into n contiguous, non-overlapping,
// page-aligned ranges whose union is exactly [1, totalPages].
func evenPageBoundaries(totalPages, n int) []pageRange {
	base := totalPages / n
	remainder := totalPages % n
	out := make([]pageRange, 0, n)
	cursor := 1
	for i := 0; i < n; i++ {
		size := base
		if i < remainder {
			size++
		}
		if size < 1 {
			size = 1
		}
		start := cursor
		end := start + size - 1
		if i == n-1 || end > totalPages {
			end = totalPages
		}
		out = append(out, pageRange{start: start, end: end})
		cursor = end + 1
	}
	return out
}
