// Package domain defines the core domain types, constants, and validation for
// the rulebook ingestion pipeline. It acts as the validation gate at pipeline
// entry points.
package domain

import (
	"strings"
	"time"
)

// Environment is one of the three recognized deployment tiers a job can run
// against.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvTest Environment = "test"
	EnvProd Environment = "prod"
)

// ValidEnvironments is the set of recognized environment tags.
var ValidEnvironments = map[Environment]bool{
	EnvDev: true, EnvTest: true, EnvProd: true,
}

// FinalStatus is the lifecycle state of a Job, including non-terminal ones.
type FinalStatus string

const (
	StatusCreated               FinalStatus = "CREATED"
	StatusRunning               FinalStatus = "RUNNING"
	StatusSucceeded             FinalStatus = "SUCCEEDED"
	StatusSucceededWithWarnings FinalStatus = "SUCCEEDED_WITH_WARNINGS"
	StatusFailed                FinalStatus = "FAILED"
	StatusBypassed              FinalStatus = "BYPASSED"
	StatusCancelled             FinalStatus = "CANCELLED"
)

// PassID identifies one of the seven fixed pipeline stages.
type PassID string

const (
	PassA PassID = "A" // TOC Parser
	PassB PassID = "B" // Logical Splitter
	PassC PassID = "C" // Content Extraction
	PassD PassID = "D" // Vector Enrichment
	PassE PassID = "E" // Graph Builder
	PassF PassID = "F" // Finalizer
	PassG PassID = "G" // HGRN Validation
)

// Phases is the fixed, ordered pass sequence every job executes.
var Phases = []PassID{PassA, PassB, PassC, PassD, PassE, PassF, PassG}

// PassState is the lifecycle of a single pass within a job's manifest.
type PassState string

const (
	PassPending   PassState = "pending"
	PassRunning   PassState = "running"
	PassSucceeded PassState = "succeeded"
	PassFailed    PassState = "failed"
	PassSkipped   PassState = "skipped"
)

// ObsoletePolicy governs how delta-obsoleted chunks are handled in Pass F.
type ObsoletePolicy string

const (
	ObsoleteHardDelete ObsoletePolicy = "hard_delete"
	ObsoleteSoftMark   ObsoletePolicy = "soft_mark"
)

// ValidationThresholds configures Pass G's SUCCEEDED_WITH_WARNINGS vs FAILED
// decision.
type ValidationThresholds struct {
	// MinCoverageRatio is the minimum fraction of sections that must carry
	// at least one chunk and one vector for the job to pass cleanly.
	MinCoverageRatio float64
	// MaxDanglingEdgeRatio is the maximum tolerated fraction of graph edges
	// referencing an endpoint outside the committed delta before the job
	// is failed outright rather than merely warned.
	MaxDanglingEdgeRatio float64
}

// DefaultValidationThresholds mirrors a conservative validation pass: small
// shortfalls degrade to warnings, larger ones fail the job.
func DefaultValidationThresholds() ValidationThresholds {
	return ValidationThresholds{
		MinCoverageRatio:     0.95,
		MaxDanglingEdgeRatio: 0.0,
	}
}

// Policy tunes a single ingestion request's behavior. The zero value is
// incomplete; callers should start from DefaultPolicy.
type Policy struct {
	ForceFull              bool                 `json:"force_full"`
	AllowDelta             bool                 `json:"allow_delta"`
	SplitThresholdBytes    int64                `json:"split_threshold_bytes"`
	FullRebuildThreshold   float64              `json:"full_rebuild_threshold"`
	SimilarityThreshold    float64              `json:"similarity_threshold"`
	SplitMustBePageAligned bool                 `json:"split_must_be_page_aligned"`
	ObsoletePolicy         ObsoletePolicy       `json:"obsolete_policy"`
	PerPassTimeoutsMs      map[PassID]int64     `json:"per_pass_timeouts_ms"`
	EmbedBatchSize         int                  `json:"embed_batch_size"`
	ValidationThresholds   ValidationThresholds `json:"validation_thresholds"`
	AllowConcurrentBlock   bool                 `json:"allow_concurrent_block"`
}

// DefaultPerPassTimeouts mirrors the documented per-pass defaults.
func DefaultPerPassTimeouts() map[PassID]int64 {
	return map[PassID]int64{
		PassA: 10 * 60 * 1000,
		PassB: 10 * 60 * 1000,
		PassC: 30 * 60 * 1000,
		PassD: 45 * 60 * 1000,
		PassE: 20 * 60 * 1000,
		PassF: 5 * 60 * 1000,
		PassG: 5 * 60 * 1000,
	}
}

// DefaultPolicy returns the documented default policy.
func DefaultPolicy() Policy {
	return Policy{
		ForceFull:              false,
		AllowDelta:             true,
		SplitThresholdBytes:    26_214_400,
		FullRebuildThreshold:   0.5,
		SimilarityThreshold:    0.6,
		SplitMustBePageAligned: true,
		ObsoletePolicy:         ObsoleteSoftMark,
		PerPassTimeoutsMs:      DefaultPerPassTimeouts(),
		EmbedBatchSize:         64,
		ValidationThresholds:   DefaultValidationThresholds(),
		AllowConcurrentBlock:   true,
	}
}

// Source describes the input document being ingested. Immutable per ingest.
type Source struct {
	SourceID   string          `json:"source_id"`
	Path       string          `json:"path"`
	SizeBytes  int64           `json:"size_bytes"`
	SHA256     string          `json:"sha256"`
	MIMEType   string          `json:"mime_type"`
	GameSystem *GameSystemInfo `json:"game_system,omitempty"`
}

// GameSystemInfo identifies the tabletop ruleset a rulebook belongs to, when
// DetectGameSystem recognizes a system name in the source's file name.
// Absent when no recognized system name appears.
type GameSystemInfo struct {
	System    string `json:"system"`              // e.g. "D&D", "Pathfinder"
	Edition   string `json:"edition,omitempty"`   // e.g. "5e", "2e"
	Publisher string `json:"publisher,omitempty"` // e.g. "Wizards of the Coast"
}

// knownGameSystems maps a lowercase filename/title substring to the game
// system it identifies. Matched greedily in DetectGameSystem; order doesn't
// matter since entries are disjoint substrings.
var knownGameSystems = map[string]GameSystemInfo{
	"dnd5e":         {System: "D&D", Edition: "5e", Publisher: "Wizards of the Coast"},
	"dnd-5e":        {System: "D&D", Edition: "5e", Publisher: "Wizards of the Coast"},
	"d&d5e":         {System: "D&D", Edition: "5e", Publisher: "Wizards of the Coast"},
	"pathfinder2e":  {System: "Pathfinder", Edition: "2e", Publisher: "Paizo"},
	"pathfinder-2e": {System: "Pathfinder", Edition: "2e", Publisher: "Paizo"},
	"pf2e":          {System: "Pathfinder", Edition: "2e", Publisher: "Paizo"},
	"callofcthulhu": {System: "Call of Cthulhu", Publisher: "Chaosium"},
	"starfinder":    {System: "Starfinder", Publisher: "Paizo"},
}

// DetectGameSystem does a best-effort, filename-only lookup of a recognized
// tabletop ruleset. It never inspects file contents.
func DetectGameSystem(name string) *GameSystemInfo {
	lower := strings.ToLower(name)
	for key, info := range knownGameSystems {
		if strings.Contains(lower, key) {
			found := info
			return &found
		}
	}
	return nil
}

// IngestRequest is the sole entry point into the Orchestrator.
type IngestRequest struct {
	SourcePath  string      `json:"source_path"`
	Environment Environment `json:"environment"`
	Policy      Policy      `json:"policy"`
}

// Summary is the aggregate counts reported in an IngestResult.
type Summary struct {
	ChunkCount     int   `json:"chunk_count"`
	VectorCount    int   `json:"vector_count"`
	GraphNodeCount int   `json:"graph_node_count"`
	GraphEdgeCount int   `json:"graph_edge_count"`
	DurationMs     int64 `json:"duration_ms"`
}

// IngestResult is returned once a job reaches a terminal state (or BYPASSED).
type IngestResult struct {
	JobID        string      `json:"job_id"`
	FinalStatus  FinalStatus `json:"final_status"`
	ManifestPath string      `json:"manifest_path"`
	Summary      Summary     `json:"summary"`
	Error        string      `json:"error,omitempty"`
}

// Gate0Kind distinguishes the three Gate 0 decisions.
type Gate0Kind string

const (
	Gate0Bypass  Gate0Kind = "BYPASS"
	Gate0Proceed Gate0Kind = "PROCEED"
	Gate0Delta   Gate0Kind = "DELTA"
)

// Gate0Decision is recorded verbatim into the manifest.
type Gate0Decision struct {
	Kind            Gate0Kind `json:"kind"`
	PriorJobID      string    `json:"prior_job_id,omitempty"`
	ChangedSections []string  `json:"changed_sections,omitempty"`
}

// SectionKind classifies a Chunk's structural role within its section.
type SectionKind string

const (
	KindTitle        SectionKind = "title"
	KindParagraph    SectionKind = "paragraph"
	KindList         SectionKind = "list"
	KindTable        SectionKind = "table"
	KindImageCaption SectionKind = "image_caption"
)

// ValidChunkKinds is the set of recognized chunk kinds.
var ValidChunkKinds = map[SectionKind]bool{
	KindTitle: true, KindParagraph: true, KindList: true,
	KindTable: true, KindImageCaption: true,
}

// JobTimestamps tracks a job's creation/last-update times, always RFC3339 UTC
// when serialized.
type JobTimestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
