package domain

import (
	"path/filepath"
	"strconv"
	"strings"
)

// validEnvironment returns true if env is one of the recognized tiers.
func validEnvironment(env Environment) bool {
	return ValidEnvironments[env]
}

// ValidateIngestRequest checks an IngestRequest before it is admitted to the
// Orchestrator. Returns a *ValidationError wrapping a sentinel from errors.go
// on the first failure found.
func ValidateIngestRequest(req IngestRequest) error {
	if strings.TrimSpace(req.SourcePath) == "" {
		return NewValidationError("source_path", req.SourcePath, ErrInvalidRequest)
	}
	if filepath.Ext(req.SourcePath) != ".pdf" {
		return NewValidationError("source_path", req.SourcePath, ErrSourceUnreadable)
	}
	if !validEnvironment(req.Environment) {
		return NewValidationError("environment", string(req.Environment), ErrInvalidRequest)
	}
	return ValidatePolicy(req.Policy)
}

// ValidatePolicy checks a Policy's numeric ranges and enum fields.
func ValidatePolicy(p Policy) error {
	if p.SplitThresholdBytes < 0 {
		return NewValidationError("split_threshold_bytes", strconv.FormatInt(p.SplitThresholdBytes, 10), ErrInvalidRequest)
	}
	if p.FullRebuildThreshold < 0 || p.FullRebuildThreshold > 1 {
		return NewValidationError("full_rebuild_threshold", strconv.FormatFloat(p.FullRebuildThreshold, 'f', -1, 64), ErrInvalidRequest)
	}
	if p.SimilarityThreshold < 0 || p.SimilarityThreshold > 1 {
		return NewValidationError("similarity_threshold", strconv.FormatFloat(p.SimilarityThreshold, 'f', -1, 64), ErrInvalidRequest)
	}
	if p.ObsoletePolicy != ObsoleteHardDelete && p.ObsoletePolicy != ObsoleteSoftMark {
		return NewValidationError("obsolete_policy", string(p.ObsoletePolicy), ErrInvalidRequest)
	}
	if p.EmbedBatchSize <= 0 {
		return NewValidationError("embed_batch_size", strconv.Itoa(p.EmbedBatchSize), ErrInvalidRequest)
	}
	if p.ValidationThresholds.MinCoverageRatio < 0 || p.ValidationThresholds.MinCoverageRatio > 1 {
		return NewValidationError("validation_thresholds.min_coverage_ratio", strconv.FormatFloat(p.ValidationThresholds.MinCoverageRatio, 'f', -1, 64), ErrInvalidRequest)
	}
	return nil
}

// ValidateSource checks a resolved Source record.
func ValidateSource(s Source) error {
	if s.SourceID == "" {
		return NewValidationError("source_id", s.SourceID, ErrInvalidRequest)
	}
	if s.SizeBytes <= 0 {
		return NewValidationError("size_bytes", strconv.FormatInt(s.SizeBytes, 10), ErrSourceUnreadable)
	}
	if len(s.SHA256) != 64 {
		return NewValidationError("sha256", s.SHA256, ErrInvalidRequest)
	}
	return nil
}
