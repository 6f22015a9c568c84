// Package manifest implements the authoritative per-job state record and its
// tamper-evident audit log. The manifest is the single source of truth for a
// job's pass-by-pass progress; writers are the only path by which it
// changes, and every write is atomic (temp-file + rename).
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
)

// CurrentVersion is the manifest schema version written by this build.
// Readers reject any manifest whose ManifestVersion is greater than this.
const CurrentVersion = 1

// PassRecord is one pass's entry in Manifest.PassStates.
type PassRecord struct {
	Status          domain.PassState `json:"status"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	EndedAt         *time.Time       `json:"ended_at,omitempty"`
	ArtifactPaths   []string         `json:"artifact_paths,omitempty"`
	ProcessedCount  int              `json:"processed_count"`
	ArtifactCount   int              `json:"artifact_count"`
	Error           string           `json:"error,omitempty"`
}

// Manifest is the JSON document written to {job_dir}/manifest.json.
type Manifest struct {
	ManifestVersion int                             `json:"manifest_version"`
	JobID           string                          `json:"job_id"`
	SourceID        string                          `json:"source_id"`
	SourceSHA       string                          `json:"source_sha"`
	Environment     domain.Environment              `json:"environment"`
	Phases          []domain.PassID                 `json:"phases"`
	PassStates      map[domain.PassID]*PassRecord    `json:"pass_states"`
	Gate0Decision   domain.Gate0Decision             `json:"gate0_decision"`
	CreatedAt       time.Time                        `json:"created_at"`
	UpdatedAt       time.Time                        `json:"updated_at"`
	FinalStatus     domain.FinalStatus               `json:"final_status"`

	path string
}

// forward maps each state to the set of states it may legally transition to.
var forward = map[domain.PassState][]domain.PassState{
	domain.PassPending:   {domain.PassRunning, domain.PassSkipped},
	domain.PassRunning:   {domain.PassSucceeded, domain.PassFailed, domain.PassSkipped},
	domain.PassSucceeded: {},
	domain.PassFailed:    {},
	domain.PassSkipped:   {},
}

func canTransition(from, to domain.PassState) bool {
	for _, allowed := range forward[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Init writes the initial manifest with all phases pending, at
// {jobDir}/manifest.json, and returns the in-memory handle.
func Init(jobDir, jobID, sourceID, sourceSHA string, environment domain.Environment, phases []domain.PassID, now time.Time) (*Manifest, error) {
	states := make(map[domain.PassID]*PassRecord, len(phases))
	for _, p := range phases {
		states[p] = &PassRecord{Status: domain.PassPending}
	}
	m := &Manifest{
		ManifestVersion: CurrentVersion,
		JobID:           jobID,
		SourceID:        sourceID,
		SourceSHA:       sourceSHA,
		Environment:     environment,
		Phases:          phases,
		PassStates:      states,
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
		FinalStatus:     domain.StatusCreated,
		path:            filepath.Join(jobDir, "manifest.json"),
	}
	if err := m.write(); err != nil {
		return nil, err
	}
	return m, nil
}

// Load reads and parses an existing manifest.json, rejecting any version
// newer than CurrentVersion.
func Load(jobDir string) (*Manifest, error) {
	path := filepath.Join(jobDir, "manifest.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrArtifactMissing, path)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.ManifestVersion > CurrentVersion {
		return nil, fmt.Errorf("%w: manifest_version %d newer than supported %d", domain.ErrUnsupportedManifestVersion, m.ManifestVersion, CurrentVersion)
	}
	m.path = path
	return &m, nil
}

// Transition moves passID's state from `from` to `to`, failing with
// ErrIllegalTransition if the current state does not match `from` or the
// move is not forward-only. apply merges additional record fields (counts,
// artifact paths, error text) into the pass record before writing.
func (m *Manifest) Transition(passID domain.PassID, from, to domain.PassState, apply func(*PassRecord), now time.Time) error {
	rec, ok := m.PassStates[passID]
	if !ok {
		return fmt.Errorf("%w: unknown pass %s", domain.ErrIllegalTransition, passID)
	}
	if rec.Status != from {
		return fmt.Errorf("%w: pass %s is %s, not %s", domain.ErrIllegalTransition, passID, rec.Status, from)
	}
	if !canTransition(from, to) {
		return fmt.Errorf("%w: pass %s cannot move %s -> %s", domain.ErrIllegalTransition, passID, from, to)
	}

	rec.Status = to
	switch to {
	case domain.PassRunning:
		t := now.UTC()
		rec.StartedAt = &t
	case domain.PassSucceeded, domain.PassFailed, domain.PassSkipped:
		t := now.UTC()
		rec.EndedAt = &t
	}
	if apply != nil {
		apply(rec)
	}
	m.UpdatedAt = now.UTC()
	return m.write()
}

// Finalize sets the job's final status. Only allowed when every phase is in
// a terminal state (succeeded/failed/skipped), or when finalStatus itself is
// FAILED or CANCELLED (an early abort).
func (m *Manifest) Finalize(finalStatus domain.FinalStatus, now time.Time) error {
	if finalStatus != domain.StatusFailed && finalStatus != domain.StatusCancelled {
		for id, rec := range m.PassStates {
			if rec.Status != domain.PassSucceeded && rec.Status != domain.PassFailed && rec.Status != domain.PassSkipped {
				return fmt.Errorf("%w: pass %s still %s", domain.ErrIllegalTransition, id, rec.Status)
			}
		}
	}
	m.FinalStatus = finalStatus
	m.UpdatedAt = now.UTC()
	return m.write()
}

// Path returns the on-disk location of manifest.json.
func (m *Manifest) Path() string { return m.path }

func (m *Manifest) write() error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tmp manifest: %w", err)
	}
	if f, ferr := os.OpenFile(tmp, os.O_WRONLY, 0o644); ferr == nil {
		f.Sync()
		f.Close()
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename manifest: %w", err)
	}
	return nil
}
