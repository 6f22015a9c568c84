package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/manifest"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// passTracer is the tracer every pass execution gets a child span from,
// named the way pkg/fn.Then names its own ("pkg/fn").
var passTracer = otel.Tracer("passengine")

// runPass executes a single pass against pc, enforcing the execution policy:
// verify required inputs exist, transition pending->running, invoke with a
// bounded timeout, then transition to the terminal state and append an audit
// event. Stubbing is forbidden: for Pass C (see requiresNonEmptyOutput),
// reporting succeeded with ProcessedCount==0 on a non-empty source is an
// integrity violation.
func runPass(pc PassContext, job *Job, p Pass) PassResult {
	passID := p.ID()
	logger := pc.Logger

	for _, name := range p.RequiredInputs() {
		if !requiredInputExists(pc, passID, name) {
			return failResult(passID, fmt.Errorf("%w: required input %s", domain.ErrArtifactMissing, name))
		}
	}

	if err := job.Manifest.Transition(passID, domain.PassPending, domain.PassRunning, nil, time.Now()); err != nil {
		return failResult(passID, err)
	}
	job.Audit.Append(job.JobID, passID, "pass_started", []byte(`{}`))

	timeoutMs := pc.Policy.PerPassTimeoutsMs[passID]
	if timeoutMs <= 0 {
		timeoutMs = 30 * 60 * 1000
	}
	ctx, cancel := context.WithTimeout(pc.Ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	spanCtx, span := passTracer.Start(ctx, string(passID))
	pc.Ctx = spanCtx

	start := time.Now()
	result := invokeWithRecover(p, pc)
	result.DurationMs = time.Since(start).Milliseconds()
	result.PassID = passID

	if result.Status == domain.PassFailed {
		span.SetStatus(codes.Error, result.Error)
	}
	span.End()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) && result.Status != domain.PassSucceeded {
		result.Status = domain.PassFailed
		result.Error = fmt.Sprintf("%v: timeout", domain.ErrCancelled)
	}

	if result.Status == domain.PassSucceeded {
		if result.ProcessedCount == 0 && pc.Source.SizeBytes > 0 && requiresNonEmptyOutput(passID) {
			result.Status = domain.PassFailed
			result.Error = fmt.Sprintf("%v: pass %s reported success with zero processed_count on non-empty source", domain.ErrIntegrityViolation, passID)
		}
	}

	var artifactPaths []string
	for _, a := range result.Artifacts {
		artifactPaths = append(artifactPaths, a.Name)
	}

	switch result.Status {
	case domain.PassSucceeded, domain.PassSkipped:
		err := job.Manifest.Transition(passID, domain.PassRunning, result.Status, func(r *manifest.PassRecord) {
			applyPassRecord(r, result, artifactPaths)
		}, time.Now())
		if err != nil {
			result.Status = domain.PassFailed
			result.Error = err.Error()
		} else {
			job.Audit.Append(job.JobID, passID, "pass_succeeded", []byte(fmt.Sprintf(`{"processed_count":%d}`, result.ProcessedCount)))
		}
	case domain.PassFailed:
		job.Manifest.Transition(passID, domain.PassRunning, domain.PassFailed, func(r *manifest.PassRecord) {
			applyPassRecord(r, result, artifactPaths)
		}, time.Now())
		job.Audit.Append(job.JobID, passID, "pass_failed", []byte(fmt.Sprintf(`{"error":%q}`, result.Error)))
	}

	if logger != nil {
		logger.Info("pass.done", "pass", passID, "status", result.Status, "processed_count", result.ProcessedCount, "duration_ms", result.DurationMs)
	}
	return result
}

// requiresNonEmptyOutput names the passes whose contract requires real work
// on a non-empty source (the integrity gate named in the design notes).
func requiresNonEmptyOutput(id domain.PassID) bool {
	return id == domain.PassC
}

// requiredInputExists checks every earlier pass's output directory for
// name, since a pass may depend on artifacts from more than one
// predecessor (Pass E reads both Pass A's and Pass C's output).
func requiredInputExists(pc PassContext, passID domain.PassID, name string) bool {
	idx := indexOf(domain.Phases, passID)
	for i := 0; i < idx; i++ {
		if _, err := pc.Store.ReadArtifact(pc.JobDir, domain.Phases[i], name); err == nil {
			return true
		}
	}
	return false
}

func applyPassRecord(r *manifest.PassRecord, result PassResult, artifactPaths []string) {
	r.ProcessedCount = result.ProcessedCount
	r.ArtifactCount = result.ArtifactCount
	r.ArtifactPaths = artifactPaths
	r.Error = result.Error
}

func indexOf(phases []domain.PassID, id domain.PassID) int {
	for i, p := range phases {
		if p == id {
			return i
		}
	}
	return -1
}

func failResult(id domain.PassID, err error) PassResult {
	return PassResult{PassID: id, Status: domain.PassFailed, Error: (&PassError{PassID: id, Wrapped: err}).Error()}
}

// invokeWithRecover runs a pass's Execute, converting any panic into a
// failed PassResult rather than taking down the worker slot.
func invokeWithRecover(p Pass, pc PassContext) (result PassResult) {
	defer func() {
		if r := recover(); r != nil {
			result = failResult(p.ID(), fmt.Errorf("%w: pass panicked: %v", domain.ErrIntegrityViolation, r))
		}
	}()
	return p.Execute(pc)
}
