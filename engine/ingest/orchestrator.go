package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/WessleyAI/rulebook-ingest/engine/artifact"
	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/fingerprint"
	"github.com/WessleyAI/rulebook-ingest/engine/gate0"
	"github.com/WessleyAI/rulebook-ingest/engine/manifest"
	"golang.org/x/time/rate"
)

// Orchestrator drives jobs end-to-end: it asks Gate 0, constructs the job
// directory and manifest, then runs Passes A-G sequentially within a single
// worker slot. Distinct jobs run in parallel across slots.
type Orchestrator struct {
	store    *artifact.Store
	gate0    *gate0.Cache
	adapters Adapters
	passes   []Pass
	logger   *slog.Logger

	slots    chan struct{}
	admitter *rate.Limiter
}

// New builds an Orchestrator with workerSlots concurrent job slots and an
// admission rate of admitPerSecond new jobs per second (burst equal to
// workerSlots). admitPerSecond <= 0 disables admission throttling.
func New(store *artifact.Store, g0 *gate0.Cache, adapters Adapters, passes []Pass, workerSlots int, admitPerSecond float64, logger *slog.Logger) *Orchestrator {
	if workerSlots <= 0 {
		workerSlots = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if admitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(admitPerSecond), workerSlots)
	}
	return &Orchestrator{
		store:    store,
		gate0:    g0,
		adapters: adapters,
		passes:   passes,
		logger:   logger,
		slots:    make(chan struct{}, workerSlots),
		admitter: limiter,
	}
}

// Run admits req, blocks for a free worker slot, and drives the job to a
// terminal state (or BYPASSED). Safe to call concurrently; the caller
// typically fans this out over a worker pool of its own (e.g. one goroutine
// per incoming NATS message).
func (o *Orchestrator) Run(ctx context.Context, req domain.IngestRequest) domain.IngestResult {
	if err := domain.ValidateIngestRequest(req); err != nil {
		return domain.IngestResult{FinalStatus: domain.StatusFailed, Error: err.Error()}
	}

	if o.admitter != nil {
		if err := o.admitter.Wait(ctx); err != nil {
			return domain.IngestResult{FinalStatus: domain.StatusFailed, Error: err.Error()}
		}
	}

	source, err := resolveSource(req.SourcePath)
	if err != nil {
		return domain.IngestResult{FinalStatus: domain.StatusFailed, Error: err.Error()}
	}

	decision, err := o.gate0.Decide(source.SHA256, req.Environment, req.Policy)
	if err != nil {
		return domain.IngestResult{FinalStatus: domain.StatusFailed, Error: err.Error()}
	}
	defer decision.Unlock()

	if decision.Kind == domain.Gate0Bypass {
		return domain.IngestResult{
			JobID:       decision.PriorJobID,
			FinalStatus: domain.StatusBypassed,
		}
	}

	select {
	case o.slots <- struct{}{}:
	case <-ctx.Done():
		return domain.IngestResult{FinalStatus: domain.StatusFailed, Error: ctx.Err().Error()}
	}
	defer func() { <-o.slots }()

	return o.runJob(ctx, req, source, decision)
}

func (o *Orchestrator) runJob(ctx context.Context, req domain.IngestRequest, source domain.Source, decision *gate0.Decision) (result domain.IngestResult) {
	start := time.Now()
	jobID := fmt.Sprintf("%s_%s", artifact.SafeSourceID(source.SourceID), start.UTC().Format("20060102T150405Z"))

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("job.panic", "job_id", jobID, "recover", r)
			result = domain.IngestResult{JobID: jobID, FinalStatus: domain.StatusFailed, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	jobDir, err := o.store.CreateJobDir(req.Environment, jobID)
	if err != nil {
		return domain.IngestResult{JobID: jobID, FinalStatus: domain.StatusFailed, Error: err.Error()}
	}

	m, err := manifest.Init(jobDir, jobID, source.SourceID, source.SHA256, req.Environment, domain.Phases, start)
	if err != nil {
		return domain.IngestResult{JobID: jobID, FinalStatus: domain.StatusFailed, Error: err.Error()}
	}

	audit, err := manifest.OpenAuditLog(jobDir)
	if err != nil {
		return domain.IngestResult{JobID: jobID, FinalStatus: domain.StatusFailed, Error: err.Error()}
	}

	job := &Job{
		JobID: jobID, Source: source, Environment: req.Environment, Policy: req.Policy,
		JobDir: jobDir, Manifest: m, Audit: audit, Status: domain.StatusRunning, CreatedAt: start,
	}

	var changedSections []string
	if decision.Kind == domain.Gate0Delta {
		changedSections = decision.ChangedSections
	}

	summary := domain.Summary{}
	finalStatus := domain.StatusSucceeded
	var failErr string

	for _, p := range o.passes {
		select {
		case <-ctx.Done():
			m.Finalize(domain.StatusCancelled, time.Now())
			return domain.IngestResult{JobID: jobID, FinalStatus: domain.StatusCancelled, ManifestPath: m.Path(), Error: domain.ErrCancelled.Error()}
		default:
		}

		pc := PassContext{
			Ctx: ctx, JobID: jobID, JobDir: jobDir, Source: source, Environment: req.Environment,
			Policy: req.Policy, Adapters: o.adapters, Store: o.store, Logger: o.logger,
			DeltaChangedSections: changedSections,
		}
		res := runPass(pc, job, p)
		accumulateSummary(&summary, res)

		if res.Status == domain.PassFailed {
			finalStatus = domain.StatusFailed
			failErr = res.Error
			break
		}
	}

	summary.DurationMs = time.Since(start).Milliseconds()

	if finalStatus == domain.StatusSucceeded {
		if warn := passGWarnings(job); warn {
			finalStatus = domain.StatusSucceededWithWarnings
		}
	}

	if err := m.Finalize(finalStatus, time.Now()); err != nil {
		finalStatus = domain.StatusFailed
		failErr = err.Error()
	}

	if finalStatus == domain.StatusSucceeded || finalStatus == domain.StatusSucceededWithWarnings {
		if err := o.gate0.RecordSuccess(source.SHA256, req.Environment, jobID, summary.ChunkCount, m.Path()); err != nil {
			o.logger.Warn("gate0.record_success failed", "job_id", jobID, "error", err)
		}
	}

	return domain.IngestResult{
		JobID: jobID, FinalStatus: finalStatus, ManifestPath: m.Path(), Summary: summary, Error: failErr,
	}
}

func accumulateSummary(s *domain.Summary, res PassResult) {
	switch res.PassID {
	case domain.PassC:
		s.ChunkCount = res.ProcessedCount
	case domain.PassD:
		s.VectorCount = res.ProcessedCount
	}
}

// passGWarnings consults Pass G's validation record for a warning marker
// left in its PassRecord.Error field ("warnings:" prefix is not an actual
// failure; see passg.go).
func passGWarnings(job *Job) bool {
	rec, ok := job.Manifest.PassStates[domain.PassG]
	if !ok {
		return false
	}
	return rec.Status == domain.PassSucceeded && rec.Error != ""
}

// detectMIMEType sniffs the first 512 bytes of path per the net/http
// content-sniffing algorithm, falling back to "application/pdf" when the
// file can't be opened (the extension-based default every job was built
// against before this detector existed).
func detectMIMEType(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "application/pdf"
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return http.DetectContentType(buf[:n])
}

func resolveSource(path string) (domain.Source, error) {
	sha, err := fingerprint.FileSHA(path)
	if err != nil {
		return domain.Source{}, fmt.Errorf("%w: %v", domain.ErrSourceUnreadable, err)
	}
	info, err := statSize(path)
	if err != nil {
		return domain.Source{}, fmt.Errorf("%w: %v", domain.ErrSourceUnreadable, err)
	}
	source := domain.Source{
		SourceID:   deriveSourceID(path),
		Path:       path,
		SizeBytes:  info,
		SHA256:     sha,
		MIMEType:   detectMIMEType(path),
		GameSystem: domain.DetectGameSystem(path),
	}
	if err := domain.ValidateSource(source); err != nil {
		return domain.Source{}, err
	}
	return source, nil
}
