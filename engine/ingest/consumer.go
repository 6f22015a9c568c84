package ingest

import (
	"context"
	"log/slog"

	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/pkg/natsutil"
	"github.com/nats-io/nats.go"
)

// RequestSubject is the NATS subject carrying incoming IngestRequest
// messages.
const RequestSubject = "ingest.request"

// DLQSubject receives requests that a job could not even be admitted for
// (validation or preflight failure) — distinct from a per-job failure, which
// is reported on the per-job status subject instead.
const DLQSubject = "ingest.request.dlq"

// StatusSubjectFor returns the per-job status subject, ingest.status.<job_id>.
// The job_id is not known until admission, so StartConsumer publishes the
// results of requests that fail before a job_id is assigned on DLQSubject
// instead.
func StatusSubjectFor(jobID string) string {
	return "ingest.status." + jobID
}

// StartConsumer subscribes to RequestSubject and drives each admitted
// request through orch, publishing the terminal IngestResult on
// ingest.status.<job_id>. One goroutine is spawned per message so that a
// slow job never blocks delivery of the next request; the Orchestrator's own
// worker-slot semaphore provides the real concurrency bound.
func StartConsumer(nc *nats.Conn, orch *Orchestrator, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return natsutil.Subscribe(nc, RequestSubject, func(ctx context.Context, req domain.IngestRequest) {
		go func() {
			result := orch.Run(ctx, req)
			subject := StatusSubjectFor(result.JobID)
			if result.JobID == "" {
				subject = DLQSubject
			}
			if err := natsutil.Publish(ctx, nc, subject, result); err != nil {
				logger.Error("ingest.status publish failed", "error", err, "job_id", result.JobID)
			}
		}()
	})
}
