// Command ingestd runs the rulebook ingestion pipeline, either as a
// long-lived NATS consumer or as a one-shot batch driver over a single PDF.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/WessleyAI/rulebook-ingest/adapter/mlhttp"
	"github.com/WessleyAI/rulebook-ingest/adapter/pdfextract"
	"github.com/WessleyAI/rulebook-ingest/engine/artifact"
	"github.com/WessleyAI/rulebook-ingest/engine/domain"
	"github.com/WessleyAI/rulebook-ingest/engine/gate0"
	"github.com/WessleyAI/rulebook-ingest/engine/graph"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest"
	"github.com/WessleyAI/rulebook-ingest/engine/ingest/passes"
	"github.com/WessleyAI/rulebook-ingest/engine/semantic"
	"github.com/WessleyAI/rulebook-ingest/pkg/metrics"
	"github.com/WessleyAI/rulebook-ingest/pkg/mid"
	"github.com/nats-io/nats.go"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var met = metrics.New()

var (
	mJobsTotal    = func(status string) *metrics.Counter { return met.Counter(metrics.WithLabels("rulebook_ingest_jobs_total", "status", status), "Total ingestion jobs by terminal status") }
	mJobsActive   = met.Gauge("rulebook_ingest_jobs_active", "Jobs currently running")
	mJobDuration  = met.Histogram("rulebook_ingest_job_duration_seconds", "End-to-end job duration", nil)
	mChunksTotal  = met.Counter("rulebook_ingest_chunks_total", "Chunks produced across all jobs")
	mVectorsTotal = met.Counter("rulebook_ingest_vectors_total", "Vectors upserted across all jobs")
	mGate0Hits    = func(kind string) *metrics.Counter { return met.Counter(metrics.WithLabels("rulebook_ingest_gate0_total", "kind", kind), "Gate 0 decisions by kind") }
)

const vectorDims = 768 // nomic-embed-text

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	var (
		mode           = flag.String("mode", "consumer", "consumer (NATS) or file (single PDF)")
		sourcePath     = flag.String("source", "", "path to a PDF, required in -mode=file")
		environment    = flag.String("environment", envOr("RULEBOOK_ENVIRONMENT", "dev"), "dev, test, or prod")
		artifactsRoot  = flag.String("artifacts-root", envOr("ARTIFACTS_ROOT", "/tmp/rulebook-artifacts"), "root directory for job artifacts")
		natsURL        = flag.String("nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL, -mode=consumer only")
		ollamaURL      = flag.String("ollama", envOr("OLLAMA_URL", "http://localhost:11434"), "Ollama-compatible base URL")
		ollamaModel    = flag.String("model", envOr("OLLAMA_MODEL", "nomic-embed-text"), "embedding and completion model name")
		neo4jURL       = flag.String("neo4j", envOr("NEO4J_URL", "neo4j://localhost:7687"), "Neo4j bolt URL")
		neo4jUser      = flag.String("neo4j-user", envOr("NEO4J_USER", "neo4j"), "Neo4j username")
		neo4jPass      = flag.String("neo4j-pass", envOr("NEO4J_PASS", "password"), "Neo4j password")
		qdrantAddr     = flag.String("qdrant", envOr("QDRANT_URL", "localhost:6334"), "Qdrant gRPC address")
		collection     = flag.String("collection", envOr("QDRANT_COLLECTION", "rulebook"), "Qdrant collection name")
		workerSlots    = flag.Int("worker-slots", 4, "concurrent job slots, overridden by INGEST_WORKER_SLOTS")
		admitPerSecond = flag.Float64("admit-rate", 2, "admission rate in jobs/sec, <=0 disables throttling")
		metricsPort    = flag.Int("metrics-port", 9091, "metrics server port")
		adminPort      = flag.Int("admin-port", 8088, "admin HTTP server port, serves /api/v1/stats and /api/health")
		corsOrigin     = flag.String("cors-origin", envOr("CORS_ORIGIN", "*"), "Access-Control-Allow-Origin for the admin server")
	)
	flag.Parse()

	if v := os.Getenv("INGEST_WORKER_SLOTS"); v != "" {
		fmt.Sscanf(v, "%d", workerSlots)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	met.ServeAsync(*metricsPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	built, cleanup, err := buildOrchestrator(ctx, orchestratorConfig{
		artifactsRoot:  *artifactsRoot,
		ollamaURL:      *ollamaURL,
		ollamaModel:    *ollamaModel,
		neo4jURL:       *neo4jURL,
		neo4jUser:      *neo4jUser,
		neo4jPass:      *neo4jPass,
		qdrantAddr:     *qdrantAddr,
		collection:     *collection,
		workerSlots:    *workerSlots,
		admitPerSecond: *admitPerSecond,
		logger:         logger,
	})
	if err != nil {
		logger.Error("preflight failed", "error", err)
		os.Exit(2)
	}
	defer cleanup()

	startAdminServer(*adminPort, *corsOrigin, built.graph, logger)

	switch *mode {
	case "file":
		os.Exit(runFile(ctx, built.orch, *sourcePath, domain.Environment(*environment), logger))
	case "consumer":
		os.Exit(runConsumer(ctx, built.orch, *natsURL, logger))
	default:
		logger.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}
}

// startAdminServer exposes operator-facing read endpoints over the graph
// store: aggregate node/relationship counts and the most recently ingested
// sources. It runs alongside the metrics server for the lifetime of the
// process; no graceful shutdown is needed since it serves no write path.
func startAdminServer(port int, corsOrigin string, gs *graph.GraphStore, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		nodeCounts, err := gs.NodeCounts(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		relCounts, err := gs.RelationshipCounts(ctx)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		recent, err := gs.RecentSources(ctx, 20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"node_counts":         nodeCounts,
			"relationship_counts": relCounts,
			"recent_sources":      recent,
		})
	})

	handler := mid.Chain(mux, mid.Recover(logger), mid.Logger(logger), mid.CORS(corsOrigin))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", "error", err)
		}
	}()
}

type orchestratorConfig struct {
	artifactsRoot  string
	ollamaURL      string
	ollamaModel    string
	neo4jURL       string
	neo4jUser      string
	neo4jPass      string
	qdrantAddr     string
	collection     string
	workerSlots    int
	admitPerSecond float64
	logger         *slog.Logger
}

// builtOrchestrator bundles the orchestrator with the graph store, which the
// admin server also needs for read-only aggregate queries.
type builtOrchestrator struct {
	orch  *ingest.Orchestrator
	graph *graph.GraphStore
}

// buildOrchestrator wires every adapter and connects to every backing store.
// Any failure here is a preflight failure: main exits with code 2 before any
// job is created.
func buildOrchestrator(ctx context.Context, cfg orchestratorConfig) (*builtOrchestrator, func(), error) {
	driver, err := neo4j.NewDriverWithContext(cfg.neo4jURL, neo4j.BasicAuth(cfg.neo4jUser, cfg.neo4jPass, ""))
	if err != nil {
		return nil, nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, nil, fmt.Errorf("neo4j verify: %w", err)
	}
	cfg.logger.Info("connected to Neo4j", "url", cfg.neo4jURL)

	vs, err := semantic.New(cfg.qdrantAddr, cfg.collection)
	if err != nil {
		driver.Close(ctx)
		return nil, nil, fmt.Errorf("qdrant connect: %w", err)
	}
	if err := vs.EnsureCollection(ctx, vectorDims); err != nil {
		driver.Close(ctx)
		vs.Close()
		return nil, nil, fmt.Errorf("qdrant ensure collection: %w", err)
	}
	cfg.logger.Info("connected to Qdrant", "collection", cfg.collection, "dims", vectorDims)

	gs := graph.New(driver)
	ml := mlhttp.New(cfg.ollamaURL, cfg.ollamaModel)
	pdf := pdfextract.New()

	store := artifact.New(cfg.artifactsRoot)
	g0, err := gate0.Load(cfg.artifactsRoot)
	if err != nil {
		driver.Close(ctx)
		vs.Close()
		return nil, nil, fmt.Errorf("gate0 load: %w", err)
	}

	// One-time startup sweep for ".tmp" orphans left by a prior process that
	// crashed before its own job reached Pass F. Age-gated so an in-flight
	// job from a process that's still running (e.g. during a rolling
	// restart) is never touched.
	if swept, err := store.SweepOrphansOlderThan(time.Hour); err != nil {
		cfg.logger.Warn("startup orphan sweep failed", "error", err)
	} else if swept > 0 {
		cfg.logger.Info("startup orphan sweep", "swept", swept)
	}

	adapters := ingest.Adapters{
		PDF:        pdf,
		LM:         ml,
		Embedder:   ml,
		VectorSink: vs,
		GraphSink:  gs,
	}
	allPasses := []ingest.Pass{
		passes.TOCParser{},
		passes.LogicalSplitter{},
		passes.ContentExtractor{},
		passes.VectorEnricher{},
		passes.GraphBuilder{},
		passes.Finalizer{},
		passes.HGRNValidator{},
	}

	orch := ingest.New(store, g0, adapters, allPasses, cfg.workerSlots, cfg.admitPerSecond, cfg.logger)

	cleanup := func() {
		vs.Close()
		driver.Close(ctx)
	}
	return &builtOrchestrator{orch: orch, graph: gs}, cleanup, nil
}

// runFile ingests a single PDF and prints the resulting IngestResult as JSON
// to stdout. Returns the process exit code: 0 on SUCCEEDED/BYPASSED/
// SUCCEEDED_WITH_WARNINGS, 1 on FAILED or CANCELLED.
func runFile(ctx context.Context, orch *ingest.Orchestrator, sourcePath string, environment domain.Environment, logger *slog.Logger) int {
	if sourcePath == "" {
		logger.Error("-source is required in -mode=file")
		return 2
	}

	start := time.Now()
	mJobsActive.Inc()
	result := orch.Run(ctx, domain.IngestRequest{
		SourcePath:  sourcePath,
		Environment: environment,
		Policy:      domain.DefaultPolicy(),
	})
	mJobsActive.Dec()
	mJobDuration.Observe(time.Since(start).Seconds())
	mJobsTotal(string(result.FinalStatus)).Inc()
	mChunksTotal.Add(int64(result.Summary.ChunkCount))
	mVectorsTotal.Add(int64(result.Summary.VectorCount))

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Error("marshal result", "error", err)
		return 1
	}
	fmt.Println(string(out))

	switch result.FinalStatus {
	case domain.StatusSucceeded, domain.StatusSucceededWithWarnings, domain.StatusBypassed:
		return 0
	default:
		return 1
	}
}

// runConsumer subscribes to the ingest request subject and drives jobs until
// ctx is cancelled. Every terminal job status is published back to NATS by
// ingest.StartConsumer; this function's own exit code reflects only whether
// the consumer ran cleanly to shutdown.
func runConsumer(ctx context.Context, orch *ingest.Orchestrator, natsURL string, logger *slog.Logger) int {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		logger.Error("nats connect failed", "error", err)
		return 2
	}
	defer nc.Close()

	sub, err := ingest.StartConsumer(nc, orch, logger)
	if err != nil {
		logger.Error("nats subscribe failed", "error", err)
		return 2
	}
	defer sub.Unsubscribe()

	logger.Info("ingestd consumer ready", "subject", ingest.RequestSubject)
	<-ctx.Done()
	logger.Info("ingestd shutting down")
	return 0
}
