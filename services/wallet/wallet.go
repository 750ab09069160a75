// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package wallet provides the personal data wallet service for
// AleutianVault.
//
// This package contains the main service type that coordinates all
// components: HTTP routing, the session key manager, the access
// decryption orchestrator, the memory index resolver, entity
// extraction, blob storage, and observability infrastructure.
//
// # Usage
//
//	cfg := wallet.Config{Port: 12310, ThresholdURL: "http://keyservers:9000"}
//	svc, err := wallet.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianVault/services/wallet/access"
	"github.com/AleutianAI/AleutianVault/services/wallet/blobstore"
	"github.com/AleutianAI/AleutianVault/services/wallet/extraction"
	"github.com/AleutianAI/AleutianVault/services/wallet/handlers"
	"github.com/AleutianAI/AleutianVault/services/wallet/ledger"
	"github.com/AleutianAI/AleutianVault/services/wallet/memoryindex"
	"github.com/AleutianAI/AleutianVault/services/wallet/observability"
	"github.com/AleutianAI/AleutianVault/services/wallet/routes"
	"github.com/AleutianAI/AleutianVault/services/wallet/session"
	"github.com/AleutianAI/AleutianVault/services/wallet/threshold"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the wallet service.
//
// # Description
//
// Service abstracts the wallet lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing. Callers
	// must not modify routes after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds wallet service configuration options.
//
// # Description
//
// Config centralizes all configuration for the wallet service. Values
// can be populated from environment variables or programmatically for
// testing. ThresholdURL is the only required field; everything else
// has a dev-friendly default.
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// ThresholdURL is the threshold key-server gateway URL. Required:
	// the wallet cannot encrypt or decrypt without the network.
	ThresholdURL string

	// LedgerURL is the pointer registry service URL. If empty, an
	// in-process registry is used (single-node dev mode; pointers do
	// not survive restarts).
	LedgerURL string

	// BlobStorePath is the on-disk Badger directory for encrypted
	// blobs. Ignored when GCSBucket is set.
	// Default: "./data/wallet-blobs"
	BlobStorePath string

	// GCSBucket, when set, stores encrypted blobs in Google Cloud
	// Storage instead of local Badger.
	GCSBucket string

	// GCSKeyPath is an optional service-account key file for GCS.
	GCSKeyPath string

	// ExtractorBackend selects the entity extraction collaborator.
	// Valid values: "ollama", "openai", "heuristic", "none"
	// Default: "heuristic"
	ExtractorBackend string

	// ExtractorModel is the model name for LLM-backed extraction.
	ExtractorModel string

	// OllamaURL is the Ollama server URL for the "ollama" backend.
	OllamaURL string

	// SessionTTL is how long a signed session stays usable.
	// Default: 30 minutes
	SessionTTL time.Duration

	// EncryptThreshold is the t parameter for threshold encryption.
	// Default: 2
	EncryptThreshold int

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	EnableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Service configuration
//   - router: Gin HTTP engine
//   - sessions: Session key manager
//   - orchestrator: Access decryption orchestrator
//   - resolver: Memory index resolver
//   - extractor: Entity extraction collaborator
//   - blobs: Encrypted blob store (owned; closed on shutdown)
//   - tracerCleanup: Function to shutdown the tracer on exit
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	sessions      *session.Manager
	orchestrator  *access.Orchestrator
	resolver      *memoryindex.Resolver
	extractor     extraction.Extractor
	blobs         blobstore.Store
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new wallet Service with the given configuration.
//
// # Description
//
// New initializes all wallet components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics (if enabled)
//  4. Creates the blob store (Badger or GCS)
//  5. Creates the pointer registry client (HTTP or in-process)
//  6. Creates the session manager, orchestrator, and resolver
//  7. Creates the extraction collaborator
//  8. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults;
//     ThresholdURL is required.
//
// # Outputs
//
//   - Service: Ready-to-run wallet service
//   - error: Non-nil if initialization fails
//
// # Assumptions
//
//   - The threshold key-server gateway is reachable at ThresholdURL
//   - Environment variables are set for LLM-backed extraction
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if s.config.ThresholdURL == "" {
		return nil, fmt.Errorf("threshold network URL is required")
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics
	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for wallet")
	}

	// Initialize the blob store
	if err := s.initBlobStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize blob store: %w", err)
	}

	// Initialize the pointer registry
	var registry ledger.Service
	if s.config.LedgerURL != "" {
		registry = ledger.NewHTTPClient(s.config.LedgerURL)
		slog.Info("Using remote pointer registry", "url", s.config.LedgerURL)
	} else {
		registry = ledger.NewMemory()
		slog.Warn("Using in-process pointer registry, pointers will not survive restarts")
	}

	var metrics *observability.WalletMetrics
	if s.config.EnableMetrics {
		metrics = observability.DefaultMetrics
	}

	// Session manager, orchestrator, resolver
	s.sessions = session.NewManager(session.Config{TTL: s.config.SessionTTL, Metrics: metrics}, session.SystemClock{})
	thresholdClient := threshold.NewHTTPClient(s.config.ThresholdURL)
	s.orchestrator = access.NewOrchestrator(s.sessions, thresholdClient, access.RetryConfig{}, nil)

	s.resolver = memoryindex.NewResolver(registry, s.blobs, memoryindex.Config{}, metrics)

	// Entity extraction collaborator
	if err := s.initExtractor(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize extractor: %w", err)
	}

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
// Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting wallet server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.BlobStorePath == "" {
		cfg.BlobStorePath = "./data/wallet-blobs"
	}
	if cfg.ExtractorBackend == "" {
		cfg.ExtractorBackend = "heuristic"
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.EncryptThreshold == 0 {
		cfg.EncryptThreshold = 2
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up an OTLP trace exporter to send spans to the configured
// collector.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses an insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("wallet-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initBlobStore creates the encrypted blob store. GCS wins when a
// bucket is configured; otherwise blobs live in a local Badger
// directory.
func (s *service) initBlobStore() error {
	if s.config.GCSBucket != "" {
		store, err := blobstore.NewGCSStore(context.Background(), blobstore.GCSConfig{
			BucketName: s.config.GCSBucket,
			SAKeyPath:  s.config.GCSKeyPath,
		})
		if err != nil {
			return err
		}
		s.blobs = store
		slog.Info("Using GCS blob store", "bucket", s.config.GCSBucket)
		return nil
	}

	store, err := blobstore.NewBadgerStore(blobstore.DefaultBadgerConfig(s.config.BlobStorePath))
	if err != nil {
		return err
	}
	s.blobs = store
	slog.Info("Using Badger blob store", "path", s.config.BlobStorePath)
	return nil
}

// initExtractor creates the entity extraction collaborator.
//
// # Limitations
//
//   - Only supports: ollama, openai, heuristic, none
func (s *service) initExtractor() error {
	switch s.config.ExtractorBackend {
	case "ollama":
		opts := []ollama.Option{}
		if s.config.OllamaURL != "" {
			opts = append(opts, ollama.WithServerURL(s.config.OllamaURL))
		}
		if s.config.ExtractorModel != "" {
			opts = append(opts, ollama.WithModel(s.config.ExtractorModel))
		}
		model, err := ollama.New(opts...)
		if err != nil {
			return err
		}
		s.extractor = extraction.NewLLMExtractor(model, extraction.DefaultConfig())
		slog.Info("Using Ollama extraction backend", "model", s.config.ExtractorModel)
	case "openai":
		opts := []openai.Option{}
		if s.config.ExtractorModel != "" {
			opts = append(opts, openai.WithModel(s.config.ExtractorModel))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return err
		}
		s.extractor = extraction.NewLLMExtractor(model, extraction.DefaultConfig())
		slog.Info("Using OpenAI extraction backend", "model", s.config.ExtractorModel)
	case "none":
		s.extractor = extraction.NoopExtractor{}
		slog.Info("Entity extraction disabled")
	case "heuristic":
		s.extractor = extraction.HeuristicExtractor{}
		slog.Info("Using heuristic extraction backend")
	default:
		slog.Warn("Unknown extraction backend, defaulting to heuristic",
			"backend", s.config.ExtractorBackend)
		s.extractor = extraction.HeuristicExtractor{}
	}
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("wallet-service"))

	routes.SetupRoutes(s.router, s.sessions, s.orchestrator, s.resolver, s.extractor,
		handlers.MemoryConfig{EncryptThreshold: s.config.EncryptThreshold})
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure. Closes the
// session manager and blob store, then shuts down the tracer.
func (s *service) cleanup() {
	if s.sessions != nil {
		s.sessions.Close()
	}

	if s.blobs != nil {
		if err := s.blobs.Close(); err != nil {
			slog.Warn("Blob store close error", "error", err)
		}
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
