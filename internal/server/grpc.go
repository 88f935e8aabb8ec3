package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"VAMMLedger/internal/ingestion"
	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/persistence"
	"VAMMLedger/internal/query"
)

// JSONCodecName is the content subtype clients select with
// grpc.CallContentSubtype to talk to the ledger service.
const JSONCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return JSONCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// GRPCServer wraps the gRPC server and the gateway HTTP mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	health        *health.Server
	ledger        *LedgerServer
	gateway       *runtime.ServeMux
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the gRPC services. DB and
// SnapshotMgr are optional; without them the history and admin calls
// answer Unavailable.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	logger := observability.NewLogger("server")
	ledger := &LedgerServer{
		qs:        deps.QueryService,
		ingest:    deps.IngestService,
		db:        deps.DB,
		snapshots: deps.SnapshotMgr,
		metrics:   deps.Metrics,
		logger:    logger,
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(ledger.unaryInterceptor))
	grpcServer.RegisterService(&LedgerServiceDesc, ledger)

	// not serving until recovery completes
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	s := &GRPCServer{
		grpcServer:    grpcServer,
		health:        healthServer,
		ledger:        ledger,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		logger:        logger,
	}
	s.gateway = s.newGateway()
	return s
}

// SetServing flips the gRPC health status of the ledger service.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on lis until ctx ends.
func (s *GRPCServer) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Handler is the HTTP surface: health endpoints plus the gateway routes.
func (s *GRPCServer) Handler() http.Handler {
	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", s.gateway)
	return httpMux
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking). Routes call
// the ledger service in process rather than dialing back over gRPC.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
