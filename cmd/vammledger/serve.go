package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"VAMMLedger/internal/config"
	"VAMMLedger/internal/core"
	"VAMMLedger/internal/ingestion"
	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/persistence"
	"VAMMLedger/internal/projection"
	"VAMMLedger/internal/query"
	"VAMMLedger/internal/recovery"
	"VAMMLedger/internal/server"
	"VAMMLedger/internal/store"
)

func serveCommand() *cobra.Command {
	v := config.NewViper()
	var configFile string
	c := &cobra.Command{
		Use:   "serve",
		Short: "Recover the ledger and serve NATS, gRPC and HTTP traffic",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			return serve(c.Context(), cfg)
		},
	}
	flags := c.Flags()
	flags.StringVar(&configFile, "config", "", "config file (toml, yaml or json)")
	flags.String("genesis", "", "genesis file")
	flags.String("store", "", "LevelDB record store directory")
	flags.String("log-level", "", "log level")
	for key, flag := range map[string]string{
		"genesis_file": "genesis",
		"store_path":   "store",
		"log_level":    "log-level",
	} {
		// flags only override when set
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
	return c
}

// serve runs the process until ctx ends or a component fails.
func serve(parent context.Context, cfg *config.Config) error {
	zerolog.SetGlobalLevel(observability.ParseLogLevel(cfg.LogLevel))
	logger := observability.NewLogger("main")
	logger.Info().Msg("VAMMLedger starting")

	genesis, err := config.LoadGenesis(cfg.GenesisFile)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("path", cfg.GenesisFile).Msg("no genesis file, a store or snapshot is required")
		genesis = nil
	} else if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker("recovery")

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(parent); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if err := persistence.NewMigrator(db, persistence.Migrations()).Up(parent); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Msg("postgres connected, migrations applied")

	// --- Record store ---
	rs, err := store.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer rs.Close()

	snapMgr := persistence.NewSnapshotManager(db, metrics)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	rec := recovery.New(rs, snapMgr, genesis, metrics)

	start, err := rec.Load(parent)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	// --- NATS ---
	var js jetstream.JetStream
	if cfg.NATSURL != "" {
		nc, stream, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
		if err != nil {
			return err
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(parent, stream); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		if err := ingestion.EnsureOutboundStream(parent, stream); err != nil {
			return fmt.Errorf("ensure outbound stream: %w", err)
		}
		js = stream
		logger.Info().Str("url", cfg.NATSURL).Msg("NATS connected")
	} else {
		logger.Warn().Msg("nats_url empty, running without JetStream ingestion and outbound events")
	}

	// --- Core ---
	// persist and store block for backpressure; projection and publish drop
	persistCh := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionCh := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	storeCh := make(chan core.CoreOutput, cfg.StoreChanSize)
	var publishCh chan core.CoreOutput
	if js != nil {
		publishCh = make(chan core.CoreOutput, cfg.PublishChanSize)
	}
	coreLogger := observability.NewLogger("core")
	c, err := core.NewDeterministicCore(start.State, core.Options{
		StrictInvariants:    cfg.StrictInvariants,
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
		DBChecker:           dbChecker,
		Metrics:             metrics,
		Logger:              &coreLogger,
		PersistChan:         persistCh,
		ProjectionChan:      projectionCh,
		PublishChan:         publishCh,
		StoreChan:           storeCh,
	})
	if err != nil {
		return err
	}
	if err := rec.Prepare(c, start); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// --- Workers (running before replay, which feeds store and projections) ---
	storeWorker := store.NewWorker(rs, storeCh, metrics)
	g.Go(func() error { return storeWorker.Run(gctx) })

	snapTrigger := make(chan int64, 1)
	persistWorker := persistence.NewPersistenceWorker(db, persistCh, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics)
	persistWorker.OnFlushed = func(seq int64) {
		select {
		case snapTrigger <- seq:
		default:
		}
	}
	g.Go(func() error { return persistWorker.Run(gctx) })
	g.Go(func() error { return snapMgr.Run(gctx, cfg.SnapshotInterval, snapTrigger, rs.Load) })

	projWorker := projection.NewProjectionWorker(db, projectionCh, metrics)
	g.Go(func() error { return projWorker.Run(gctx) })

	if js != nil {
		publisher := ingestion.NewOutboundPublisher(js, publishCh, metrics)
		g.Go(func() error { return publisher.Run(gctx) })
	}

	// --- Recovery ---
	if err := recoverCore(gctx, rec, c, start, dbChecker, cfg.IdempotencyLRUCapacity); err != nil {
		cancel()
		return errors.Join(fmt.Errorf("recovery: %w", err), g.Wait())
	}

	// --- Serving ---
	seq := core.NewSequencer(c, cfg.SequencerQueueSize, metrics)
	g.Go(func() error { return seq.Run(gctx) })

	srv := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		DB:            db,
		QueryService:  query.NewQueryService(seq, db),
		IngestService: ingestion.NewGRPCIngestService(seq, metrics),
		SnapshotMgr:   snapMgr,
		HealthChecker: health,
		Metrics:       metrics,
	})
	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTPGateway(gctx) })
	g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, logger) })

	if js != nil {
		sub := ingestion.NewNATSSubscriber(js, seq, metrics)
		if err := sub.Subscribe(gctx, ingestion.DefaultSubjects()); err != nil {
			cancel()
			return errors.Join(fmt.Errorf("nats subscribe: %w", err), g.Wait())
		}
		defer sub.Stop()
	}

	health.MarkReady("recovery")
	srv.SetServing(true)
	logger.Info().
		Int64("next_sequence", c.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("VAMMLedger ready")

	err = g.Wait()
	if err != nil {
		logger.Error().Err(err).Msg("component failed, shutting down")
	} else {
		logger.Info().Msg("shutting down")
	}

	// final snapshot from the drained store
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if records, cp, lerr := rs.Load(); lerr != nil {
		logger.Error().Err(lerr).Msg("read store for final snapshot")
	} else if serr := snapMgr.Save(shutdownCtx, records, cp); serr != nil {
		logger.Error().Err(serr).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", cp.Sequence).Msg("final snapshot saved")
	}
	return err
}

// recoverCore replays the log tail, warms the dedup cache and applies
// genesis on an empty ledger.
func recoverCore(ctx context.Context, rec *recovery.Recoverer, c *core.DeterministicCore, start *recovery.Start,
	ids *persistence.PostgresIdempotencyChecker, lruCapacity int) error {
	if _, err := rec.Replay(ctx, c); err != nil {
		return err
	}
	if err := rec.Finish(ctx, start); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}
	recent, err := ids.RecentBatchIDs(ctx, lruCapacity)
	if err != nil {
		return fmt.Errorf("load recent batch ids: %w", err)
	}
	c.WarmLRU(recent)
	if _, err := rec.ApplyGenesis(c); err != nil {
		return err
	}
	return c.ValidateGlobalBalance()
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
