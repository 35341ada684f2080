// Package main implements the replay API service: a gin REST surface and a
// gRPC health endpoint over a bounded pool of backtest workers. Each worker
// runs one job end to end with its own engines, so jobs never share state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	pyroscope "github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"replay-backtest/services/aggregate"
	"replay-backtest/services/config"
	"replay-backtest/services/execution"
	"replay-backtest/services/feed"
	"replay-backtest/services/market"
	"replay-backtest/services/monitoring"
	"replay-backtest/services/replay"
	"replay-backtest/services/report"
	"replay-backtest/services/risk"
	"replay-backtest/strategies"
)

type jobStatus string

const (
	statusQueued    jobStatus = "queued"
	statusRunning   jobStatus = "running"
	statusCompleted jobStatus = "completed"
	statusFailed    jobStatus = "failed"
)

// backtestRequest is the submit payload. Zero fields inherit the server's
// base configuration.
type backtestRequest struct {
	Mode       string   `json:"mode"`
	DataDir    string   `json:"data_dir"`
	Symbols    []string `json:"symbols"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	Strategies []string `json:"strategies"`
}

type job struct {
	ID          string
	Status      jobStatus
	SubmittedAt time.Time
	StartedAt   time.Time
	FinishedAt  time.Time
	Error       string

	cfg    config.Config
	result *replay.Result
	runDir string
}

type server struct {
	base    config.Config
	log     *zap.Logger
	queue   chan *job
	mu      sync.RWMutex
	jobs    map[string]*job
	wg      sync.WaitGroup
	started time.Time
}

func main() {
	cfgPath := flag.String("config", "", "Base YAML config; built-in defaults when empty")
	httpAddr := flag.String("http", ":8080", "REST listen address")
	grpcAddr := flag.String("grpc", ":9090", "gRPC health listen address")
	workers := flag.Int("workers", runtime.NumCPU(), "Concurrent backtest workers")
	queueDepth := flag.Int("queue", 32, "Pending job queue depth")
	pyroAddr := flag.String("pyroscope", "", "Pyroscope server address; empty disables profiling")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides log.level)")
	flag.Parse()

	base := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		base = *loaded
	}
	if *logLevel != "" {
		base.Log.Level = *logLevel
	}

	logger, err := base.Log.Build()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	if *pyroAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "replay-backtest.server",
			ServerAddress:   *pyroAddr,
			Logger:          logger.Sugar(),
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logger.Fatal("pyroscope start", zap.Error(err))
		}
		defer profiler.Stop()
	}

	if *workers < 1 {
		*workers = 1
	}
	s := &server{
		base:    base,
		log:     logger,
		queue:   make(chan *job, *queueDepth),
		jobs:    make(map[string]*job),
		started: time.Now(),
	}
	for i := 0; i < *workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	logger.Info("worker pool started",
		zap.Int("workers", *workers),
		zap.Int("queue_depth", *queueDepth))

	// gRPC health + reflection on the second port.
	grpcServer := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)
	go func() {
		lis, err := net.Listen("tcp", *grpcAddr)
		if err != nil {
			logger.Fatal("listen grpc", zap.Error(err))
		}
		logger.Info("grpc listening", zap.String("addr", *grpcAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("serve grpc", zap.Error(err))
		}
	}()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api := router.Group("/api/v1")
	{
		api.POST("/backtest", s.handleSubmit)
		api.GET("/backtest/:job_id", s.handleStatus)
		api.GET("/backtest/:job_id/results", s.handleResults)
	}
	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(monitoring.Handler()))

	httpServer := &http.Server{Addr: *httpAddr, Handler: router}
	go func() {
		logger.Info("http listening", zap.String("addr", *httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve http", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// No submissions can arrive once the HTTP server has drained, so the
	// queue can close; workers finish whatever is still in it.
	close(s.queue)
	s.wg.Wait()
	grpcServer.GracefulStop()
	logger.Info("stopped")
}

func (s *server) worker(id int) {
	defer s.wg.Done()
	for j := range s.queue {
		s.execute(id, j)
	}
}

func (s *server) execute(workerID int, j *job) {
	monitoring.RunStarted()
	start := time.Now()

	s.mu.Lock()
	j.Status = statusRunning
	j.StartedAt = start.UTC()
	s.mu.Unlock()

	logger := s.log.With(zap.String("job_id", j.ID), zap.Int("worker", workerID))
	res, runDir, err := runBacktest(context.Background(), &j.cfg, logger)

	s.mu.Lock()
	j.FinishedAt = time.Now().UTC()
	if err != nil {
		j.Status = statusFailed
		j.Error = err.Error()
	} else {
		j.Status = statusCompleted
		j.result = res
		j.runDir = runDir
	}
	s.mu.Unlock()

	monitoring.RunFinished(time.Since(start))
	if err != nil {
		logger.Error("backtest failed", zap.Error(err))
		return
	}
	logger.Info("backtest completed",
		zap.Int("trades", res.Summary.TotalTrades),
		zap.String("total_r", res.Summary.TotalR.String()),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *server) handleSubmit(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg := s.base
	applyRequest(&cfg, req)
	if err := cfg.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	j := &job{
		ID:          uuid.NewString(),
		Status:      statusQueued,
		SubmittedAt: time.Now().UTC(),
		cfg:         cfg,
	}
	s.mu.Lock()
	s.jobs[j.ID] = j
	s.mu.Unlock()

	select {
	case s.queue <- j:
		c.JSON(http.StatusAccepted, gin.H{"job_id": j.ID, "status": j.Status})
	default:
		s.mu.Lock()
		delete(s.jobs, j.ID)
		s.mu.Unlock()
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job queue is full"})
	}
}

func (s *server) handleStatus(c *gin.Context) {
	j := s.lookup(c.Param("job_id"))
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}
	c.JSON(http.StatusOK, s.statusView(j))
}

func (s *server) handleResults(c *gin.Context) {
	j := s.lookup(c.Param("job_id"))
	if j == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	switch j.Status {
	case statusCompleted:
		c.JSON(http.StatusOK, gin.H{
			"job_id":    j.ID,
			"summary":   j.result.Summary,
			"manifest":  j.result.Manifest,
			"artifacts": j.runDir,
		})
	case statusFailed:
		c.JSON(http.StatusConflict, gin.H{"job_id": j.ID, "status": j.Status, "error": j.Error})
	default:
		c.JSON(http.StatusConflict, gin.H{"job_id": j.ID, "status": j.Status})
	}
}

func (s *server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"version":  replay.EngineVersion,
		"uptime_s": int(time.Since(s.started).Seconds()),
		"queued":   len(s.queue),
	})
}

func (s *server) lookup(id string) *job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

func (s *server) statusView(j *job) gin.H {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view := gin.H{
		"job_id":       j.ID,
		"status":       j.Status,
		"submitted_at": j.SubmittedAt,
	}
	if !j.StartedAt.IsZero() {
		view["started_at"] = j.StartedAt
	}
	if !j.FinishedAt.IsZero() {
		view["finished_at"] = j.FinishedAt
	}
	if j.Error != "" {
		view["error"] = j.Error
	}
	if j.runDir != "" {
		view["artifacts"] = j.runDir
	}
	return view
}

func applyRequest(cfg *config.Config, req backtestRequest) {
	if req.Mode != "" {
		cfg.Mode = req.Mode
	}
	if req.DataDir != "" {
		cfg.Data.Dir = req.DataDir
	}
	if len(req.Symbols) > 0 {
		syms := make([]string, 0, len(req.Symbols))
		for _, sym := range req.Symbols {
			if sym = strings.TrimSpace(sym); sym != "" {
				syms = append(syms, strings.ToUpper(sym))
			}
		}
		cfg.Data.Symbols = syms
	}
	if req.From != "" {
		cfg.Data.From = req.From
	}
	if req.To != "" {
		cfg.Data.To = req.To
	}
	if len(req.Strategies) > 0 {
		cfg.Strategy.Enabled = req.Strategies
	}
}

// runBacktest wires one job's private engines and persists whatever sinks
// its config enables.
func runBacktest(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*replay.Result, string, error) {
	hash, err := cfg.Hash()
	if err != nil {
		return nil, "", err
	}

	bySymbol, err := loadCandles(ctx, cfg, logger)
	if err != nil {
		return nil, "", err
	}
	dataset, err := feed.NewDataset(bySymbol)
	if err != nil {
		return nil, "", err
	}

	cal := cfg.Session.Calendar()
	aggCfg, err := cfg.Aggregation.Build(cal, cfg.Session.OffsetMinutes)
	if err != nil {
		return nil, "", err
	}
	riskMgr, err := risk.NewManager(cfg.Risk.Build(), cal, logger)
	if err != nil {
		return nil, "", err
	}
	execEng, err := execution.New(cfg.Execution.Build(riskMgr.BaseRUnit()), riskMgr, logger)
	if err != nil {
		return nil, "", err
	}
	providers, err := strategies.Build(cfg.Strategy.Enabled, tuningFrom(cfg.Strategy.Wick), cfg.RunMode(), logger)
	if err != nil {
		return nil, "", err
	}

	rec := report.NewRecorder()
	engine, err := replay.New(cfg.Replay.Build(cfg.RunMode(), hash), replay.Deps{
		Dataset:    dataset,
		Aggregator: aggregate.New(aggCfg),
		Risk:       riskMgr,
		Execution:  execEng,
		Providers:  providers,
		Sink:       replay.MultiSink{rec, monitoring.NewMetricsSink()},
		Log:        logger,
	})
	if err != nil {
		return nil, "", err
	}

	res, err := engine.Run(ctx)
	if err != nil {
		return nil, "", err
	}

	runDir := filepath.Join(cfg.Report.OutDir, res.Manifest.RunID)
	if err := persist(ctx, cfg, logger, res, rec, runDir); err != nil {
		return nil, "", err
	}
	return res, runDir, nil
}

func tuningFrom(w config.WickTuning) strategies.Tuning {
	return strategies.Tuning{
		MinScore:       w.MinScore,
		MinRiskReward:  w.MinRiskReward,
		WickBodyRatio:  w.WickBodyRatio,
		SweepLookback:  w.SweepLookback,
		VolumeMultiple: w.VolumeMultiple,
		SwingMinScore:  w.SwingMinScore,
	}
}

func loadCandles(ctx context.Context, cfg *config.Config, logger *zap.Logger) (map[string][]market.Candle, error) {
	if cfg.Data.Source == "clickhouse" {
		fromMs, toMs, err := cfg.Data.Range()
		if err != nil {
			return nil, err
		}
		loader, err := feed.OpenClickHouse(ctx, cfg.Data.ClickHouse, logger)
		if err != nil {
			return nil, err
		}
		defer loader.Close()
		return loader.LoadAll(ctx, cfg.Data.Symbols, fromMs, toMs)
	}

	bySymbol, _, err := feed.NewCSVLoader(logger).LoadDir(cfg.Data.Dir)
	if err != nil {
		return nil, err
	}
	if len(cfg.Data.Symbols) == 0 {
		return bySymbol, nil
	}
	keep := make(map[string][]market.Candle, len(cfg.Data.Symbols))
	for _, sym := range cfg.Data.Symbols {
		sym = strings.ToUpper(sym)
		bars, ok := bySymbol[sym]
		if !ok {
			return nil, fmt.Errorf("symbol %s not found in %s", sym, cfg.Data.Dir)
		}
		keep[sym] = bars
	}
	return keep, nil
}

func persist(ctx context.Context, cfg *config.Config, logger *zap.Logger, res *replay.Result, rec *report.Recorder, runDir string) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	if cfg.Report.WriteCSV {
		if err := report.WriteAll(runDir, res, rec); err != nil {
			return err
		}
	}
	if cfg.Report.WriteArrow {
		if err := report.WriteTradesArrow(filepath.Join(runDir, "trades.arrow"), res.Trades); err != nil {
			return err
		}
		if err := report.WriteEquityArrow(filepath.Join(runDir, "equity.arrow"), rec.Equity()); err != nil {
			return err
		}
	}
	if cfg.Report.Journal.Enabled {
		path := cfg.Report.Journal.Path
		if path == "" {
			path = filepath.Join(cfg.Report.OutDir, "journal.db")
		}
		journal, err := report.OpenJournal(path)
		if err != nil {
			return err
		}
		if err := journal.Record(ctx, res); err != nil {
			journal.Close()
			return err
		}
		if err := journal.Close(); err != nil {
			return err
		}
		logger.Info("journal updated", zap.String("path", path))
	}
	if cfg.Report.ClickHouse.Enabled {
		sink, err := report.OpenClickHouseSink(ctx, cfg.Report.ClickHouse.Conn, cfg.Report.ClickHouse.Table, logger)
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.InsertTrades(ctx, res.Manifest.RunID, res.Trades); err != nil {
			return err
		}
	}
	return nil
}
