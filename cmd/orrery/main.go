package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/orrery/core"
	"github.com/signalsfoundry/orrery/internal/control"
	"github.com/signalsfoundry/orrery/internal/feed"
	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/internal/observability"
	"github.com/signalsfoundry/orrery/internal/retrieval"
	"github.com/signalsfoundry/orrery/internal/sim/engine"
	"github.com/signalsfoundry/orrery/model"
	"github.com/signalsfoundry/orrery/timectrl"
)

// Config collects the command-line settings.
type Config struct {
	GRPCAddress   string
	HTTPAddress   string
	FPS           float64
	BodiesPath    string
	ScenariosDir  string
	Scale         float64
	TimeScale     float64
	StartPaused   bool
	FeedRate      float64
	StreamBuffer  int
	ShutdownGrace time.Duration
}

func main() {
	var cfg Config
	flag.StringVar(&cfg.GRPCAddress, "grpc-addr", ":50051", "TCP address the control gRPC server listens on")
	flag.StringVar(&cfg.HTTPAddress, "http-addr", ":8080", "HTTP address for /metrics and the /feed WebSocket")
	flag.Float64Var(&cfg.FPS, "fps", 60, "frames per second")
	flag.StringVar(&cfg.BodiesPath, "bodies", "", "JSON body table; empty uses the built-in solar system")
	flag.StringVar(&cfg.ScenariosDir, "scenarios", "", "directory of scenario scripts (*.json)")
	flag.Float64Var(&cfg.Scale, "scale", core.DefaultScale, "scene units per AU")
	flag.Float64Var(&cfg.TimeScale, "time-scale", 0, "initial simulated seconds per real second (0 = one day)")
	flag.BoolVar(&cfg.StartPaused, "paused", false, "start with the clock paused")
	flag.Float64Var(&cfg.FeedRate, "feed-rate", 0, "positions messages per second per feed client (0 = default)")
	flag.IntVar(&cfg.StreamBuffer, "stream-buffer", control.DefaultStreamBuffer, "per-stream event queue length")
	flag.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", 5*time.Second, "time allowed for graceful shutdown")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddress), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "orrery exited", logging.Err(err))
		os.Exit(1)
	}
}

// run hosts the engine, the control service on lis and, when HTTPAddress is
// set, the metrics and feed endpoints. It returns after ctx is cancelled and
// everything has shut down.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	log = logging.OrNoop(log)

	reg := prometheus.NewRegistry()
	controlMetrics, err := observability.NewControlCollector(reg)
	if err != nil {
		return fmt.Errorf("control metrics: %w", err)
	}
	engineMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return fmt.Errorf("engine metrics: %w", err)
	}

	hub := feed.NewHub(feed.Config{PositionRate: cfg.FeedRate}, log, engineMetrics)
	engCfg := engine.Config{
		Scale:            cfg.Scale,
		InitialTimeScale: cfg.TimeScale,
		StartPaused:      cfg.StartPaused,
	}
	if cfg.FPS > 0 {
		engCfg.FrameInterval = time.Duration(float64(time.Second) / cfg.FPS)
	}
	eng := engine.New(engCfg,
		engine.WithLogger(log),
		engine.WithMetrics(engineMetrics),
		engine.WithEffectSink(hub),
	)
	if err := loadCatalog(ctx, eng, cfg, log); err != nil {
		return err
	}
	if err := hub.Attach(eng); err != nil {
		return err
	}
	controlMetrics.SetCatalogCounts(len(eng.KB.ListBodies()), len(eng.ScenarioIDs()))

	retriever := retrieval.NewService(retrieval.DefaultRegistry(), nil, log)
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			control.RequestIDUnaryServerInterceptor(log),
			control.TracingUnaryServerInterceptor(),
			controlMetrics.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			control.RequestIDStreamServerInterceptor(log),
			control.TracingStreamServerInterceptor(),
			controlMetrics.StreamServerInterceptor(),
		),
	)
	control.RegisterControlServer(server, control.NewServer(eng, retriever, log, control.WithStreamBuffer(cfg.StreamBuffer)))

	engCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	engErr := make(chan error, 1)
	go func() {
		engErr <- eng.Run(engCtx, timectrl.NewTickerSource(eng.Config().FrameInterval))
	}()

	httpSrv := serveHTTP(cfg.HTTPAddress, controlMetrics.Handler(), hub, log)

	log.Info(ctx, "starting control gRPC server", logging.String("addr", lis.Addr().String()))
	grpcErr := make(chan error, 1)
	go func() { grpcErr <- server.Serve(lis) }()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-grpcErr:
		runErr = fmt.Errorf("grpc server: %w", err)
	case err := <-engErr:
		runErr = fmt.Errorf("engine stopped: %w", err)
	}

	log.Info(context.Background(), "shutting down orrery")
	grace := cfg.ShutdownGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	_ = hub.Close(shutdownCtx)
	if httpSrv != nil {
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		server.Stop()
	}
	stopEngine()
	<-eng.Done()
	return runErr
}

func loadCatalog(ctx context.Context, eng *engine.Engine, cfg Config, log logging.Logger) error {
	bodies := core.DefaultBodies()
	if cfg.BodiesPath != "" {
		loaded, err := core.LoadBodiesFile(cfg.BodiesPath)
		if err != nil {
			return fmt.Errorf("load bodies: %w", err)
		}
		bodies = loaded
	}
	if err := eng.AddBodies(bodies); err != nil {
		return fmt.Errorf("add bodies: %w", err)
	}

	var scripts []*model.ScenarioScript
	if cfg.ScenariosDir != "" {
		loaded, err := core.LoadScenarioDir(cfg.ScenariosDir)
		if err != nil {
			return fmt.Errorf("load scenarios: %w", err)
		}
		scripts = loaded
	}
	for _, s := range scripts {
		if err := eng.AddScenario(s); err != nil {
			return fmt.Errorf("add scenario %q: %w", s.ID, err)
		}
	}
	log.Info(ctx, "catalog loaded",
		logging.Int("bodies", len(bodies)),
		logging.Int("scenarios", len(scripts)),
	)
	return nil
}

func serveHTTP(addr string, metrics http.Handler, hub *feed.Hub, log logging.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.Handle("/feed", hub)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "http server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving metrics and feed", logging.String("addr", addr))
	return srv
}
