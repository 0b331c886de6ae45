package main

import (
	"context"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/dgraph-io/badger/v2/options"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gobuffalo/packr/v2"
	"github.com/gorilla/handlers"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/joho/godotenv"
	grpc_middleware "github.com/mwitkow/go-grpc-middleware"
	grpc_opentracing "github.com/mwitkow/go-grpc-middleware/tracing/opentracing"
	"github.com/namsral/flag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/raingarden/ingest"
	"github.com/akhenakh/raingarden/storage"
	badgerstore "github.com/akhenakh/raingarden/storage/badger"
	"github.com/akhenakh/raingarden/storage/sqldb"
	"github.com/akhenakh/raingarden/web"
)

const appName = "raingardend"

var (
	version = "no version from LDFLAGS"

	storageType = flag.String("storage", "badger", "badger|sqlite|postgres")
	dbPath      = flag.String("dbPath", "raingarden.db", "DB path for badger and sqlite")
	dsn         = flag.String("dsn", "", "postgres DSN, e.g. host=localhost user=raingarden dbname=raingarden")

	ingestToken = flag.String("ingestToken", "", "bearer token required on ingestion, no check if empty")
	strongest   = flag.Bool("strongest", false, "keep the metadata of the gateway with the best RSSI instead of the first one")
	timezone    = flag.String("timezone", "Local", "time zone used to render chart times")

	logLevel        = flag.String("logLevel", "INFO", "DEBUG|INFO|WARN|ERROR")
	httpMetricsPort = flag.Int("httpMetricsPort", 8888, "http port")
	httpAPIPort     = flag.Int("httpAPIPort", 9201, "http API port")
	healthPort      = flag.Int("healthPort", 6666, "grpc health port")

	httpServer        *http.Server
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
)

func main() {
	// .env is optional
	_ = godotenv.Load()
	flag.Parse()

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "caller", log.DefaultCaller, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "app", appName)
	logger = level.NewFilter(logger, levelOption(*logLevel))

	stdlog.SetOutput(log.NewStdlibAdapter(logger))

	level.Info(logger).Log("msg", "Starting app", "version", version)

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	g, ctx := errgroup.WithContext(ctx)

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		level.Error(logger).Log("msg", "invalid timezone", "error", err, "timezone", *timezone)
		os.Exit(2)
	}

	store, err := openStore(*storageType)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open DB", "error", err, "storage", *storageType)
		os.Exit(2)
	}
	defer store.Close()

	// gRPC Health Server
	healthServer := health.NewServer()
	g.Go(func() error {
		grpcHealthServer = grpc.NewServer(
			grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
				grpc_opentracing.StreamServerInterceptor(),
				grpc_prometheus.StreamServerInterceptor,
			)),
			grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
				grpc_opentracing.UnaryServerInterceptor(),
				grpc_prometheus.UnaryServerInterceptor,
			)),
		)

		healthpb.RegisterHealthServer(grpcHealthServer, healthServer)
		grpc_prometheus.Register(grpcHealthServer)

		haddr := fmt.Sprintf(":%d", *healthPort)
		hln, err := net.Listen("tcp", haddr)
		if err != nil {
			level.Error(logger).Log("msg", "gRPC Health server: failed to listen", "error", err)
			os.Exit(2)
		}
		level.Info(logger).Log("msg", fmt.Sprintf("gRPC health server serving at %s", haddr))
		return grpcHealthServer.Serve(hln)
	})

	// web server metrics
	g.Go(func() error {
		httpMetricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpMetricsPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP Metrics server serving at :%d", *httpMetricsPort))

		// Register Prometheus metrics handler.
		http.Handle("/metrics", promhttp.Handler())

		if err := httpMetricsServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	// web server
	g.Go(func() error {
		ing := ingest.NewIngester(logger, store, ingest.Config{Strongest: *strongest})

		s := web.NewServer(appName, logger, store, ing, web.Config{
			Token:    *ingestToken,
			Location: loc,
		})
		s.Hub = web.NewHub(logger)
		ing.Publisher = s.Hub

		// box html templates
		box := packr.New("Root box", "./templates")

		s.FileHandler = http.FileServer(box)
		s.Box = box

		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpAPIPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			Handler:      handlers.CompressHandler(s.Handler()),
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP API server serving at :%d", *httpAPIPort))

		healthServer.SetServingStatus(fmt.Sprintf("grpc.health.v1.%s", appName), healthpb.HealthCheckResponse_SERVING)

		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}

		return nil
	})

	select {
	case <-interrupt:
		cancel()
		break
	case <-ctx.Done():
		break
	}

	level.Warn(logger).Log("msg", "received shutdown signal")

	healthServer.SetServingStatus(fmt.Sprintf("grpc.health.v1.%s", appName), healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		_ = httpMetricsServer.Shutdown(shutdownCtx)
	}

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}

	err = g.Wait()
	if err != nil {
		level.Error(logger).Log("msg", "server returning an error", "error", err)
		os.Exit(2)
	}
}

func openStore(kind string) (storage.Store, error) {
	switch kind {
	case "badger":
		opts := badger.DefaultOptions(*dbPath)
		opts.Logger = nil
		opts.TableLoadingMode = options.FileIO

		bdb, err := badger.Open(opts)
		if err != nil {
			return nil, err
		}
		return badgerstore.NewStore(bdb)
	case sqldb.DialectSQLite:
		return sqldb.Open(sqldb.DialectSQLite, *dbPath)
	case sqldb.DialectPostgres:
		return sqldb.Open(sqldb.DialectPostgres, *dsn)
	default:
		return nil, fmt.Errorf("unknown storage %q", kind)
	}
}

func levelOption(l string) level.Option {
	switch l {
	case "DEBUG":
		return level.AllowDebug()
	case "WARN":
		return level.AllowWarn()
	case "ERROR":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}
