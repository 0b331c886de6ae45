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

	ttnsdk "github.com/TheThingsNetwork/go-app-sdk"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
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

	"github.com/akhenakh/raingarden"
	"github.com/akhenakh/raingarden/forwarder"
	"github.com/akhenakh/raingarden/gw"
)

const appName = "relayd"

var (
	version = "no version from LDFLAGS"

	appID           = flag.String("appID", "raingarden", "The things network application ID")
	appAccessKey    = flag.String("appAccessKey", "", "The things network access key")
	discoveryServer = flag.String("discoveryServer", "", "The things network discovery server address, community one if empty")
	decodeRaw       = flag.Bool("decodeRaw", true, "decode payload_raw when the application has no payload function")

	ingestURL      = flag.String("ingestURL", forwarder.DefaultURL, "the ingestion endpoint uplinks are posted to")
	ingestToken    = flag.String("ingestToken", "", "bearer token sent to the ingestion endpoint, NODE_SCRIPTR_TOKEN if empty")
	forwardTimeout = flag.Duration("forwardTimeout", 0, "timeout of a forward request, 0 for none")

	gwAddr     = flag.String("gwAddr", "", "UDP address to listen for a packet forwarder, e.g. :1700, disabled if empty")
	gwRegistry = flag.String("gwRegistry", "devices.yaml", "YAML file of the ABP devices the gateway listener decrypts")

	logLevel        = flag.String("logLevel", "INFO", "DEBUG|INFO|WARN|ERROR")
	httpMetricsPort = flag.Int("httpMetricsPort", 8889, "http port")
	healthPort      = flag.Int("healthPort", 6667, "grpc health port")

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

	token := *ingestToken
	if token == "" {
		token = os.Getenv("NODE_SCRIPTR_TOKEN")
	}
	fwd := forwarder.NewForwarder(logger, forwarder.Config{
		URL:     *ingestURL,
		Token:   token,
		Timeout: *forwardTimeout,
	})

	l := raingarden.NewListener(appName, logger, fwd, raingarden.Config{DecodeRaw: *decodeRaw})
	l.Health = healthServer

	// local packet forwarder
	if *gwAddr != "" {
		reg, err := gw.LoadRegistryFile(*gwRegistry)
		if err != nil {
			level.Error(logger).Log("msg", "can't load device registry", "error", err, "path", *gwRegistry)
			os.Exit(2)
		}
		level.Info(logger).Log("msg", "device registry loaded", "devices", reg.Len())

		gws := gw.NewServer(appName, logger, reg, l)
		if err := gws.StartListener(ctx, *gwAddr); err != nil {
			os.Exit(2)
		}
		defer gws.Close()
	}

	// TTN client subscriptions
	g.Go(func() error {
		logger := log.With(logger, "component", "ttnclient")
		config := ttnsdk.NewCommunityConfig(appName)
		config.ClientVersion = version
		if *discoveryServer != "" {
			config.DiscoveryServerAddress = *discoveryServer
		}

		client := config.NewClient(*appID, *appAccessKey)
		defer client.Close()

		// Start Publish/Subscribe client (MQTT)
		pubsub, err := client.PubSub()
		if err != nil {
			level.Error(logger).Log("msg", "can't get pub/sub", "error", err)
			return err
		}
		defer pubsub.Close()

		allDevicesPubSub := pubsub.AllDevices()

		// also stops existing subscriptions
		defer allDevicesPubSub.Close()

		return l.Listen(ctx, allDevicesPubSub)
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

	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}

	err := g.Wait()
	if err != nil {
		level.Error(logger).Log("msg", "server returning an error", "error", err)
		os.Exit(2)
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
