package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/absmach/supermq/pkg/jaeger"
	"github.com/absmach/supermq/pkg/prometheus"
	"github.com/absmach/supermq/pkg/server"
	httpserver "github.com/absmach/supermq/pkg/server/http"
	"github.com/caarlos0/env/v11"
	"github.com/evostrat/evostrat/es"
	"github.com/evostrat/evostrat/master"
	"github.com/evostrat/evostrat/master/api"
	"github.com/evostrat/evostrat/master/middleware"
	"github.com/evostrat/evostrat/pkg/broker"
	"github.com/evostrat/evostrat/pkg/mqtt"
	"github.com/evostrat/evostrat/pkg/storage"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

const (
	svcName       = "master"
	defHTTPPort   = "7070"
	envPrefixHTTP = "MASTER_HTTP_"
	pathEnv       = ".env"
)

type envConfig struct {
	LogLevel       string        `env:"MASTER_LOG_LEVEL"       envDefault:"info"`
	InstanceID     string        `env:"MASTER_INSTANCE_ID"`
	ExperimentFile string        `env:"MASTER_EXPERIMENT_FILE" envDefault:"experiment.toml"`
	CheckpointDir  string        `env:"MASTER_CHECKPOINT_DIR"  envDefault:"checkpoints"`
	MQTTAddress    string        `env:"MASTER_MQTT_ADDRESS"    envDefault:"tcp://localhost:1883"`
	MQTTQoS        uint8         `env:"MASTER_MQTT_QOS"        envDefault:"1"`
	MQTTTimeout    time.Duration `env:"MASTER_MQTT_TIMEOUT"    envDefault:"30s"`
	ChannelID      string        `env:"MASTER_CHANNEL_ID"      envDefault:"evostrat"`
	OTELURL        url.URL       `env:"MASTER_OTEL_URL"`
	TraceRatio     float64       `env:"MASTER_TRACE_RATIO"     envDefault:"0"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		log.Fatalf("failed to parse log level: %s", err.Error())
	}
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	expCfg, err := es.LoadConfig(cfg.ExperimentFile)
	if err != nil {
		logger.Error("failed to load experiment configuration", slog.String("path", cfg.ExperimentFile), slog.Any("error", err))

		return
	}

	var tp trace.TracerProvider
	switch {
	case cfg.OTELURL == (url.URL{}):
		tp = noop.NewTracerProvider()
	default:
		sdktp, err := jaeger.NewProvider(ctx, svcName, cfg.OTELURL, "", cfg.TraceRatio)
		if err != nil {
			logger.Error("failed to initialize opentelemetry", slog.String("error", err.Error()))

			return
		}
		defer func() {
			if err := sdktp.Shutdown(ctx); err != nil {
				logger.Error("error shutting down tracer provider", slog.Any("error", err))
			}
		}()
		tp = sdktp
	}
	tracer := tp.Tracer(svcName)

	// Empty will channel: the master must not announce itself as a dead worker.
	mqttPubSub, err := mqtt.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, svcName+"-"+cfg.InstanceID, "", cfg.MQTTTimeout, logger)
	if err != nil {
		logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

		return
	}

	store, stats, err := master.Bootstrap(expCfg, cfg.CheckpointDir, logger)
	if err != nil {
		logger.Error("failed to bootstrap parameters", slog.Any("error", err))

		return
	}

	svc := master.NewService(
		expCfg,
		store,
		broker.NewMQTT(mqttPubSub, cfg.ChannelID, logger),
		storage.NewInMemoryStorage(),
		cfg.CheckpointDir,
		stats,
		logger,
	)
	svc = middleware.Logging(logger, svc)
	svc = middleware.Tracing(tracer, svc)
	counter, latency := prometheus.MakeMetrics(svcName, "api")
	svc = middleware.Metrics(counter, latency, svc)

	httpServerConfig := server.Config{Port: defHTTPPort}
	if err := env.ParseWithOptions(&httpServerConfig, env.Options{Prefix: envPrefixHTTP}); err != nil {
		logger.Error(fmt.Sprintf("failed to load %s HTTP server configuration : %s", svcName, err.Error()))

		return
	}

	hs := httpserver.NewServer(ctx, cancel, svcName, httpServerConfig, api.MakeHandler(svc, logger, cfg.InstanceID), logger)

	g.Go(func() error {
		return svc.Run(ctx)
	})

	g.Go(func() error {
		return hs.Start()
	})

	g.Go(func() error {
		return server.StopSignalHandler(ctx, cancel, logger, svcName, hs)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}
