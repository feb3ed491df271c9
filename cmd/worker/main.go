package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/caarlos0/env/v11"
	"github.com/evostrat/evostrat/pkg/broker"
	"github.com/evostrat/evostrat/pkg/mqtt"
	"github.com/evostrat/evostrat/worker"
	"github.com/evostrat/evostrat/worker/runtimes"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	svcName = "worker"
	pathEnv = ".env"

	envSphere = "sphere"
	envWasm   = "wasm"
)

var namegen = namegenerator.NewGenerator()

type envConfig struct {
	LogLevel    string        `env:"WORKER_LOG_LEVEL"    envDefault:"info"`
	MQTTAddress string        `env:"WORKER_MQTT_ADDRESS" envDefault:"tcp://localhost:1883"`
	MQTTQoS     uint8         `env:"WORKER_MQTT_QOS"     envDefault:"1"`
	MQTTTimeout time.Duration `env:"WORKER_MQTT_TIMEOUT" envDefault:"30s"`
	ChannelID   string        `env:"WORKER_CHANNEL_ID"   envDefault:"evostrat"`
	Environment string        `env:"WORKER_ENVIRONMENT"  envDefault:"sphere"`
	PolicyDim   int           `env:"WORKER_POLICY_DIM"   envDefault:"16"`
	WasmFile    string        `env:"WORKER_WASM_FILE"`
	Count       int           `env:"WORKER_COUNT"        envDefault:"1"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if _, err := os.Stat(pathEnv); err == nil {
		_ = godotenv.Load(pathEnv)
	}

	cfg := envConfig{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to load configuration : %s", err.Error())
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

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	for i := 0; i < cfg.Count; i++ {
		id := uuid.NewString()
		name := namegen.Generate()

		environment, err := buildEnvironment(ctx, cfg, logger)
		if err != nil {
			logger.Error("failed to build environment", slog.Any("error", err))

			return
		}

		// The worker id doubles as the MQTT client id so the last-will offline
		// registration names the same worker the registry tracks.
		mqttPubSub, err := mqtt.NewPubSub(cfg.MQTTAddress, cfg.MQTTQoS, id, cfg.ChannelID, cfg.MQTTTimeout, logger)
		if err != nil {
			logger.Error("failed to initialize mqtt pubsub", slog.String("error", err.Error()))

			return
		}

		w := worker.New(id, name, broker.NewMQTT(mqttPubSub, cfg.ChannelID, logger), environment, logger.With(slog.String("worker_id", id)))

		g.Go(func() error {
			return w.Run(ctx)
		})

		logger.Info("started worker", slog.String("id", id), slog.String("name", name))
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}

func buildEnvironment(ctx context.Context, cfg envConfig, logger *slog.Logger) (worker.Environment, error) {
	switch cfg.Environment {
	case envSphere:
		return worker.NewSphere(cfg.PolicyDim), nil
	case envWasm:
		wasmBinary, err := os.ReadFile(cfg.WasmFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read WASM file: %w", err)
		}

		return runtimes.NewWasmEnvironment(ctx, envWasm, wasmBinary, logger)
	default:
		return nil, fmt.Errorf("unknown environment %q", cfg.Environment)
	}
}
