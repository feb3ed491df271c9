package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/evostrat/evostrat/pkg/broker"
	"github.com/evostrat/evostrat/pkg/mqtt"
	"github.com/evostrat/evostrat/relay"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

const (
	svcName = "relay"
	pathEnv = ".env"
)

type envConfig struct {
	LogLevel        string        `env:"RELAY_LOG_LEVEL"         envDefault:"info"`
	UpstreamAddress string        `env:"RELAY_UPSTREAM_ADDRESS"  envDefault:"tcp://localhost:1883"`
	LocalAddress    string        `env:"RELAY_LOCAL_ADDRESS"     envDefault:"tcp://localhost:1884"`
	MQTTQoS         uint8         `env:"RELAY_MQTT_QOS"          envDefault:"1"`
	MQTTTimeout     time.Duration `env:"RELAY_MQTT_TIMEOUT"      envDefault:"30s"`
	ChannelID       string        `env:"RELAY_CHANNEL_ID"        envDefault:"evostrat"`
	BatchSize       int           `env:"RELAY_BATCH_SIZE"        envDefault:"64"`
	FlushInterval   time.Duration `env:"RELAY_FLUSH_INTERVAL"    envDefault:"500ms"`
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	id := uuid.NewString()

	// Relays carry no worker identity, so neither client installs a will.
	upstreamPubSub, err := mqtt.NewPubSub(cfg.UpstreamAddress, cfg.MQTTQoS, svcName+"-up-"+id, "", cfg.MQTTTimeout, logger)
	if err != nil {
		logger.Error("failed to initialize upstream mqtt pubsub", slog.String("error", err.Error()))

		return
	}

	localPubSub, err := mqtt.NewPubSub(cfg.LocalAddress, cfg.MQTTQoS, svcName+"-local-"+id, "", cfg.MQTTTimeout, logger)
	if err != nil {
		logger.Error("failed to initialize local mqtt pubsub", slog.String("error", err.Error()))

		return
	}

	r := relay.New(
		broker.NewMQTT(upstreamPubSub, cfg.ChannelID, logger),
		broker.NewMQTT(localPubSub, cfg.ChannelID, logger),
		logger,
		relay.WithBatchSize(cfg.BatchSize),
		relay.WithFlushInterval(cfg.FlushInterval),
	)

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(fmt.Sprintf("%s service exited with error: %s", svcName, err))
	}
}
