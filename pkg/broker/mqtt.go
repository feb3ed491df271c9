package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/evostrat/evostrat/es"
	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
	pkgmqtt "github.com/evostrat/evostrat/pkg/mqtt"
)

var (
	generationTopicTemplate   = "channels/%s/messages/control/master/generation"
	resultsTopicTemplate      = "channels/%s/messages/results"
	registrationTopicTemplate = "channels/%s/messages/control/worker/alive"
)

type mqttBroker struct {
	pubsub    pkgmqtt.PubSub
	channelID string
	logger    *slog.Logger
}

// NewMQTT wires the task broker contract onto MQTT topics under one channel.
// The generation topic is retained so it behaves as a latest-value channel.
func NewMQTT(pubsub pkgmqtt.PubSub, channelID string, logger *slog.Logger) TaskBroker {
	return &mqttBroker{
		pubsub:    pubsub,
		channelID: channelID,
		logger:    logger,
	}
}

func (b *mqttBroker) PublishGeneration(ctx context.Context, bc es.Broadcast) error {
	if err := bc.Validate(); err != nil {
		return errors.Join(pkgerrors.ErrMalformedMessage, err)
	}

	topic := fmt.Sprintf(generationTopicTemplate, b.channelID)

	return b.pubsub.PublishRetained(ctx, topic, bc)
}

func (b *mqttBroker) SubscribeGenerations(ctx context.Context, handler func(es.Broadcast)) error {
	topic := fmt.Sprintf(generationTopicTemplate, b.channelID)

	return b.pubsub.Subscribe(ctx, topic, func(_ string, payload []byte) error {
		var bc es.Broadcast
		if err := json.Unmarshal(payload, &bc); err != nil {
			return errors.Join(pkgerrors.ErrMalformedMessage, err)
		}
		if err := bc.Validate(); err != nil {
			return errors.Join(pkgerrors.ErrMalformedMessage, err)
		}
		handler(bc)

		return nil
	})
}

func (b *mqttBroker) SubmitResult(ctx context.Context, r es.RolloutResult) error {
	if err := r.Validate(); err != nil {
		return errors.Join(pkgerrors.ErrMalformedMessage, err)
	}

	topic := fmt.Sprintf(resultsTopicTemplate, b.channelID)

	return b.pubsub.Publish(ctx, topic, r)
}

func (b *mqttBroker) SubscribeResults(ctx context.Context, handler func(es.RolloutResult)) error {
	topic := fmt.Sprintf(resultsTopicTemplate, b.channelID)

	return b.pubsub.Subscribe(ctx, topic, func(_ string, payload []byte) error {
		var r es.RolloutResult
		if err := json.Unmarshal(payload, &r); err != nil {
			return errors.Join(pkgerrors.ErrMalformedMessage, err)
		}
		if err := r.Validate(); err != nil {
			return errors.Join(pkgerrors.ErrMalformedMessage, err)
		}
		handler(r)

		return nil
	})
}

func (b *mqttBroker) Announce(ctx context.Context, reg es.Registration) error {
	if err := reg.Validate(); err != nil {
		return errors.Join(pkgerrors.ErrMalformedMessage, err)
	}

	topic := fmt.Sprintf(registrationTopicTemplate, b.channelID)

	return b.pubsub.Publish(ctx, topic, reg)
}

func (b *mqttBroker) SubscribeRegistrations(ctx context.Context, handler func(es.Registration)) error {
	topic := fmt.Sprintf(registrationTopicTemplate, b.channelID)

	return b.pubsub.Subscribe(ctx, topic, func(_ string, payload []byte) error {
		var reg es.Registration
		if err := json.Unmarshal(payload, &reg); err != nil {
			return errors.Join(pkgerrors.ErrMalformedMessage, err)
		}
		if err := reg.Validate(); err != nil {
			return errors.Join(pkgerrors.ErrMalformedMessage, err)
		}
		handler(reg)

		return nil
	})
}

func (b *mqttBroker) Disconnect(ctx context.Context) error {
	return b.pubsub.Disconnect(ctx)
}
