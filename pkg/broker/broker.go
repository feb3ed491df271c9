// Package broker defines the task distribution contract between the master,
// relays and workers: a latest-value generation channel fanning out, a
// result channel fanning in, and an ephemeral registration channel for
// liveness. Implementations are substitutable — networked MQTT for
// production, in-memory for tests and relay-local serving.
package broker

import (
	"context"

	"github.com/evostrat/evostrat/es"
)

type TaskBroker interface {
	// PublishGeneration replaces the previously published broadcast.
	// Idempotent: late subscribers see only the latest value.
	PublishGeneration(ctx context.Context, b es.Broadcast) error

	// SubscribeGenerations supports late join: a subscriber starting
	// mid-generation receives the current broadcast, not a historical one.
	SubscribeGenerations(ctx context.Context, handler func(es.Broadcast)) error

	// SubmitResult has at-most-once semantics; duplicate submissions for
	// the same (generation, seed) are deduplicated by the master.
	SubmitResult(ctx context.Context, r es.RolloutResult) error

	SubscribeResults(ctx context.Context, handler func(es.RolloutResult)) error

	Announce(ctx context.Context, reg es.Registration) error

	SubscribeRegistrations(ctx context.Context, handler func(es.Registration)) error

	Disconnect(ctx context.Context) error
}
