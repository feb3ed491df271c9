package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/evostrat/evostrat/es"
	pkgerrors "github.com/evostrat/evostrat/pkg/errors"
)

var errBrokerDown = errors.New("broker unreachable")

// InMemory is a process-local TaskBroker with the same latest-value
// semantics as the networked implementation. It backs tests and the relay's
// local serving side. Handlers run synchronously on the publisher's
// goroutine. SetDown simulates a network partition.
type InMemory struct {
	mu      sync.Mutex
	latest  *es.Broadcast
	genSubs []func(es.Broadcast)
	resSubs []func(es.RolloutResult)
	regSubs []func(es.Registration)
	down    bool
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (b *InMemory) SetDown(down bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = down
}

func (b *InMemory) PublishGeneration(_ context.Context, bc es.Broadcast) error {
	if err := bc.Validate(); err != nil {
		return errors.Join(pkgerrors.ErrMalformedMessage, err)
	}

	b.mu.Lock()
	if b.down {
		b.mu.Unlock()

		return errBrokerDown
	}
	b.latest = &bc
	subs := make([]func(es.Broadcast), len(b.genSubs))
	copy(subs, b.genSubs)
	b.mu.Unlock()

	for _, h := range subs {
		h(bc)
	}

	return nil
}

func (b *InMemory) SubscribeGenerations(_ context.Context, handler func(es.Broadcast)) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()

		return errBrokerDown
	}
	b.genSubs = append(b.genSubs, handler)
	latest := b.latest
	b.mu.Unlock()

	// Late join: deliver the current broadcast immediately.
	if latest != nil {
		handler(*latest)
	}

	return nil
}

func (b *InMemory) SubmitResult(_ context.Context, r es.RolloutResult) error {
	if err := r.Validate(); err != nil {
		return errors.Join(pkgerrors.ErrMalformedMessage, err)
	}

	b.mu.Lock()
	if b.down {
		b.mu.Unlock()

		return errBrokerDown
	}
	subs := make([]func(es.RolloutResult), len(b.resSubs))
	copy(subs, b.resSubs)
	b.mu.Unlock()

	for _, h := range subs {
		h(r)
	}

	return nil
}

func (b *InMemory) SubscribeResults(_ context.Context, handler func(es.RolloutResult)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errBrokerDown
	}
	b.resSubs = append(b.resSubs, handler)

	return nil
}

func (b *InMemory) Announce(_ context.Context, reg es.Registration) error {
	if err := reg.Validate(); err != nil {
		return errors.Join(pkgerrors.ErrMalformedMessage, err)
	}

	b.mu.Lock()
	if b.down {
		b.mu.Unlock()

		return errBrokerDown
	}
	subs := make([]func(es.Registration), len(b.regSubs))
	copy(subs, b.regSubs)
	b.mu.Unlock()

	for _, h := range subs {
		h(reg)
	}

	return nil
}

func (b *InMemory) SubscribeRegistrations(_ context.Context, handler func(es.Registration)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errBrokerDown
	}
	b.regSubs = append(b.regSubs, handler)

	return nil
}

func (b *InMemory) Disconnect(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.genSubs = nil
	b.resSubs = nil
	b.regSubs = nil

	return nil
}
