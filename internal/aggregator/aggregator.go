// Package aggregator fans every adapter into the single message store. It is
// the only writer of the store: adapters emit batches and state edges over
// channels, the aggregator applies them in arrival order on one goroutine.
package aggregator

import (
	"context"

	"go.uber.org/zap"

	"github.com/john/chatfeed/internal/chat"
	"github.com/john/chatfeed/internal/service"
	"github.com/john/chatfeed/internal/store"
)

const softwareName = "ChatFeed"

type Aggregator struct {
	store    *store.Store
	services []service.Service
	batches  <-chan service.Batch
	changes  <-chan service.StateChange
	log      *zap.Logger

	// announce controls the synthetic connected/disconnected messages posted
	// into the feed on state edges.
	announce bool

	software *chat.Author

	// onStateChange, when set, observes every applied edge. Used by the
	// consumer server to relay state events.
	onStateChange func(service.StateChange)
}

func New(st *store.Store, services []service.Service, batches <-chan service.Batch, changes <-chan service.StateChange, announce bool, log *zap.Logger) *Aggregator {
	return &Aggregator{
		store:    st,
		services: services,
		batches:  batches,
		changes:  changes,
		log:      log,
		announce: announce,
		software: chat.SoftwareAuthor(softwareName),
	}
}

func (a *Aggregator) Store() *store.Store { return a.store }

// SetStateChangeHook installs the edge observer. Must be called before Run.
func (a *Aggregator) SetStateChangeHook(fn func(service.StateChange)) {
	a.onStateChange = fn
}

// Run applies batches and state edges until ctx is cancelled. All store
// writes happen here, so arrival order is storage order.
func (a *Aggregator) Run(ctx context.Context) error {
	for {
		select {
		case batch := <-a.batches:
			a.applyBatch(batch)
		case change := <-a.changes:
			a.applyStateChange(change)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *Aggregator) applyBatch(batch service.Batch) {
	if len(batch.Messages) != len(batch.Authors) {
		a.log.Warn("dropping malformed batch",
			zap.Stringer("service", batch.Service),
			zap.Int("messages", len(batch.Messages)),
			zap.Int("authors", len(batch.Authors)))
		return
	}
	for i, msg := range batch.Messages {
		a.store.Append(msg, batch.Authors[i])
	}
}

func (a *Aggregator) applyStateChange(change service.StateChange) {
	verb := "disconnected"
	if change.Connected {
		verb = "connected"
	}
	a.log.Info("service state changed",
		zap.Stringer("service", change.Service),
		zap.String("state", verb),
		zap.String("stream", change.StreamID))

	if a.onStateChange != nil {
		a.onStateChange(change)
	}

	if !a.announce {
		return
	}

	msg := chat.NewMessage(a.software).
		WithGeneratedID().
		Text(change.Service.Name() + " " + verb).
		WithFlag(chat.ServiceMessage).
		Build()
	a.store.Append(msg, a.software)
}

// ConnectedCount reports how many adapters are currently connected.
func (a *Aggregator) ConnectedCount() int {
	n := 0
	for _, s := range a.services {
		if s.ConnectionState() == service.Connected {
			n++
		}
	}
	return n
}

// TotalViewers sums the viewer counts of connected services. Returns -1 when
// no connected service knows its count, mirroring the per-service unknown
// value.
func (a *Aggregator) TotalViewers() int {
	total := -1
	for _, s := range a.services {
		if s.ConnectionState() != service.Connected {
			continue
		}
		if v := s.State().ViewersCount; v >= 0 {
			if total < 0 {
				total = 0
			}
			total += v
		}
	}
	return total
}
