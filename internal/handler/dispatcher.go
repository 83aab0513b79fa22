package handler

import (
	"context"
	"log/slog"
	"sync"

	"moebot/internal/domain"
)

const defaultConcurrency = 4

// TurnHandler runs one turn for an inbound event.
type TurnHandler interface {
	Handle(ctx context.Context, in domain.Inbound)
}

// DispatcherConfig holds the dispatcher's collaborators.
type DispatcherConfig struct {
	Bus         domain.MessageBus
	Handler     TurnHandler
	Logger      *slog.Logger
	Concurrency int // max turns in flight across all channels
}

// Dispatcher consumes the bus. Turns for one channel run in arrival order;
// different channels run in parallel up to the concurrency bound.
type Dispatcher struct {
	bus         domain.MessageBus
	handler     TurnHandler
	seq         *Sequencer
	logger      *slog.Logger
	concurrency int
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Dispatcher{
		bus:         cfg.Bus,
		handler:     cfg.Handler,
		seq:         NewSequencer(),
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// ChannelKey identifies the conversation an event belongs to.
func ChannelKey(in domain.Inbound) string {
	return in.Platform + ":" + in.Message.ChannelID
}

// Run dispatches until ctx is done or the bus closes, then waits for the
// turns already started.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started", "concurrency", d.concurrency)

	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	inbound := d.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return nil
		case in, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound bus closed, dispatcher stopping")
				return nil
			}
			if !ShouldRespond(in) {
				continue
			}

			// The channel slot is reserved here so arrival order decides turn
			// order. The concurrency slot is taken only once the turn may run,
			// so turns queued behind their own channel never hold one.
			turn := d.seq.Enter(ChannelKey(in))

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer turn.Leave()

				if err := turn.Wait(ctx); err != nil {
					d.logger.Debug("turn abandoned before start", "channel", in.Message.ChannelID, "err", err)
					return
				}
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					d.logger.Debug("turn abandoned before start", "channel", in.Message.ChannelID, "err", ctx.Err())
					return
				}
				defer func() { <-sem }()

				d.handler.Handle(ctx, in)
			}()
		}
	}
}
