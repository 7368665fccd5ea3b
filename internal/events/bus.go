package events

import (
	"context"
	"errors"
	"sync"

	"github.com/avco-ledger/internal/logging"
)

// ErrBusClosed is returned by Publish after Close
var ErrBusClosed = errors.New("event bus closed")

// Publisher accepts signals for asynchronous delivery
type Publisher interface {
	Publish(ctx context.Context, s Signal) error
}

// Handler reacts to one signal
type Handler func(ctx context.Context, s Signal) error

// Bus is an in-process publish/subscribe queue. Publish enqueues into a
// bounded buffer; Run dispatches to subscribers on up to `workers` goroutines.
type Bus struct {
	ch      chan Signal
	workers int

	mu       sync.RWMutex
	handlers map[Kind][]Handler
	closed   bool
	done     chan struct{}
}

// NewBus creates a bus with the given buffer and dispatch concurrency
func NewBus(buffer, workers int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &Bus{
		ch:       make(chan Signal, buffer),
		workers:  workers,
		handlers: make(map[Kind][]Handler),
		done:     make(chan struct{}),
	}
}

// Subscribe registers h for signals of kind
func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], h)
	b.mu.Unlock()
}

// Publish enqueues s, blocking while the buffer is full
func (b *Bus) Publish(ctx context.Context, s Signal) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	select {
	case b.ch <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting signals; Run returns once the buffer is drained
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}

// Done is closed when Run has returned
func (b *Bus) Done() <-chan struct{} {
	return b.done
}

// Run dispatches signals until the bus is closed and drained or ctx ends
func (b *Bus) Run(ctx context.Context) {
	defer close(b.done)

	sem := make(chan struct{}, b.workers)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-b.ch:
			if !ok {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer func() {
					<-sem
					wg.Done()
				}()
				b.dispatch(ctx, s)
			}()
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, s Signal) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[s.Kind()]...)
	b.mu.RUnlock()

	log := logging.FromContext(ctx).WithField("signal", string(s.Kind()))
	if len(handlers) == 0 {
		log.Debug("no subscriber for signal")
		return
	}
	for _, h := range handlers {
		if err := h(ctx, s); err != nil {
			log.WithError(err).Error("signal handler failed")
		}
	}
}

// Recorder is a Publisher that keeps every signal, for tests and dry runs
type Recorder struct {
	mu      sync.Mutex
	signals []Signal
}

// Publish implements Publisher
func (r *Recorder) Publish(ctx context.Context, s Signal) error {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
	return nil
}

// Signals returns a copy of the recorded signals
func (r *Recorder) Signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}

// OfKind returns the recorded signals of kind
func (r *Recorder) OfKind(kind Kind) []Signal {
	var out []Signal
	for _, s := range r.Signals() {
		if s.Kind() == kind {
			out = append(out, s)
		}
	}
	return out
}
