// Package relay decouples item-producing operations from pushing to sockets.
//
// Producers call Enqueue, which never waits on network I/O. A single
// consumer goroutine delivers messages in enqueue order, so events for one
// owner reach that owner's devices in FIFO order. Delivery is best effort:
// devices that miss a message recover through fetch-updates.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/clipsync/clipsync/internal/logger"
)

// DefaultCapacity bounds the queue when none is configured.
const DefaultCapacity = 1024

// Message is one broadcast. Payload is serialized once per message.
type Message struct {
	Owner         string
	Origin        string
	ExcludeOrigin bool
	Payload       any
}

// Targets resolves and reaches live devices.
type Targets interface {
	ListOnline(owner string) []string
	SendTo(owner, deviceID string, msg []byte) error
}

// Relay is a bounded drop-oldest queue with one consumer.
type Relay struct {
	targets  Targets
	logger   logger.Logger
	capacity int

	mu     sync.Mutex
	queue  []Message
	closed bool

	signal    chan struct{}
	stopping  chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once

	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// New creates a relay. capacity <= 0 selects DefaultCapacity.
func New(targets Targets, log logger.Logger, capacity int) *Relay {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Relay{
		targets:  targets,
		logger:   log,
		capacity: capacity,
		queue:    make([]Message, 0, capacity),
		signal:   make(chan struct{}, 1),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start spawns the consumer loop. Calls after the first are no-ops.
func (r *Relay) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		go r.run(ctx)
	})
}

// Stop refuses new messages, delivers what is already queued and waits for
// the consumer to exit or ctx to expire.
func (r *Relay) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.stopping)
	})
	// A relay that never started still owes its queue a drain.
	r.Start(context.WithoutCancel(ctx))

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue adds msg to the queue without blocking. When the queue is full
// the oldest message is dropped.
func (r *Relay) Enqueue(msg Message) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debug("relay stopped, discarding broadcast", logger.Owner(msg.Owner))
		return
	}
	if len(r.queue) >= r.capacity {
		evicted := r.queue[0]
		r.queue = append(r.queue[:0], r.queue[1:]...)
		r.dropped.Add(1)
		r.logger.Warn("relay queue full, dropping oldest broadcast",
			logger.Owner(evicted.Owner),
			logger.Int("capacity", r.capacity))
	}
	r.queue = append(r.queue, msg)
	r.mu.Unlock()

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of queued messages.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Dropped returns how many messages were evicted by a full queue.
func (r *Relay) Dropped() uint64 { return r.dropped.Load() }

// Delivered returns how many per-device sends succeeded.
func (r *Relay) Delivered() uint64 { return r.delivered.Load() }

func (r *Relay) pop() (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return Message{}, false
	}
	msg := r.queue[0]
	r.queue[0] = Message{}
	r.queue = r.queue[1:]
	if len(r.queue) == 0 {
		r.queue = make([]Message, 0, r.capacity)
	}
	return msg, true
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)

	for {
		if msg, ok := r.pop(); ok {
			r.deliver(msg)
			continue
		}

		select {
		case <-r.signal:
		case <-r.stopping:
			r.drain()
			return
		case <-ctx.Done():
			r.discard()
			return
		}
	}
}

func (r *Relay) drain() {
	for {
		msg, ok := r.pop()
		if !ok {
			return
		}
		r.deliver(msg)
	}
}

func (r *Relay) discard() {
	r.mu.Lock()
	n := len(r.queue)
	r.queue = r.queue[:0]
	r.closed = true
	r.mu.Unlock()

	if n > 0 {
		r.logger.Warn("relay cancelled, discarding queued broadcasts", logger.Int("count", n))
	}
}

func (r *Relay) deliver(msg Message) {
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		r.logger.Error("failed to encode broadcast", logger.Owner(msg.Owner), logger.Error(err))
		return
	}

	for _, deviceID := range r.targets.ListOnline(msg.Owner) {
		if msg.ExcludeOrigin && deviceID == msg.Origin {
			continue
		}
		if err := r.targets.SendTo(msg.Owner, deviceID, data); err != nil {
			r.logger.Debug("broadcast delivery failed",
				logger.Owner(msg.Owner),
				logger.Device(deviceID),
				logger.Error(err))
			continue
		}
		r.delivered.Add(1)
	}
}
