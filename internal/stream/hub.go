package stream

import (
	"sync"

	"go.uber.org/zap"
)

const (
	sendBufferSize = 256

	// A lossless subscriber logs each time its backlog crosses another
	// multiple of this.
	backlogWarnStep = 4096
)

// Hub fans values out to any number of subscribers. Publish never blocks.
// On a regular hub a subscriber whose buffer is full is dropped and its
// channel closed. On a lossless hub every subscriber queues without bound
// and sees every value in publish order.
type Hub[T any] struct {
	name     string
	mu       sync.Mutex
	subs     map[*Subscriber[T]]struct{}
	replay   bool
	lossless bool
	last     T
	hasLast  bool
	closed   bool
	logger   *zap.Logger
}

// Subscriber receives values published on a Hub.
type Subscriber[T any] struct {
	hub *Hub[T]
	ch  chan T
	q   *queue[T]
}

// queue is the backlog of a lossless subscriber, drained into ch by pump.
type queue[T any] struct {
	mu       sync.Mutex
	items    []T
	finished bool
	warnAt   int
	wake     chan struct{}
	done     chan struct{}
	stop     sync.Once
}

// NewHub creates a Hub. When replay is set, new subscribers first receive
// the most recently published value.
func NewHub[T any](name string, replay bool, logger *zap.Logger) *Hub[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub[T]{
		name:   name,
		subs:   make(map[*Subscriber[T]]struct{}),
		replay: replay,
		logger: logger,
	}
}

// NewLosslessHub creates a hub that never drops a subscriber for being
// slow. Used where a lost value cannot be recovered, such as socket deltas.
func NewLosslessHub[T any](name string, logger *zap.Logger) *Hub[T] {
	h := NewHub[T](name, false, logger)
	h.lossless = true
	return h
}

// Subscribe registers a new subscriber.
func (h *Hub[T]) Subscribe() *Subscriber[T] {
	return h.SubscribeWith()
}

// SubscribeWith registers a new subscriber whose channel already holds
// initial. No published value can interleave with the initial values.
func (h *Hub[T]) SubscribeWith(initial ...T) *Subscriber[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &Subscriber[T]{hub: h, ch: make(chan T, sendBufferSize+len(initial)+1)}
	if h.closed {
		close(s.ch)
		return s
	}
	if h.replay && h.hasLast && len(initial) == 0 {
		s.ch <- h.last
	}
	for _, v := range initial {
		s.ch <- v
	}
	if h.lossless {
		s.q = &queue[T]{
			warnAt: backlogWarnStep,
			wake:   make(chan struct{}, 1),
			done:   make(chan struct{}),
		}
		go s.pump()
	}
	h.subs[s] = struct{}{}

	h.logger.Debug("subscriber registered",
		zap.String("hub", h.name),
		zap.Int("subscribers", len(h.subs)),
	)
	return s
}

// Publish delivers v to every subscriber.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.last = v
	h.hasLast = true

	for s := range h.subs {
		h.deliverLocked(s, v)
	}
}

// PublishTo delivers v to s alone. It does not change the replayed value.
func (h *Hub[T]) PublishTo(s *Subscriber[T], v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; ok {
		h.deliverLocked(s, v)
	}
}

func (h *Hub[T]) deliverLocked(s *Subscriber[T], v T) {
	if s.q != nil {
		s.enqueue(v)
		return
	}
	select {
	case s.ch <- v:
	default:
		// Buffer full, drop the subscriber
		delete(h.subs, s)
		close(s.ch)
		h.logger.Warn("slow subscriber dropped",
			zap.String("hub", h.name),
		)
	}
}

// Last returns the most recently published value.
func (h *Hub[T]) Last() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last, h.hasLast
}

// Len returns the number of registered subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later subscribers get a closed
// channel and later publishes are ignored.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		if s.q != nil {
			// Deliver the backlog, then close
			s.finish()
			continue
		}
		close(s.ch)
	}
	h.logger.Debug("hub closed", zap.String("hub", h.name))
}

func (h *Hub[T]) remove(s *Subscriber[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		if s.q == nil {
			close(s.ch)
		}
	}
	if s.q != nil {
		s.q.stop.Do(func() { close(s.q.done) })
	}
}

func (s *Subscriber[T]) enqueue(v T) {
	q := s.q
	q.mu.Lock()
	q.items = append(q.items, v)
	n := len(q.items)
	if n >= q.warnAt {
		q.warnAt += backlogWarnStep
		s.hub.logger.Warn("subscriber backlog growing",
			zap.String("hub", s.hub.name),
			zap.Int("backlog", n),
		)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (s *Subscriber[T]) finish() {
	s.q.mu.Lock()
	s.q.finished = true
	s.q.mu.Unlock()

	select {
	case s.q.wake <- struct{}{}:
	default:
	}
}

// pump moves queued values into ch in order. It closes ch once the hub has
// closed and the backlog is delivered, or at once when the subscriber
// closes.
func (s *Subscriber[T]) pump() {
	q := s.q
	defer close(s.ch)

	var zero T
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			finished := q.finished
			q.items = nil
			q.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		v := q.items[0]
		q.items[0] = zero
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case s.ch <- v:
		case <-q.done:
			return
		}
	}
}

// C returns the receive channel. It is closed when the subscriber is
// dropped or closed, or after the hub closes.
func (s *Subscriber[T]) C() <-chan T {
	return s.ch
}

// Close unregisters the subscriber. Safe to call more than once.
func (s *Subscriber[T]) Close() {
	s.hub.remove(s)
}
