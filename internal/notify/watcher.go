package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/stream"
	"github.com/dgnsrekt/livefeed/internal/ws"
)

const sendTimeout = 30 * time.Second

// Watcher alerts when the connection stays down longer than grace, and
// again when it recovers after such an alert. Short blips send nothing.
type Watcher struct {
	notifier      Notifier
	grace         time.Duration
	subscriptions func() int
	logger        *zap.Logger
}

// NewWatcher creates a Watcher. subscriptions reports the number of live
// subscriptions for the message body; it may be nil.
func NewWatcher(n Notifier, grace time.Duration, subscriptions func() int, logger *zap.Logger) *Watcher {
	if subscriptions == nil {
		subscriptions = func() int { return 0 }
	}
	return &Watcher{
		notifier:      n,
		grace:         grace,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// Run consumes states until ctx is done or the stream closes.
func (w *Watcher) Run(ctx context.Context, states *stream.Subscriber[ws.State]) {
	defer states.Close()

	var (
		timer   *time.Timer
		alarm   <-chan time.Time
		downAt  time.Time
		alerted bool
	)
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			alarm = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return

		case s, ok := <-states.C():
			if !ok {
				return
			}
			switch s {
			case ws.StateDisconnected:
				if timer == nil && !alerted {
					downAt = time.Now()
					timer = time.NewTimer(w.grace)
					alarm = timer.C
				}
			case ws.StateConnected:
				stopTimer()
				if alerted {
					w.send(ctx, func(ctx context.Context) error {
						return w.notifier.SendRecovered(ctx, time.Since(downAt), w.subscriptions())
					})
					alerted = false
				}
			}

		case <-alarm:
			timer = nil
			alarm = nil
			alerted = true
			w.logger.Warn("connection down past grace period", zap.Duration("grace", w.grace))
			w.send(ctx, func(ctx context.Context) error {
				return w.notifier.SendDisconnected(ctx, time.Since(downAt), w.subscriptions())
			})
		}
	}
}

func (w *Watcher) send(ctx context.Context, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		w.logger.Warn("connection alert not delivered", zap.Error(err))
	}
}
