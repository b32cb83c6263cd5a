package content

// Subscription is the handle a consumer holds to keep content flowing.
// Release must be called exactly once when the consumer is done; further
// calls are no-ops.
type Subscription interface {
	ID() string
	Identifier() Identifier
	Release()
}

// State tags a Message.
type State int

const (
	StateConnected State = iota + 1
	StateContentUpdate
	StateDisconnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateContentUpdate:
		return "contentUpdate"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Message is what consumers receive: connected(handle), contentUpdate(T),
// disconnected, or failed(err) for terminal, non-retryable problems.
type Message[T any] struct {
	State        State
	Subscription Subscription
	Content      T
	Err          error
}

func Connected[T any](s Subscription) Message[T] {
	return Message[T]{State: StateConnected, Subscription: s}
}

func ContentUpdate[T any](v T) Message[T] {
	return Message[T]{State: StateContentUpdate, Content: v}
}

func Disconnected[T any]() Message[T] {
	return Message[T]{State: StateDisconnected}
}

func Failed[T any](err error) Message[T] {
	return Message[T]{State: StateFailed, Err: err}
}
