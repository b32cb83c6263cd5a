package registry

import (
	"context"
	"sync"

	"github.com/dgnsrekt/livefeed/internal/content"
)

// Handle is one holder's claim on a backend subscription.
type Handle struct {
	id   string
	reg  *Registry
	e    *entry
	once sync.Once
}

func (h *Handle) ID() string {
	return h.id
}

func (h *Handle) Identifier() content.Identifier {
	return h.e.id
}

// Token returns the session token the subscription was last issued under.
func (h *Handle) Token() string {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	return h.e.token
}

// Release drops this holder's reference. The last release unsubscribes.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.reg.release(h.e)
	})
}

// Reissue re-subscribes under token. It is a no-op when the subscription is
// already established under that token.
func (h *Handle) Reissue(ctx context.Context, token string) error {
	return h.reg.reissue(ctx, h.e, token)
}

var _ content.Subscription = (*Handle)(nil)
