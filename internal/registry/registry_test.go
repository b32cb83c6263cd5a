package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livefeed/internal/api"
	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/session"
)

type call struct {
	token string
	id    content.Identifier
}

type fakeClient struct {
	mu           sync.Mutex
	subs         []call
	unsubs       []call
	subscribeErr error
	subBlock     chan struct{}
	unsubBlock   chan struct{}
	unsubDone    chan struct{}
}

func (f *fakeClient) Subscribe(ctx context.Context, token string, id content.Identifier) error {
	f.mu.Lock()
	f.subs = append(f.subs, call{token, id})
	block, err := f.subBlock, f.subscribeErr
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeClient) Unsubscribe(ctx context.Context, token string, id content.Identifier) error {
	f.mu.Lock()
	block := f.unsubBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	f.unsubs = append(f.unsubs, call{token, id})
	done := f.unsubDone
	f.mu.Unlock()
	if done != nil {
		done <- struct{}{}
	}
	return nil
}

func (f *fakeClient) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs), len(f.unsubs)
}

func newTestRegistry(t *testing.T, client api.Client, token string) (*Registry, *session.Store) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	store := session.NewStore(logger)
	if token != "" {
		store.Set(token)
	}
	reg := New(client, store, nil, logger)
	t.Cleanup(func() {
		reg.Close()
		store.Close()
	})
	return reg, store
}

func TestAcquire_NoSession(t *testing.T) {
	reg, _ := newTestRegistry(t, &fakeClient{}, "")
	_, err := reg.Acquire(context.Background(), content.EventDetails("E1"))
	assert.ErrorIs(t, err, content.ErrUserSessionNotFound)
}

func TestAcquire_DeduplicatesConcurrentCallers(t *testing.T) {
	client := &fakeClient{subBlock: make(chan struct{})}
	reg, _ := newTestRegistry(t, client, "tok-1")
	id := content.EventDetails("E1")

	const callers = 10
	var wg sync.WaitGroup
	handles := make(chan *Handle, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := reg.Acquire(context.Background(), id)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			handles <- h
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(client.subBlock)
	wg.Wait()
	close(handles)

	subs, _ := client.counts()
	assert.Equal(t, 1, subs)

	var all []*Handle
	for h := range handles {
		all = append(all, h)
	}
	require.Len(t, all, callers)
	require.Len(t, reg.Active(), 1)
	assert.Equal(t, callers, reg.Active()[0].Refs)

	client.mu.Lock()
	client.unsubDone = make(chan struct{}, 1)
	client.mu.Unlock()

	for i, h := range all {
		h.Release()
		h.Release()
		if i < len(all)-1 {
			_, unsubs := client.counts()
			assert.Equal(t, 0, unsubs)
		}
	}

	select {
	case <-client.unsubDone:
	case <-time.After(time.Second):
		t.Fatal("expected unsubscribe after last release")
	}
	_, unsubs := client.counts()
	assert.Equal(t, 1, unsubs)
	assert.Empty(t, reg.Active())
}

func TestAcquire_NotFound(t *testing.T) {
	client := &fakeClient{subscribeErr: api.ErrNotFound}
	reg, _ := newTestRegistry(t, client, "tok-1")
	id := content.EventDetails("missing")

	_, err := reg.Acquire(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, content.ErrOnSubscribe))
	assert.True(t, errors.Is(err, content.ErrResourceNotFound))
	assert.Empty(t, reg.Active())

	// A later acquire tries again
	client.mu.Lock()
	client.subscribeErr = nil
	client.mu.Unlock()

	h, err := reg.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer h.Release()

	subs, _ := client.counts()
	assert.Equal(t, 2, subs)
}

func TestAcquire_Gone(t *testing.T) {
	client := &fakeClient{subscribeErr: api.ErrGone}
	reg, _ := newTestRegistry(t, client, "tok-1")

	_, err := reg.Acquire(context.Background(), content.Market("M1"))
	assert.ErrorIs(t, err, content.ErrResourceUnavailableOrDeleted)
}

func TestAcquire_WaitsForPendingUnsubscribe(t *testing.T) {
	client := &fakeClient{unsubBlock: make(chan struct{})}
	reg, _ := newTestRegistry(t, client, "tok-1")
	id := content.EventDetails("E1")

	h, err := reg.Acquire(context.Background(), id)
	require.NoError(t, err)
	h.Release()

	acquired := make(chan *Handle, 1)
	go func() {
		h2, err := reg.Acquire(context.Background(), id)
		if err != nil {
			t.Errorf("acquire: %v", err)
		}
		acquired <- h2
	}()

	time.Sleep(50 * time.Millisecond)
	subs, _ := client.counts()
	assert.Equal(t, 1, subs, "resubscribe must wait for the unsubscribe")

	close(client.unsubBlock)
	var h2 *Handle
	select {
	case h2 = <-acquired:
		require.NotNil(t, h2)
	case <-time.After(time.Second):
		t.Fatal("acquire did not complete")
	}

	subs, unsubs := client.counts()
	assert.Equal(t, 2, subs)
	assert.Equal(t, 1, unsubs)
	h2.Release()
}

func TestHandle_Reissue(t *testing.T) {
	client := &fakeClient{}
	reg, _ := newTestRegistry(t, client, "tok-1")

	h, err := reg.Acquire(context.Background(), content.EventDetails("E1"))
	require.NoError(t, err)
	defer h.Release()
	assert.Equal(t, "tok-1", h.Token())

	require.NoError(t, h.Reissue(context.Background(), "tok-1"))
	subs, _ := client.counts()
	assert.Equal(t, 1, subs)

	require.NoError(t, h.Reissue(context.Background(), "tok-2"))
	assert.Equal(t, "tok-2", h.Token())

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.subs, 2)
	assert.Equal(t, "tok-2", client.subs[1].token)
}

func TestReissue_CancelsInFlightSubscribe(t *testing.T) {
	client := &fakeClient{subBlock: make(chan struct{})}
	reg, _ := newTestRegistry(t, client, "tok-1")
	id := content.EventDetails("E1")

	result := make(chan error, 1)
	go func() {
		h, err := reg.Acquire(context.Background(), id)
		if err == nil {
			defer h.Release()
		}
		result <- err
	}()

	time.Sleep(30 * time.Millisecond)
	client.mu.Lock()
	client.subBlock = nil
	client.mu.Unlock()

	require.NoError(t, reg.Resubscribe(context.Background(), "tok-2"))

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not complete after reissue")
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.subs, 2)
	assert.Equal(t, "tok-2", client.subs[1].token)
}

func TestAcquire_ContextCancelled(t *testing.T) {
	client := &fakeClient{subBlock: make(chan struct{})}
	reg, _ := newTestRegistry(t, client, "tok-1")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := reg.Acquire(ctx, content.EventDetails("E1"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, reg.Active())
}
