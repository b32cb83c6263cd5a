package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgnsrekt/livefeed/internal/content"
	"github.com/dgnsrekt/livefeed/internal/coordinator"
)

// ReconnectResult summarizes one token rotation.
type ReconnectResult struct {
	Total   int
	Success int
	Gone    int
	Failed  int
	Errors  []string
}

type reconnectOutcome struct {
	owner coordinator.Coordinator
	err   error
}

// reconnectAll re-issues owners under token on a fixed pool of workers.
func (p *Provider) reconnectAll(ctx context.Context, owners []coordinator.Coordinator, token string) *ReconnectResult {
	result := &ReconnectResult{Total: len(owners)}
	if len(owners) == 0 {
		return result
	}

	jobs := make(chan coordinator.Coordinator, len(owners))
	results := make(chan reconnectOutcome, len(owners))

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range jobs {
				results <- reconnectOutcome{owner: c, err: c.Reconnect(ctx, token)}
			}
		}()
	}

	for _, c := range owners {
		jobs <- c
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		switch {
		case r.err == nil:
			result.Success++
		case errors.Is(r.err, content.ErrSubscriptionNotFound):
			result.Gone++
		default:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", r.owner.Identifier(), r.err))
		}
	}
	return result
}
