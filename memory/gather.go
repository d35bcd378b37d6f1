package memory

import (
	"context"
	"sync"
	"time"
)

// tierTask is one tier read executed by gather.
type tierTask struct {
	tier Tier
	fn   func(ctx context.Context) error
}

// gather runs the tier reads concurrently under a shared deadline and
// returns every tier's outcome. Unlike an errgroup, no failure cancels the
// others: retrieval is best-effort, so each task runs to completion or to
// the deadline and reports independently. A task still pending when the
// deadline expires is recorded with the context error.
func gather(ctx context.Context, deadline time.Duration, tasks []tierTask) map[Tier]error {
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	var mu sync.Mutex
	results := make(map[Tier]error, len(tasks))

	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(task tierTask) {
			defer wg.Done()
			err := task.fn(ctx)
			mu.Lock()
			results[task.tier] = err
			mu.Unlock()
		}(task)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return results
	case <-ctx.Done():
		// Deadline hit: snapshot what finished and mark the rest with the
		// deadline error. Straggler goroutines drain in the background,
		// writing only to the internal map, never to the snapshot.
		mu.Lock()
		out := make(map[Tier]error, len(tasks))
		for _, task := range tasks {
			if err, ok := results[task.tier]; ok {
				out[task.tier] = err
			} else {
				out[task.tier] = ctx.Err()
			}
		}
		mu.Unlock()
		return out
	}
}
