package worker

import (
	"context"
	"sync"
)

// Runner is a long-lived loop that returns once ctx is cancelled.
type Runner interface {
	Start(ctx context.Context)
}

// StartAll runs every worker in its own goroutine. The returned function
// blocks until all of them have returned, so the process can exit only after
// in-flight sends are committed.
func StartAll(ctx context.Context, runners ...Runner) (wait func()) {
	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Start(ctx)
		}(r)
	}
	return wg.Wait
}
