package anp_client

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultFetchConcurrency bounds parallel document fetches in FetchAll.
const DefaultFetchConcurrency = 8

// FetchAll retrieves a set of documents in parallel, each through the
// authenticated client. The first error cancels the remaining fetches.
func (c *Client) FetchAll(ctx context.Context, urls []string, concurrency int64) (map[string]*Result, error) {
	if concurrency <= 0 {
		concurrency = DefaultFetchConcurrency
	}

	sem := semaphore.NewWeighted(concurrency)
	group, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	results := make(map[string]*Result, len(urls))

	for _, target := range urls {
		target := target
		group.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			result, err := c.Do(ctx, "", target, "", nil)
			if err != nil {
				return err
			}

			mu.Lock()
			results[target] = result
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
