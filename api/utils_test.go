package api

import (
	"sync"
	"testing"
)

func TestNextTimestampMonotonic(t *testing.T) {
	prev := nextTimestamp()
	for i := 0; i < 1000; i++ {
		ts := nextTimestamp()
		if ts <= prev {
			t.Fatalf("timestamp went backwards: %d after %d", ts, prev)
		}
		prev = ts
	}
}

func TestNextTimestampConcurrentUnique(t *testing.T) {
	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[int64]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				local = append(local, nextTimestamp())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, ts := range local {
				if _, dup := seen[ts]; dup {
					t.Errorf("duplicate timestamp %d", ts)
				}
				seen[ts] = struct{}{}
			}
		}()
	}
	wg.Wait()
}
