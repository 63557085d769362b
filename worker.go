package rubble

import (
	"runtime"
	"sync"
)

// parallelFor splits [0,n) across GOMAXPROCS workers. Each index is visited
// by exactly one worker; callers must ensure body(i) only writes state owned
// by index i (snapshot in, intent out).
func parallelFor(n int, body func(i int)) {
	if n == 0 {
		return
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 || n < 32 {
		for i := 0; i < n; i++ {
			body(i)
		}
		return
	}

	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				body(i)
			}
		}(start, end)
	}
	wg.Wait()
}
