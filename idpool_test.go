package spanpipe

import (
	"runtime"
	"sync"
	"testing"
	"time"
)

func TestIDPoolBasicOperation(t *testing.T) {
	factory := func() string { return "test-id" }
	pool := newIDPool(10, factory)
	defer pool.close()

	if id := pool.get(); id != "test-id" {
		t.Errorf("Expected 'test-id', got %s", id)
	}
}

func TestIDPoolFallsBackToFactory(t *testing.T) {
	var callCount int
	var mu sync.Mutex
	factory := func() string {
		mu.Lock()
		defer mu.Unlock()
		callCount++
		return "direct-id"
	}

	// Tiny pool so burst reads outrun the refiller.
	pool := newIDPool(1, factory)
	defer pool.close()

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = pool.get()
	}

	mu.Lock()
	finalCount := callCount
	mu.Unlock()
	if finalCount < 2 {
		t.Errorf("Expected factory to be called multiple times, got %d", finalCount)
	}

	for _, id := range ids {
		if id != "direct-id" {
			t.Errorf("Expected 'direct-id', got %s", id)
		}
	}
}

func TestIDPoolConcurrentAccess(t *testing.T) {
	counter := 0
	mu := sync.Mutex{}
	factory := func() string {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return "concurrent-id"
	}

	pool := newIDPool(50, factory)
	defer pool.close()

	var wg sync.WaitGroup
	numGoroutines := 10
	idsPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < idsPerGoroutine; j++ {
				if id := pool.get(); id != "concurrent-id" {
					t.Errorf("Expected 'concurrent-id', got %s", id)
				}
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	finalCounter := counter
	mu.Unlock()
	if finalCounter == 0 {
		t.Error("Factory was never called")
	}
}

func TestIDPoolCleanShutdown(t *testing.T) {
	factory := func() string { return "shutdown-test" }
	pool := newIDPool(10, factory)

	before := runtime.NumGoroutine()

	pool.close()
	time.Sleep(10 * time.Millisecond)

	after := runtime.NumGoroutine()
	if after > before {
		t.Errorf("Goroutine leak detected: %d -> %d", before, after)
	}

	// Multiple closes are safe.
	pool.close()
}
