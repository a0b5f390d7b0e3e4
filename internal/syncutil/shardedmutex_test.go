package syncutil

import (
	"sync"
	"testing"
)

func TestShardedMutexSerializesSameKey(t *testing.T) {
	var sm ShardedMutex
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := sm.Lock("same-key")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("counter = %d, want 100", counter)
	}
}

func TestShardedMutexUnlockReleases(t *testing.T) {
	var sm ShardedMutex

	unlock := sm.Lock("key-a")
	unlock()

	// Re-acquiring the same key must not block after release.
	done := make(chan struct{})
	go func() {
		u := sm.Lock("key-a")
		u()
		close(done)
	}()
	<-done
}
