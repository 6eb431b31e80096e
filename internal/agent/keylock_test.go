package agent

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyLock_SerializesSameKey(t *testing.T) {
	kl := newKeyLock()
	var inside, maxInside atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("U1")
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	if got := maxInside.Load(); got != 1 {
		t.Fatalf("expected at most one holder, saw %d", got)
	}
	if n := kl.len(); n != 0 {
		t.Fatalf("released keys should be forgotten, %d left", n)
	}
}

func TestKeyLock_DifferentKeysDoNotBlock(t *testing.T) {
	kl := newKeyLock()
	unlockA := kl.Lock("U1")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := kl.Lock("U2")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}
