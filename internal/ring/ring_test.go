package ring

import (
	"sync"
	"testing"
)

func TestPushPopFIFO(t *testing.T) {
	r := New[int](4)

	for i := 0; i < 4; i++ {
		if !r.TryPush(i) {
			t.Fatalf("push %d should have succeeded", i)
		}
	}

	for i := 0; i < 4; i++ {
		v, ok := r.TryPop()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
}

func TestPushFailsWhenFull(t *testing.T) {
	// New(2) allocates a 4-slot buffer with one slot reserved: Cap() == 3.
	r := New[int](2)
	if r.Cap() != 3 {
		t.Fatalf("Cap() = %d, want 3", r.Cap())
	}
	if !r.TryPush(1) {
		t.Fatal("first push should succeed")
	}
	if !r.TryPush(2) {
		t.Fatal("second push should succeed")
	}
	if !r.TryPush(3) {
		t.Fatal("third push should succeed")
	}
	if r.TryPush(4) {
		t.Fatal("fourth push should fail: ring should be full")
	}
}

func TestPopFailsWhenEmpty(t *testing.T) {
	r := New[int](4)
	if _, ok := r.TryPop(); ok {
		t.Fatal("pop on empty ring should fail")
	}
}

func TestConcurrentSingleProducerSingleConsumer(t *testing.T) {
	r := New[int](64)
	const n = 200000

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for !r.TryPush(i) {
			}
		}
	}()

	received := make([]int, 0, n)
	go func() {
		defer wg.Done()
		for len(received) < n {
			if v, ok := r.TryPop(); ok {
				received = append(received, v)
			}
		}
	}()

	wg.Wait()

	for i, v := range received {
		if v != i {
			t.Fatalf("FIFO order violated at index %d: got %d", i, v)
		}
	}
}

func TestCapRoundsUpToPowerOfTwo(t *testing.T) {
	r := New[int](10)
	if r.Cap() < 10 {
		t.Fatalf("Cap() = %d, want >= 10", r.Cap())
	}
}
