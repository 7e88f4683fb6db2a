package bridge

import (
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 1000; i++ {
		if !q.push(i) {
			t.Fatalf("push %d rejected", i)
		}
	}
	if q.len() != 1000 {
		t.Fatalf("len = %d, want 1000", q.len())
	}
	for i := 0; i < 1000; i++ {
		v, ok := q.pop()
		if !ok || v != i {
			t.Fatalf("pop = %d,%t want %d,true", v, ok, i)
		}
	}
}

func TestQueue_CloseDrainsThenStops(t *testing.T) {
	q := newQueue[string]()
	q.push("a")
	q.push("b")
	q.close()

	if q.push("c") {
		t.Error("push after close should be rejected")
	}
	for _, want := range []string{"a", "b"} {
		v, ok := q.pop()
		if !ok || v != want {
			t.Fatalf("pop = %q,%t want %q,true", v, ok, want)
		}
	}
	if _, ok := q.pop(); ok {
		t.Error("pop on closed empty queue should report ok=false")
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := newQueue[int]()
	got := make(chan int, 1)
	go func() {
		v, _ := q.pop()
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(20 * time.Millisecond):
	}

	q.push(7)
	select {
	case v := <-got:
		if v != 7 {
			t.Errorf("pop = %d, want 7", v)
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestQueue_CloseWakesWaiter(t *testing.T) {
	q := newQueue[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop()
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	q.close()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after close")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not wake waiter")
	}
}
