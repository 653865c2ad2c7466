package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBounded_NeverExceedsCapacity(t *testing.T) {
	q := NewBounded[int](3)
	for i := 0; i < 10; i++ {
		q.Push(i)
		if q.Len() > 3 {
			t.Fatalf("len=%d after push %d want <= 3", q.Len(), i)
		}
	}
	if q.Dropped() != 7 {
		t.Fatalf("dropped=%d want 7", q.Dropped())
	}

	got := q.Drain()
	want := []int{7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("drain=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("drain=%v want %v", got, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("len=%d after drain want 0", q.Len())
	}
}

func TestBounded_PushReportsEviction(t *testing.T) {
	q := NewBounded[string](1)
	if q.Push("a") {
		t.Fatalf("first push reported eviction")
	}
	if !q.Push("b") {
		t.Fatalf("second push did not report eviction")
	}
	v, ok := q.TryPop()
	if !ok || v != "b" {
		t.Fatalf("pop=%q,%v want b,true", v, ok)
	}
}

func TestBounded_FIFOAcrossWrap(t *testing.T) {
	q := NewBounded[int](4)
	for round := 0; round < 5; round++ {
		q.Push(round * 10)
		q.Push(round*10 + 1)
		v, _ := q.TryPop()
		if round == 0 && v != 0 {
			t.Fatalf("pop=%d want 0", v)
		}
	}
	prev := -1
	for _, v := range q.Drain() {
		if v <= prev {
			t.Fatalf("out of order: %d after %d", v, prev)
		}
		prev = v
	}
}

func TestBounded_PopTimesOut(t *testing.T) {
	q := NewBounded[int](2)
	start := time.Now()
	_, ok := q.Pop(context.Background(), 20*time.Millisecond)
	if ok {
		t.Fatalf("pop on empty queue returned ok")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("pop returned before timeout")
	}
}

func TestBounded_PopWakesOnPush(t *testing.T) {
	q := NewBounded[int](2)
	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Push(42)
	}()
	v, ok := q.Pop(context.Background(), time.Second)
	if !ok || v != 42 {
		t.Fatalf("pop=%d,%v want 42,true", v, ok)
	}
}

func TestBounded_PopHonoursContext(t *testing.T) {
	q := NewBounded[int](2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Pop(ctx, time.Second); ok {
		t.Fatalf("pop after cancel returned ok")
	}
}

func TestBounded_ConcurrentProducers(t *testing.T) {
	q := NewBounded[int](16)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				q.Push(i)
			}
		}()
	}
	wg.Wait()
	if q.Len() != 16 {
		t.Fatalf("len=%d want 16", q.Len())
	}
	if q.Dropped() != 4000-16 {
		t.Fatalf("dropped=%d want %d", q.Dropped(), 4000-16)
	}
}

func TestSlot_LastWriteWins(t *testing.T) {
	var s Slot[int]
	if _, ok := s.Take(); ok {
		t.Fatalf("empty slot returned a value")
	}
	s.Store(1)
	s.Store(2)
	if v, ok := s.Peek(); !ok || v != 2 {
		t.Fatalf("peek=%d,%v want 2,true", v, ok)
	}
	if v, ok := s.Take(); !ok || v != 2 {
		t.Fatalf("take=%d,%v want 2,true", v, ok)
	}
	if _, ok := s.Take(); ok {
		t.Fatalf("slot not emptied by take")
	}
}
