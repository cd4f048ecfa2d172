package channel

import "testing"

func TestQueueSendReceive(t *testing.T) {
	q := NewQueue[int](4)
	for i := 1; i <= 3; i++ {
		if evicted := q.Send(i); evicted {
			t.Fatalf("unexpected eviction on send %d", i)
		}
	}
	q.Close()

	var got []int
	for v := range q.C() {
		got = append(got, v)
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected messages: %v", got)
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	q := NewQueue[int](2)
	q.Send(1)
	q.Send(2)
	if evicted := q.Send(3); !evicted {
		t.Fatalf("expected eviction on overflow")
	}
	q.Close()

	var got []int
	for v := range q.C() {
		got = append(got, v)
	}
	// Oldest entry gone, order preserved for the rest.
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("unexpected messages after overflow: %v", got)
	}

	stats := q.Stats()
	if stats.Dropped != 1 {
		t.Errorf("expected 1 drop, got %d", stats.Dropped)
	}
	if stats.Sent != 3 {
		t.Errorf("expected 3 sends, got %d", stats.Sent)
	}
}

func TestQueueSendAfterClose(t *testing.T) {
	q := NewQueue[int](1)
	q.Close()
	q.Send(1) // must not panic
	if _, ok := <-q.C(); ok {
		t.Fatalf("expected closed channel")
	}
}
