package httpmiddleware

import (
	"testing"
	"time"
)

func TestTokenBucketExhaustion(t *testing.T) {
	l := NewSimpleTokenBucket(3, 60)
	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}
	if l.allow("10.0.0.1") {
		t.Fatal("expected limit after capacity spent")
	}
	if !l.allow("10.0.0.2") {
		t.Fatal("distinct client should have its own bucket")
	}
}

func TestTokenBucketEvictsStale(t *testing.T) {
	l := NewSimpleTokenBucket(5, 60)
	l.allow("10.0.0.1")
	l.mu.Lock()
	l.state["10.0.0.1"].last = time.Now().Add(-staleAfter - time.Minute)
	l.mu.Unlock()

	// A new client triggers eviction of the stale entry.
	l.allow("10.0.0.2")

	l.mu.Lock()
	_, ok := l.state["10.0.0.1"]
	l.mu.Unlock()
	if ok {
		t.Fatal("stale bucket should have been evicted")
	}
}
