package httpmiddleware

import (
	"testing"
	"time"
)

func TestAllowExhaustsCapacity(t *testing.T) {
	l := NewTokenBucket(3, 60)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !l.allow("ip1", now) {
			t.Fatalf("request %d denied within capacity", i+1)
		}
	}
	if l.allow("ip1", now) {
		t.Fatal("request over capacity allowed")
	}
}

func TestAllowRefills(t *testing.T) {
	l := NewTokenBucket(2, 60) // one token per second
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	l.allow("ip1", now)
	l.allow("ip1", now)
	if l.allow("ip1", now) {
		t.Fatal("bucket not empty")
	}

	// Two seconds refill two tokens, capped at capacity.
	later := now.Add(2 * time.Second)
	if !l.allow("ip1", later) {
		t.Fatal("refilled token denied")
	}
	if !l.allow("ip1", later) {
		t.Fatal("second refilled token denied")
	}
	if l.allow("ip1", later) {
		t.Fatal("refill exceeded capacity")
	}
}

func TestAllowKeysAreIndependent(t *testing.T) {
	l := NewTokenBucket(1, 60)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	if !l.allow("ip1", now) {
		t.Fatal("first key denied")
	}
	if l.allow("ip1", now) {
		t.Fatal("first key over capacity")
	}
	if !l.allow("ip2", now) {
		t.Fatal("second key throttled by first")
	}
}
