package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"classattend/internal/geo"
)

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry()
	loc := geo.Point{Latitude: 12.0, Longitude: 77.0}

	sess, err := r.Create("Math", loc, 30*time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("empty session id")
	}
	if !sess.ExpiresAt.Equal(sess.CreatedAt.Add(30 * time.Minute)) {
		t.Fatalf("expiry %v not 30m after creation %v", sess.ExpiresAt, sess.CreatedAt)
	}

	got, err := r.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Subject != "Math" || got.AdminLocation != loc {
		t.Fatalf("got %+v", got)
	}
}

func TestCreateValidation(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create("", geo.Point{}, time.Minute); err == nil {
		t.Fatal("empty subject accepted")
	}
	if _, err := r.Create("Math", geo.Point{}, 0); err == nil {
		t.Fatal("zero ttl accepted")
	}
}

func TestGetUnknownID(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExpiryBoundary(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	sess, err := r.Create("Math", geo.Point{}, 5*time.Minute)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Exactly at the deadline the session is still valid.
	r.now = func() time.Time { return base.Add(5 * time.Minute) }
	if _, err := r.Get(sess.ID); err != nil {
		t.Fatalf("Get at deadline: %v", err)
	}

	// One second past, it expires.
	r.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	if _, err := r.Get(sess.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}

func TestExpiredSessionDoesNotResurrect(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	sess, _ := r.Create("Math", geo.Point{}, time.Minute)

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := r.Get(sess.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("first lookup err = %v, want ErrExpired", err)
	}

	// Even if the clock went backwards the session stays gone.
	r.now = func() time.Time { return base }
	if _, err := r.Get(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second lookup err = %v, want ErrNotFound", err)
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	sess, _ := r.Create("Math", geo.Point{}, time.Minute)
	r.Remove(sess.ID)
	if _, err := r.Get(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentCreateUniqueIDs(t *testing.T) {
	r := NewRegistry()
	const n = 50

	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := r.Create("Math", geo.Point{}, time.Minute)
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			ids <- sess.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
}
