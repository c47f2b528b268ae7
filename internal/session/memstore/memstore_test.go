package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/sightline/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func sample() *session.Classification {
	return &session.Classification{
		Disease:      "黄斑变性",
		Department:   "眼底病科",
		DepartmentID: 3,
		Confidence:   0.97,
		MatchedBy:    "synonym",
		RawLabel:     "AMD",
		Symptoms:     []string{"视物变形", "中心暗点"},
	}
}

func mustPut(t *testing.T, s *Store, c *session.Classification) string {
	t.Helper()
	stored, err := s.Put(context.Background(), c)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return stored.ID
}

func TestPutGet_RoundTrip(t *testing.T) {
	t.Parallel()

	clk := newClock()
	s := New(time.Minute, WithClock(clk.Now))
	ctx := context.Background()

	in := sample()
	stored, err := s.Put(ctx, in)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	id := stored.ID
	if id == "" {
		t.Fatal("Put returned empty id")
	}
	if in.ID != "" {
		t.Errorf("Put mutated caller's ID to %q", in.ID)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := sample()
	want.ID = id
	want.CreatedAt = clk.Now()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New(time.Minute)
	ctx := context.Background()
	id := mustPut(t, s, sample())

	first, _ := s.Get(ctx, id)
	first.Symptoms[0] = "tampered"
	first.Disease = "tampered"

	second, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Disease != "黄斑变性" || second.Symptoms[0] != "视物变形" {
		t.Errorf("stored entry was mutated through a returned copy: %+v", second)
	}
}

func TestGet_Unknown(t *testing.T) {
	t.Parallel()

	s := New(time.Minute)
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestGet_ExpiryBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{"fresh", 0, nil},
		{"one ns before ttl", time.Minute - time.Nanosecond, nil},
		{"exactly ttl", time.Minute, session.ErrExpired},
		{"well past ttl", 5 * time.Minute, session.ErrExpired},
		{"past tombstone retention", time.Minute + DefaultTombstoneRetention + time.Second, session.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			clk := newClock()
			s := New(time.Minute, WithClock(clk.Now))
			ctx := context.Background()
			id := mustPut(t, s, sample())
			clk.Advance(tt.advance)

			_, err := s.Get(ctx, id)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Get err = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Get err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// A lookup must give the same answer whether or not a sweep ran first.
func TestGet_AgreesWithSweep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		advance time.Duration
		wantErr error
	}{
		{"live", 30 * time.Second, nil},
		{"inside retention", time.Minute + 5*time.Minute, session.ErrExpired},
		{"retention edge", time.Minute + 10*time.Minute, session.ErrExpired},
		{"past retention", time.Minute + 12*time.Minute, session.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			lazyClk, sweptClk := newClock(), newClock()
			lazy := New(time.Minute, WithClock(lazyClk.Now), WithTombstoneRetention(10*time.Minute))
			swept := New(time.Minute, WithClock(sweptClk.Now), WithTombstoneRetention(10*time.Minute))
			lazyID := mustPut(t, lazy, sample())
			sweptID := mustPut(t, swept, sample())

			lazyClk.Advance(tt.advance)
			sweptClk.Advance(tt.advance)
			if _, err := swept.Sweep(ctx); err != nil {
				t.Fatalf("Sweep: %v", err)
			}

			_, lazyErr := lazy.Get(ctx, lazyID)
			_, sweptErr := swept.Get(ctx, sweptID)
			for name, err := range map[string]error{"unswept": lazyErr, "swept": sweptErr} {
				if tt.wantErr == nil && err != nil {
					t.Errorf("%s Get err = %v, want nil", name, err)
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("%s Get err = %v, want %v", name, err, tt.wantErr)
				}
			}
			if tt.wantErr == session.ErrNotFound {
				if entries, tombs := lazy.Len(); entries != 0 || tombs != 0 {
					t.Errorf("unswept Len() = (%d, %d), want (0, 0)", entries, tombs)
				}
			}
		})
	}
}

func TestPut_ReturnsStampedCopy(t *testing.T) {
	t.Parallel()

	clk := newClock()
	s := New(time.Minute, WithClock(clk.Now))
	ctx := context.Background()

	stored, err := s.Put(ctx, sample())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !stored.CreatedAt.Equal(clk.Now()) {
		t.Errorf("CreatedAt = %v, want %v", stored.CreatedAt, clk.Now())
	}
	stored.Disease = "tampered"

	got, err := s.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Disease != "黄斑变性" {
		t.Errorf("stored entry was mutated through Put's return value: %q", got.Disease)
	}
}

func TestGet_ExpiredStaysExpired(t *testing.T) {
	t.Parallel()

	clk := newClock()
	s := New(time.Minute, WithClock(clk.Now))
	ctx := context.Background()
	id := mustPut(t, s, sample())

	clk.Advance(2 * time.Minute)
	for i := range 3 {
		if _, err := s.Get(ctx, id); !errors.Is(err, session.ErrExpired) {
			t.Fatalf("Get #%d err = %v, want ErrExpired", i, err)
		}
	}
	entries, tombs := s.Len()
	if entries != 0 || tombs != 1 {
		t.Errorf("Len() = (%d, %d), want (0, 1)", entries, tombs)
	}
}

func TestSweep(t *testing.T) {
	t.Parallel()

	clk := newClock()
	s := New(time.Minute, WithClock(clk.Now), WithTombstoneRetention(5*time.Minute))
	ctx := context.Background()

	oldID := mustPut(t, s, sample())
	clk.Advance(30 * time.Second)
	freshID := mustPut(t, s, sample())
	clk.Advance(31 * time.Second)

	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() evicted = %d, want 1", n)
	}
	if _, err := s.Get(ctx, oldID); !errors.Is(err, session.ErrExpired) {
		t.Errorf("Get(swept) err = %v, want ErrExpired", err)
	}
	if _, err := s.Get(ctx, freshID); err != nil {
		t.Errorf("Get(fresh) err = %v, want nil", err)
	}

	// the fresh entry expires and both tombstones age out
	clk.Advance(10 * time.Minute)
	n, _ = s.Sweep(ctx)
	if n != 1 {
		t.Errorf("second Sweep() evicted = %d, want 1", n)
	}
	entries, tombs := s.Len()
	if entries != 0 || tombs != 0 {
		t.Errorf("Len() = (%d, %d), want (0, 0)", entries, tombs)
	}
	if _, err := s.Get(ctx, oldID); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get(purged) err = %v, want ErrNotFound", err)
	}
}

func TestPut_RegeneratesCollidingID(t *testing.T) {
	t.Parallel()

	ids := []string{"A", "A", "A", "B"}
	var i int
	gen := func() string {
		id := ids[i]
		i++
		return id
	}
	s := New(time.Minute, WithIDGenerator(gen))

	if first := mustPut(t, s, sample()); first != "A" {
		t.Fatalf("Put #1 id = %q, want A", first)
	}
	if second := mustPut(t, s, sample()); second != "B" {
		t.Fatalf("Put #2 id = %q, want B", second)
	}
}

func TestPut_GivesUpAfterRepeatedCollisions(t *testing.T) {
	t.Parallel()

	s := New(time.Minute, WithIDGenerator(func() string { return "same" }))
	ctx := context.Background()
	if _, err := s.Put(ctx, sample()); err != nil {
		t.Fatalf("Put #1: %v", err)
	}
	if _, err := s.Put(ctx, sample()); err == nil {
		t.Fatal("Put #2 err = nil, want collision error")
	}
}

func TestPut_Nil(t *testing.T) {
	t.Parallel()

	if _, err := New(time.Minute).Put(context.Background(), nil); err == nil {
		t.Fatal("Put(nil) err = nil, want error")
	}
}

func TestNew_PanicsOnNonPositiveTTL(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("New(0) did not panic")
		}
	}()
	New(0)
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := New(time.Minute)
	ctx := context.Background()

	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	idsCh := make(chan string, workers*perWorker)
	errCh := make(chan error, workers*perWorker)

	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range perWorker {
				c := sample()
				c.RawLabel = fmt.Sprintf("w%d-%d", w, j)
				stored, err := s.Put(ctx, c)
				if err != nil {
					errCh <- err
					continue
				}
				id := stored.ID
				got, err := s.Get(ctx, id)
				if err != nil {
					errCh <- err
					continue
				}
				if got.RawLabel != c.RawLabel {
					errCh <- fmt.Errorf("id %s: RawLabel = %q, want %q", id, got.RawLabel, c.RawLabel)
				}
				idsCh <- id
				if j%10 == 0 {
					_, _ = s.Sweep(ctx)
				}
			}
		}()
	}
	wg.Wait()
	close(idsCh)
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}

	var ids []string
	for id := range idsCh {
		ids = append(ids, id)
	}
	if len(ids) != workers*perWorker {
		t.Fatalf("stored %d ids, want %d", len(ids), workers*perWorker)
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	if len(seen) != len(ids) {
		t.Errorf("got %d unique ids out of %d", len(seen), len(ids))
	}
}
