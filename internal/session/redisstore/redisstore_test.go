package redisstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/linnemanlabs/sightline/internal/session"
)

func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()

	addr := os.Getenv("SIGHTLINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SIGHTLINE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := Dial(ctx, Config{Addr: addr})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	s, err := New(client, time.Minute, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, time.Minute); err == nil {
		t.Error("New(nil client) err = nil, want error")
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	if got, want := key("01ABC"), "sightline:session:01ABC"; got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

func TestIntegration_PutGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := &session.Classification{
		Disease:    "青光眼",
		Department: "青光眼科",
		Confidence: 1,
		MatchedBy:  "exact",
		RawLabel:   "青光眼",
		Symptoms:   []string{"眼胀"},
	}
	stored, err := s.Put(ctx, in)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	id := stored.ID
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := in.Clone()
	want.ID = id
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(session.Classification{}, "CreatedAt")); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}
}

func TestIntegration_Expired(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := testStore(t, WithClock(func() time.Time { return clock() }))
	ctx := context.Background()

	stored, err := s.Put(ctx, &session.Classification{Disease: "白内障"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	id := stored.ID
	later := now.Add(time.Minute)
	clock = func() time.Time { return later }

	if _, err := s.Get(ctx, id); !errors.Is(err, session.ErrExpired) {
		t.Errorf("Get err = %v, want ErrExpired", err)
	}
}

func TestIntegration_Unknown(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get(context.Background(), "does-not-exist"); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
}
