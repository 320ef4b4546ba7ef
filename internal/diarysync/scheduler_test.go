package diarysync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/mealsync/internal/model"
)

type countingSyncer struct {
	mu      sync.Mutex
	pulls   int
	pushes  int
	pushErr error
	pullErr error
	pushed  chan struct{}
}

func newCountingSyncer() *countingSyncer {
	return &countingSyncer{pushed: make(chan struct{}, 64)}
}

func (s *countingSyncer) PullNow(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulls++
	return 0, s.pullErr
}

func (s *countingSyncer) Push(ctx context.Context) error {
	s.mu.Lock()
	s.pushes++
	err := s.pushErr
	s.mu.Unlock()
	select {
	case s.pushed <- struct{}{}:
	default:
	}
	return err
}

func (s *countingSyncer) counts() (pulls, pushes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulls, s.pushes
}

func waitPush(t *testing.T, s *countingSyncer) {
	t.Helper()
	select {
	case <-s.pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push pass")
	}
}

func TestSchedulerInitialAndPeriodicPush(t *testing.T) {
	syncer := newCountingSyncer()
	sched := NewScheduler(syncer, SchedulerConfig{Interval: 10 * time.Millisecond, PullOnStart: true}, nil, nil)

	sched.Start(context.Background())
	waitPush(t, syncer) // initial
	waitPush(t, syncer) // first tick
	sched.Stop()

	pulls, pushes := syncer.counts()
	if pulls != 1 {
		t.Errorf("pulls = %d, want 1", pulls)
	}
	if pushes < 2 {
		t.Errorf("pushes = %d, want at least 2", pushes)
	}
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	syncer := newCountingSyncer()
	sched := NewScheduler(syncer, SchedulerConfig{Interval: time.Hour}, nil, nil)

	if sched.Running() {
		t.Fatal("new scheduler should be stopped")
	}
	sched.Stop() // no-op while stopped

	sched.Start(context.Background())
	sched.Start(context.Background())
	waitPush(t, syncer)
	if !sched.Running() {
		t.Error("expected running after start")
	}

	sched.Stop()
	sched.Stop()
	if sched.Running() {
		t.Error("expected stopped after stop")
	}

	// With an hour-long interval only the single initial pass may run,
	// proving the second Start did not spawn another loop.
	if _, pushes := syncer.counts(); pushes != 1 {
		t.Errorf("pushes = %d, want 1", pushes)
	}

	sched.Start(context.Background())
	waitPush(t, syncer)
	sched.Stop()
	if _, pushes := syncer.counts(); pushes != 2 {
		t.Errorf("pushes after restart = %d, want 2", pushes)
	}
}

func TestSchedulerReportsPassErrors(t *testing.T) {
	syncer := newCountingSyncer()
	syncer.pushErr = errors.New("offline")

	var mu sync.Mutex
	var seen []error
	cb := func(kind model.SyncKind, err error) {
		mu.Lock()
		defer mu.Unlock()
		if kind == model.SyncPush {
			seen = append(seen, err)
		}
	}
	sched := NewScheduler(syncer, SchedulerConfig{Interval: time.Hour}, cb, nil)
	sched.Start(context.Background())
	waitPush(t, syncer)
	sched.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(seen) == 0 {
		t.Fatal("expected a callback for the failed pass")
	}
	if seen[0] == nil || seen[0].Error() != "offline" {
		t.Errorf("callback err = %v, want offline", seen[0])
	}
}

func TestForceNowReturnsError(t *testing.T) {
	syncer := newCountingSyncer()
	syncer.pushErr = errors.New("offline")
	sched := NewScheduler(syncer, SchedulerConfig{}, nil, nil)

	if err := sched.ForceNow(context.Background()); err == nil || err.Error() != "offline" {
		t.Errorf("err = %v, want offline", err)
	}
	if sched.Running() {
		t.Error("ForceNow must not start the loop")
	}
}

func TestSchedulerReportsStartupPullError(t *testing.T) {
	syncer := newCountingSyncer()
	syncer.pullErr = errors.New("no route to host")

	var mu sync.Mutex
	var pullErrs []error
	cb := func(kind model.SyncKind, err error) {
		mu.Lock()
		defer mu.Unlock()
		if kind == model.SyncPull {
			pullErrs = append(pullErrs, err)
		}
	}
	sched := NewScheduler(syncer, SchedulerConfig{Interval: time.Hour, PullOnStart: true}, cb, nil)
	sched.Start(context.Background())
	waitPush(t, syncer)
	sched.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(pullErrs) != 1 {
		t.Fatalf("pull callbacks = %d, want 1", len(pullErrs))
	}
	if pullErrs[0] == nil {
		t.Error("startup pull reported success despite failing")
	}
}
