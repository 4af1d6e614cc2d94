package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Arbiter/internal/domain"
)

// fakeClock — управляемые часы для тестов.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestArbiter(store ActionStore, owner string, clock *fakeClock) *Arbiter {
	return NewArbiter(ArbiterConfig{
		Store:         store,
		Owner:         owner,
		LeaseDuration: 10 * time.Second,
		MinimumLinger: 2 * time.Second,
		Now:           clock.Now,
	})
}

var testAction = domain.NewLaunchAction("flowGroup", "flowName", 123000)

func TestArbiter_NoRecord_Obtained(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	arb := newTestArbiter(store, "host-a", clock)

	status, err := arb.TryAcquireLease(context.Background(), testAction, 641000, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	obtained, ok := status.(domain.LeaseObtainedStatus)
	if !ok {
		t.Fatalf("expected LeaseObtainedStatus, got %T", status)
	}
	if obtained.EventTimeMillis != 641000 {
		t.Errorf("expected event time 641000, got %d", obtained.EventTimeMillis)
	}
	if !obtained.LeaseExpiry.Equal(clock.Now().Add(10 * time.Second)) {
		t.Errorf("unexpected lease expiry %v", obtained.LeaseExpiry)
	}
	if obtained.Owner != "host-a" {
		t.Errorf("expected owner host-a, got %s", obtained.Owner)
	}
}

func TestArbiter_HeldByAnother_LeasedToAnother(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	a := newTestArbiter(store, "host-a", clock)
	b := newTestArbiter(store, "host-b", clock)

	if _, err := a.TryAcquireLease(context.Background(), testAction, 641000, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// B приходит со своим event time, но должен получить event time победителя
	status, err := b.TryAcquireLease(context.Background(), testAction, 999000, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leased, ok := status.(domain.LeasedToAnotherStatus)
	if !ok {
		t.Fatalf("expected LeasedToAnotherStatus, got %T", status)
	}
	if leased.EventTimeMillis != 641000 {
		t.Errorf("loser must adopt winner's event time, got %d", leased.EventTimeMillis)
	}
	if leased.MinimumLingerDurationMillis != 2000 {
		t.Errorf("expected linger 2000, got %d", leased.MinimumLingerDurationMillis)
	}
	if leased.ConsensusDagAction != testAction {
		t.Errorf("unexpected consensus action %v", leased.ConsensusDagAction)
	}
}

func TestArbiter_ExpiredLease_TreatedAsAbsent(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	a := newTestArbiter(store, "host-a", clock)
	b := newTestArbiter(store, "host-b", clock)

	if _, err := a.TryAcquireLease(context.Background(), testAction, 641000, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(10 * time.Second)

	status, err := b.TryAcquireLease(context.Background(), testAction, 700000, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obtained, ok := status.(domain.LeaseObtainedStatus)
	if !ok {
		t.Fatalf("expected LeaseObtainedStatus after expiry, got %T", status)
	}
	if obtained.Owner != "host-b" {
		t.Errorf("expected host-b to own the lease, got %s", obtained.Owner)
	}

	rec, _, _ := store.Get(context.Background(), testAction)
	if rec.Owner != "host-b" {
		t.Errorf("store should record host-b as owner, got %s", rec.Owner)
	}
}

func TestArbiter_SameOwner_Renews(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	a := newTestArbiter(store, "host-a", clock)

	first, err := a.TryAcquireLease(context.Background(), testAction, 641000, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clock.Advance(5 * time.Second)

	second, err := a.TryAcquireLease(context.Background(), testAction, 650000, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s1 := first.(domain.LeaseObtainedStatus)
	s2, ok := second.(domain.LeaseObtainedStatus)
	if !ok {
		t.Fatalf("expected renewal to obtain, got %T", second)
	}
	if !s2.LeaseExpiry.After(s1.LeaseExpiry) {
		t.Error("renewal must advance lease expiry")
	}
	if s2.EventTimeMillis != 641000 {
		t.Errorf("renewal must keep original event time, got %d", s2.EventTimeMillis)
	}
}

func TestArbiter_Completed_NoLongerLeasing(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	a := newTestArbiter(store, "host-a", clock)
	b := newTestArbiter(store, "host-b", clock)

	status, _ := a.TryAcquireLease(context.Background(), testAction, 641000, false)
	if err := a.RecordLeaseSuccess(context.Background(), status.(domain.LeaseObtainedStatus)); err != nil {
		t.Fatalf("RecordLeaseSuccess: %v", err)
	}

	// Даже после истечения завершённое действие не арбитрируется повторно
	clock.Advance(time.Hour)

	for _, arb := range []*Arbiter{a, b} {
		status, err := arb.TryAcquireLease(context.Background(), testAction, 641000, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := status.(domain.NoLongerLeasingStatus); !ok {
			t.Errorf("%s: expected NoLongerLeasingStatus, got %T", arb.Owner(), status)
		}
	}
}

func TestArbiter_CompleteAction_ByAnyInstance(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	a := newTestArbiter(store, "host-a", clock)
	b := newTestArbiter(store, "host-b", clock)
	ctx := context.Background()

	// host-a взял lease и упал до RecordLeaseSuccess
	if _, err := a.TryAcquireLease(ctx, testAction, 641000, false); err != nil {
		t.Fatal(err)
	}

	// Завершение DAG обработал host-b
	if err := b.CompleteAction(ctx, testAction); err != nil {
		t.Fatalf("CompleteAction: %v", err)
	}
	if err := b.CompleteAction(ctx, testAction); err != nil {
		t.Errorf("repeated CompleteAction must be a no-op: %v", err)
	}

	clock.Advance(time.Minute)

	status, err := b.TryAcquireLease(ctx, testAction, 641000, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := status.(domain.NoLongerLeasingStatus); !ok {
		t.Errorf("expected NoLongerLeasingStatus after expiry, got %T", status)
	}
	if pending, _ := b.PendingActions(ctx); len(pending) != 0 {
		t.Errorf("completed action must not be pending, got %v", pending)
	}
}

// stealingStore меняет владельца записи между Get и первым Complete.
type stealingStore struct {
	*MemoryStore
	clock  *fakeClock
	stolen bool
}

func (s *stealingStore) Complete(ctx context.Context, action domain.DagAction, owner string) error {
	if !s.stolen {
		s.stolen = true
		s.clock.Advance(time.Minute)
		_, _ = s.MemoryStore.Put(ctx, action, LeaseCandidate{Owner: "host-c", EventTimeMillis: 641000, Duration: 10 * time.Second})
	}
	return s.MemoryStore.Complete(ctx, action, owner)
}

func TestArbiter_CompleteAction_RetriesOnOwnerChange(t *testing.T) {
	clock := newFakeClock()
	store := &stealingStore{MemoryStore: NewMemoryStore(clock.Now), clock: clock}
	a := newTestArbiter(store, "host-a", clock)
	ctx := context.Background()

	if _, err := a.TryAcquireLease(ctx, testAction, 641000, false); err != nil {
		t.Fatal(err)
	}
	if err := a.CompleteAction(ctx, testAction); err != nil {
		t.Fatalf("CompleteAction: %v", err)
	}

	rec, found, err := store.Get(ctx, testAction)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if !rec.IsCompleted() || rec.Owner != "host-c" {
		t.Errorf("expected record completed on behalf of host-c, got %+v", rec)
	}
}

func TestArbiter_CompleteAction_NoRecord(t *testing.T) {
	clock := newFakeClock()
	arb := newTestArbiter(NewMemoryStore(clock.Now), "host-a", clock)

	if err := arb.CompleteAction(context.Background(), testAction); err != nil {
		t.Errorf("missing record must not be an error: %v", err)
	}
}

func TestArbiter_ReminderWithoutRecord_NoLongerLeasing(t *testing.T) {
	clock := newFakeClock()
	arb := newTestArbiter(NewMemoryStore(clock.Now), "host-a", clock)

	status, err := arb.TryAcquireLease(context.Background(), testAction, 641000, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := status.(domain.NoLongerLeasingStatus); !ok {
		t.Errorf("expected NoLongerLeasingStatus, got %T", status)
	}
}

func TestArbiter_StoreUnavailable_IsError(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	store.SetFailure(errors.New("connection refused"))
	arb := newTestArbiter(store, "host-a", clock)

	status, err := arb.TryAcquireLease(context.Background(), testAction, 641000, false)
	if err == nil {
		t.Fatalf("expected error, got status %T", status)
	}
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if status != nil {
		t.Error("store failure must not be reported as a lease status")
	}
}

func TestArbiter_InvalidAction(t *testing.T) {
	clock := newFakeClock()
	arb := newTestArbiter(NewMemoryStore(clock.Now), "host-a", clock)

	_, err := arb.TryAcquireLease(context.Background(), domain.DagAction{}, 1, false)
	if !errors.Is(err, domain.ErrInvalidDagAction) {
		t.Errorf("expected ErrInvalidDagAction, got %v", err)
	}
}

func TestArbiter_ConcurrentAttempts_ExactlyOneWins(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)

	const contenders = 16
	results := make([]domain.LeaseAttemptStatus, contenders)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		arb := newTestArbiter(store, "host-"+string(rune('a'+i)), clock)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			status, err := arb.TryAcquireLease(context.Background(), testAction, int64(641000+i), false)
			if err != nil {
				t.Errorf("contender %d: %v", i, err)
				return
			}
			results[i] = status
		}(i)
	}
	close(start)
	wg.Wait()

	var winners int
	var winnerEvent int64
	for _, s := range results {
		if obtained, ok := s.(domain.LeaseObtainedStatus); ok {
			winners++
			winnerEvent = obtained.EventTimeMillis
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	for i, s := range results {
		if leased, ok := s.(domain.LeasedToAnotherStatus); ok && leased.EventTimeMillis != winnerEvent {
			t.Errorf("contender %d: loser event time %d != winner's %d", i, leased.EventTimeMillis, winnerEvent)
		}
	}
}

func TestArbiter_Release(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	a := newTestArbiter(store, "host-a", clock)
	b := newTestArbiter(store, "host-b", clock)

	_, _ = a.TryAcquireLease(context.Background(), testAction, 641000, false)
	if err := a.Release(context.Background(), testAction); err != nil {
		t.Fatalf("Release: %v", err)
	}

	status, _ := b.TryAcquireLease(context.Background(), testAction, 641000, false)
	if _, ok := status.(domain.LeaseObtainedStatus); !ok {
		t.Errorf("expected lease to be free after release, got %T", status)
	}
}

func TestArbiter_PendingAndPurge(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	arb := newTestArbiter(store, "host-a", clock)

	done := domain.NewLaunchAction("g", "done", 1000)
	pending := domain.NewLaunchAction("g", "pending", 2000)

	status, _ := arb.TryAcquireLease(context.Background(), done, 1000, false)
	_ = arb.RecordLeaseSuccess(context.Background(), status.(domain.LeaseObtainedStatus))
	_, _ = arb.TryAcquireLease(context.Background(), pending, 2000, false)

	records, err := arb.PendingActions(context.Background())
	if err != nil {
		t.Fatalf("PendingActions: %v", err)
	}
	if len(records) != 1 || records[0].Action != pending {
		t.Fatalf("expected only the pending action, got %+v", records)
	}

	clock.Advance(2 * time.Hour)
	n, err := arb.PurgeCompleted(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("PurgeCompleted: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged record, got %d", n)
	}
	if _, found, _ := store.Get(context.Background(), done); found {
		t.Error("completed record should be purged")
	}
}
