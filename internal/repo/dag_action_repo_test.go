package repo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/lease"
)

var testAction = domain.NewLaunchAction("flowGroup", "flowName", 123000)

func candidate(owner string, event int64, d time.Duration) lease.LeaseCandidate {
	return lease.LeaseCandidate{Owner: owner, EventTimeMillis: event, Duration: d}
}

func TestDagActionRepo_PutConflictAndRenew(t *testing.T) {
	repo := NewDagActionRepo(newTestPool(t))
	ctx := context.Background()

	first, err := repo.Put(ctx, testAction, candidate("host-a", 641000, time.Minute))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !first.Acquired || first.Record.Owner != "host-a" {
		t.Fatalf("expected host-a to acquire, got %+v", first)
	}

	// Чужой Put получает запись победителя
	second, err := repo.Put(ctx, testAction, candidate("host-b", 700000, time.Minute))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if second.Acquired {
		t.Fatal("host-b must not acquire an unexpired lease")
	}
	if second.Record.Owner != "host-a" || second.Record.EventTimeMillis != 641000 {
		t.Errorf("conflict should carry winner's record, got %+v", second.Record)
	}

	// Продление своим владельцем
	renewed, err := repo.Put(ctx, testAction, candidate("host-a", 999999, time.Minute))
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !renewed.Acquired {
		t.Fatal("same owner should renew")
	}
	if renewed.Record.EventTimeMillis != 641000 {
		t.Errorf("renewal must keep event time, got %d", renewed.Record.EventTimeMillis)
	}
	if !renewed.Record.AcquiredAt.Equal(first.Record.AcquiredAt) {
		t.Error("renewal must keep acquisition time")
	}
	if renewed.Record.ExpiresAt.Before(first.Record.ExpiresAt) {
		t.Error("renewal must advance expiry")
	}
}

func TestDagActionRepo_ExpiredTakeover(t *testing.T) {
	repo := NewDagActionRepo(newTestPool(t))
	ctx := context.Background()

	if _, err := repo.Put(ctx, testAction, candidate("host-a", 641000, 50*time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)

	out, err := repo.Put(ctx, testAction, candidate("host-b", 700000, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if !out.Acquired || out.Record.Owner != "host-b" || out.Record.EventTimeMillis != 700000 {
		t.Errorf("expected takeover by host-b, got %+v", out)
	}
}

func TestDagActionRepo_ConcurrentPutSingleWinner(t *testing.T) {
	repo := NewDagActionRepo(newTestPool(t))
	ctx := context.Background()

	const contenders = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			out, err := repo.Put(ctx, testAction, candidate(owner, 641000, time.Minute))
			if err != nil {
				t.Errorf("Put %s: %v", owner, err)
				return
			}
			if out.Acquired {
				mu.Lock()
				winners = append(winners, owner)
				mu.Unlock()
			}
		}(fmt.Sprintf("host-%d", i))
	}
	wg.Wait()

	if len(winners) != 1 {
		t.Errorf("expected exactly one winner, got %v", winners)
	}
}

func TestDagActionRepo_CompleteAndPurge(t *testing.T) {
	repo := NewDagActionRepo(newTestPool(t))
	ctx := context.Background()

	other := domain.NewLaunchAction("flowGroup", "flowName", 124000)
	_, _ = repo.Put(ctx, testAction, candidate("host-a", 641000, time.Minute))
	_, _ = repo.Put(ctx, other, candidate("host-a", 642000, time.Minute))

	if err := repo.Complete(ctx, testAction, "host-b"); !errors.Is(err, lease.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if err := repo.Complete(ctx, testAction, "host-a"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// Завершённая запись не перезаписывается даже владельцем
	out, err := repo.Put(ctx, testAction, candidate("host-a", 641000, time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if out.Acquired || !out.Record.IsCompleted() {
		t.Errorf("completed record must not be re-acquired, got %+v", out)
	}

	pending, err := repo.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].Action != other {
		t.Errorf("expected only %v pending, got %+v", other, pending)
	}

	n, err := repo.PurgeCompleted(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeCompleted: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	if _, found, _ := repo.Get(ctx, testAction); found {
		t.Error("purged record still present")
	}

	if err := repo.Delete(ctx, other); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete(ctx, other); err != nil {
		t.Errorf("deleting absent record should not fail: %v", err)
	}
}

func TestDagActionRepo_WithArbiter(t *testing.T) {
	repo := NewDagActionRepo(newTestPool(t))
	ctx := context.Background()

	a := lease.NewArbiter(lease.ArbiterConfig{Store: repo, Owner: "host-a", LeaseDuration: time.Minute, MinimumLinger: 2 * time.Second})
	b := lease.NewArbiter(lease.ArbiterConfig{Store: repo, Owner: "host-b", LeaseDuration: time.Minute, MinimumLinger: 2 * time.Second})

	status, err := a.TryAcquireLease(ctx, testAction, 641000, false)
	if err != nil {
		t.Fatal(err)
	}
	obtained, ok := status.(domain.LeaseObtainedStatus)
	if !ok {
		t.Fatalf("expected obtained, got %T", status)
	}

	status, _ = b.TryAcquireLease(ctx, testAction, 123000, false)
	leased, ok := status.(domain.LeasedToAnotherStatus)
	if !ok || leased.EventTimeMillis != 641000 || leased.MinimumLingerDurationMillis != 2000 {
		t.Fatalf("expected leased-to-another with 641000/2000, got %+v", status)
	}

	if err := a.RecordLeaseSuccess(ctx, obtained); err != nil {
		t.Fatal(err)
	}
	status, _ = b.TryAcquireLease(ctx, testAction, 641000, true)
	if _, ok := status.(domain.NoLongerLeasingStatus); !ok {
		t.Errorf("expected no-longer-leasing after completion, got %T", status)
	}
}
