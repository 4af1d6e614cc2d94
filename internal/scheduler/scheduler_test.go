package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Arbiter/internal/domain"
)

type fakeFlows struct {
	flows []domain.Flow
	err   error
}

func (f *fakeFlows) ListEnabled(context.Context) ([]domain.Flow, error) {
	return f.flows, f.err
}

func testFlow(group, name, cronExpr string) domain.Flow {
	return domain.Flow{
		Group:     group,
		Name:      name,
		CronExpr:  cronExpr,
		Timezone:  "UTC",
		Enabled:   true,
		UpdatedAt: base,
	}
}

func newTestSyncer(flows *fakeFlows) (*Syncer, *TriggerScheduler) {
	triggers, _ := newTestScheduler(func(context.Context, FireEvent) error { return nil })
	return NewSyncer(SyncerConfig{
		Flows:    flows,
		Triggers: triggers,
		Payload: func(flow domain.Flow) map[string]string {
			return map[string]string{"flow": flow.Key()}
		},
	}), triggers
}

func TestSyncer_RegistersScheduledFlows(t *testing.T) {
	flows := &fakeFlows{flows: []domain.Flow{
		testFlow("etl", "daily", "0 0 9 * * ?"),
		testFlow("etl", "manual", ""),
	}}
	syncer, triggers := newTestSyncer(flows)

	res, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Scheduled != 1 {
		t.Errorf("expected 1 scheduled, got %+v", res)
	}

	infos := triggers.Triggers()
	if len(infos) != 1 || infos[0].ID != "etl.daily" {
		t.Fatalf("unexpected triggers: %+v", infos)
	}
	if infos[0].Payload["flow"] != "etl.daily" {
		t.Errorf("payload not built: %v", infos[0].Payload)
	}

	// Повторная синхронизация без изменений ничего не трогает
	res, _ = syncer.Sync(context.Background())
	if res.Unchanged != 1 || res.Scheduled != 0 {
		t.Errorf("expected unchanged, got %+v", res)
	}
}

func TestSyncer_RemovesDisabledFlowsOnly(t *testing.T) {
	flows := &fakeFlows{flows: []domain.Flow{testFlow("etl", "daily", "0 0 9 * * ?")}}
	syncer, triggers := newTestSyncer(flows)
	ctx := context.Background()

	_, _ = syncer.Sync(ctx)

	// Reminder-триггер, созданный не Syncer'ом
	_ = triggers.Schedule(Trigger{ID: "etl.daily_reminder_for_641000", CronExpr: "30 0 12 19 Oct ? 2026", OneShot: true})

	flows.flows = nil
	res, err := syncer.Sync(ctx)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Removed != 1 {
		t.Errorf("expected 1 removed, got %+v", res)
	}
	if triggers.Has("etl.daily") {
		t.Error("disabled flow trigger should be removed")
	}
	if !triggers.Has("etl.daily_reminder_for_641000") {
		t.Error("reminder trigger must not be touched by sync")
	}
}

func TestSyncer_ReschedulesChangedFlow(t *testing.T) {
	flow := testFlow("etl", "daily", "0 0 9 * * ?")
	flows := &fakeFlows{flows: []domain.Flow{flow}}
	syncer, triggers := newTestSyncer(flows)
	ctx := context.Background()

	_, _ = syncer.Sync(ctx)

	flow.CronExpr = "0 30 13 * * ?"
	flow.UpdatedAt = base.Add(time.Minute)
	flows.flows = []domain.Flow{flow}

	res, _ := syncer.Sync(ctx)
	if res.Scheduled != 1 {
		t.Errorf("expected reschedule, got %+v", res)
	}
	if got := triggers.Triggers()[0].CronExpr; got != "0 30 13 * * ?" {
		t.Errorf("expected new cron, got %q", got)
	}
}

func TestSyncer_InvalidCronDoesNotBlockOthers(t *testing.T) {
	flows := &fakeFlows{flows: []domain.Flow{
		testFlow("etl", "broken", "not a cron"),
		testFlow("etl", "daily", "0 0 9 * * ?"),
	}}
	syncer, triggers := newTestSyncer(flows)

	res, err := syncer.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Invalid != 1 || res.Scheduled != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if !triggers.Has("etl.daily") {
		t.Error("valid flow should be scheduled")
	}
}

func TestSyncer_ListError(t *testing.T) {
	syncer, _ := newTestSyncer(&fakeFlows{err: errors.New("db down")})

	if _, err := syncer.Sync(context.Background()); err == nil {
		t.Error("expected error from flow lister")
	}
}

// churningFlows отдаёт flows с новым UpdatedAt на каждый вызов.
type churningFlows struct {
	calls atomic.Int64
}

func (f *churningFlows) ListEnabled(context.Context) ([]domain.Flow, error) {
	n := f.calls.Add(1)
	a := testFlow("etl", "daily", "0 0 9 * * ?")
	a.UpdatedAt = base.Add(time.Duration(n) * time.Second)
	b := testFlow("etl", "hourly", "0 0 * * * ?")
	if n%2 == 0 {
		// каждый второй вызов hourly выключен: Sync удаляет его триггер
		return []domain.Flow{a}, nil
	}
	return []domain.Flow{a, b}, nil
}

func TestSyncer_ConcurrentSync(t *testing.T) {
	flows := &churningFlows{}
	triggers, _ := newTestScheduler(func(context.Context, FireEvent) error { return nil })
	syncer := NewSyncer(SyncerConfig{Flows: flows, Triggers: triggers})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				if _, err := syncer.Sync(context.Background()); err != nil {
					t.Errorf("sync: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	if !triggers.Has("etl.daily") {
		t.Error("daily trigger must stay registered")
	}
}
