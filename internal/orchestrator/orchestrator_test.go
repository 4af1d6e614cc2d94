package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/Arbiter/internal/dagstate"
	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/lease"
	"github.com/shaiso/Arbiter/internal/mq"
	"github.com/shaiso/Arbiter/internal/repo"
)

// --- fakes ---

type fakePublisher struct {
	mu         sync.Mutex
	launches   []mq.DagLaunchPayload
	reconciles []mq.DagReconcilePayload
	failWith   error
}

func (p *fakePublisher) PublishDagLaunch(_ context.Context, payload mq.DagLaunchPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.launches = append(p.launches, payload)
	return nil
}

func (p *fakePublisher) PublishDagReconcile(_ context.Context, payload mq.DagReconcilePayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	p.reconciles = append(p.reconciles, payload)
	return nil
}

type fakeResumer struct {
	calls int
	n     int
	err   error
}

func (r *fakeResumer) Resume(context.Context) (int, error) {
	r.calls++
	return r.n, r.err
}

// failingStore оборачивает Store и ломает выбранные операции.
type failingStore struct {
	dagstate.Store
	failCleanUp error
	failWrite   error
}

func (s *failingStore) CleanUp(ctx context.Context, id domain.DagID) error {
	if s.failCleanUp != nil {
		return s.failCleanUp
	}
	return s.Store.CleanUp(ctx, id)
}

func (s *failingStore) WriteCheckpoint(ctx context.Context, dag *domain.Dag) error {
	if s.failWrite != nil {
		return s.failWrite
	}
	return s.Store.WriteCheckpoint(ctx, dag)
}

// --- helpers ---

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	orch      *Orchestrator
	store     *failingStore
	publisher *fakePublisher
	flows     *repo.MemoryFlowRepo
	resumer   *fakeResumer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	fs, err := dagstate.NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		store:     &failingStore{Store: fs},
		publisher: &fakePublisher{},
		flows: repo.NewMemoryFlowRepo(
			domain.Flow{
				Group: "etl",
				Name:  "daily",
				Jobs: []domain.JobSpec{
					{Name: "extract", Config: map[string]string{"day": `{{formatMillis "2006-01-02" .Flow.ExecutionID}}`}},
					{Name: "load", DependsOn: []string{"extract"}, Config: map[string]string{"target": "{{.Props.target}}"}},
				},
				Props: map[string]string{"target": "dwh"},
			},
			domain.Flow{Group: "etl", Name: "empty"},
		),
		resumer: &fakeResumer{},
	}

	env.orch = New(Config{
		Store:     env.store,
		Flows:     env.flows,
		Publisher: env.publisher,
		Resumer:   env.resumer,
		Owner:     "host-a",
		Now:       func() time.Time { return testNow },
	})
	return env
}

func obtained(flow string, execID int64) domain.LeaseObtainedStatus {
	return domain.LeaseObtainedStatus{
		ConsensusDagAction: domain.NewLaunchAction("etl", flow, execID),
		EventTimeMillis:    execID,
		Owner:              "host-a",
	}
}

// --- Launch ---

func TestLaunch_WritesCheckpointThenPublishes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	status := obtained("daily", 1760868000000)

	if err := env.orch.Launch(ctx, status, map[string]string{"run": "manual"}); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	dag, err := env.store.GetDag(ctx, status.ConsensusDagAction.DagID())
	if err != nil {
		t.Fatalf("checkpoint not written: %v", err)
	}
	if dag.Status != domain.DagStatusPending || dag.Owner != "host-a" || len(dag.Jobs) != 2 {
		t.Errorf("unexpected dag %+v", dag)
	}
	if dag.Jobs[0].Config["day"] != "2025-10-19" {
		t.Errorf("extract config not rendered: %v", dag.Jobs[0].Config)
	}
	if dag.Jobs[1].Config["target"] != "dwh" {
		t.Errorf("flow props not visible in templates: %v", dag.Jobs[1].Config)
	}

	if len(env.publisher.launches) != 1 {
		t.Fatalf("expected 1 launch, got %d", len(env.publisher.launches))
	}
	launch := env.publisher.launches[0]
	if launch.DagID != "etl_daily_1760868000000" || launch.Props["run"] != "manual" {
		t.Errorf("unexpected launch payload %+v", launch)
	}
}

func TestLaunch_IdempotentOnDagID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	status := obtained("daily", 123000)

	if err := env.orch.Launch(ctx, status, nil); err != nil {
		t.Fatal(err)
	}

	// Движок начал исполнение
	err := env.orch.ApplyCheckpoint(ctx, JobProgress{
		DagID: status.ConsensusDagAction.DagID(), JobName: "extract", Status: domain.JobStatusRunning, Attempt: 1,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := env.orch.Launch(ctx, status, nil); err != nil {
		t.Fatal(err)
	}
	if len(env.publisher.launches) != 1 {
		t.Errorf("started dag must not be relaunched, got %d launches", len(env.publisher.launches))
	}
}

func TestLaunch_RepublishesAfterPublishFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	status := obtained("daily", 123000)

	env.publisher.failWith = errors.New("broker down")
	if err := env.orch.Launch(ctx, status, nil); err == nil {
		t.Fatal("expected publish error")
	}
	if _, err := env.store.GetDag(ctx, status.ConsensusDagAction.DagID()); err != nil {
		t.Fatalf("checkpoint should survive publish failure: %v", err)
	}

	env.publisher.failWith = nil
	if err := env.orch.Launch(ctx, status, nil); err != nil {
		t.Fatal(err)
	}
	if len(env.publisher.launches) != 1 {
		t.Errorf("expected republished launch, got %d", len(env.publisher.launches))
	}
}

func TestLaunch_ZeroJobsIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	status := obtained("empty", 123000)

	env.store.failWrite = errors.New("checkpoint must not be attempted")
	if err := env.orch.Launch(ctx, status, nil); err != nil {
		t.Fatalf("zero-job launch should succeed, got %v", err)
	}

	ids, _ := env.store.GetDagIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("expected no checkpoint, got %v", ids)
	}
	if len(env.publisher.launches) != 0 {
		t.Error("zero-job dag must not be published")
	}
}

func TestLaunch_FlowNotFound(t *testing.T) {
	env := newTestEnv(t)
	err := env.orch.Launch(context.Background(), obtained("missing", 1), nil)
	if !errors.Is(err, ErrFlowNotFound) {
		t.Errorf("expected ErrFlowNotFound, got %v", err)
	}
}

func TestLaunch_CheckpointFailureSurfaces(t *testing.T) {
	env := newTestEnv(t)
	env.store.failWrite = dagstate.ErrCheckpointIO

	err := env.orch.Launch(context.Background(), obtained("daily", 1), nil)
	if !errors.Is(err, dagstate.ErrCheckpointIO) {
		t.Errorf("expected ErrCheckpointIO, got %v", err)
	}
	if len(env.publisher.launches) != 0 {
		t.Error("dag must not be published without a checkpoint")
	}
}

// --- ApplyCheckpoint ---

func TestApplyCheckpoint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	status := obtained("daily", 123000)
	id := status.ConsensusDagAction.DagID()

	if err := env.orch.Launch(ctx, status, nil); err != nil {
		t.Fatal(err)
	}

	steps := []JobProgress{
		{DagID: id, JobName: "extract", Status: domain.JobStatusSucceeded, Attempt: 1},
		{DagID: id, JobName: "load", Status: domain.JobStatusFailed, Attempt: 2, Error: "exit 1"},
	}
	for _, p := range steps {
		if err := env.orch.ApplyCheckpoint(ctx, p); err != nil {
			t.Fatalf("ApplyCheckpoint(%s): %v", p.JobName, err)
		}
	}

	dag, err := env.store.GetDag(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	load, _ := dag.Job("load")
	if load.Status != domain.JobStatusFailed || load.Attempt != 2 || load.Error != "exit 1" {
		t.Errorf("unexpected load plan %+v", load)
	}
	if dag.Status != domain.DagStatusFailed {
		t.Errorf("expected FAILED dag, got %s", dag.Status)
	}

	err = env.orch.ApplyCheckpoint(ctx, JobProgress{DagID: id, JobName: "nope", Status: domain.JobStatusRunning})
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	unknown := domain.DagID{FlowGroup: "etl", FlowName: "daily", FlowExecutionID: 999}
	if err := env.orch.ApplyCheckpoint(ctx, JobProgress{DagID: unknown, JobName: "extract"}); err != nil {
		t.Errorf("progress for cleaned-up dag should be ignored, got %v", err)
	}
}

// --- FinishDag ---

func TestFinishDag(t *testing.T) {
	recovery := errors.New("disk full")

	tests := []struct {
		name        string
		outcome     DagOutcome
		failCleanUp error
		check       func(t *testing.T, err error)
	}{
		{
			name:    "success cleans up",
			outcome: DagOutcome{Status: domain.DagStatusSucceeded},
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("unexpected error %v", err)
				}
			},
		},
		{
			name:    "failure surfaces cause",
			outcome: DagOutcome{Status: domain.DagStatusFailed, Error: "load exit 1"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrDagFailed) {
					t.Errorf("expected ErrDagFailed, got %v", err)
				}
				var partial *PartialFailureError
				if errors.As(err, &partial) {
					t.Error("cleanup succeeded, partial failure not expected")
				}
			},
		},
		{
			name:        "cleanup failure alone",
			outcome:     DagOutcome{Status: domain.DagStatusSucceeded},
			failCleanUp: recovery,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, recovery) || errors.Is(err, ErrDagFailed) {
					t.Errorf("expected only cleanup error, got %v", err)
				}
			},
		},
		{
			name:        "failure plus cleanup failure",
			outcome:     DagOutcome{Status: domain.DagStatusFailed, Error: "load exit 1"},
			failCleanUp: recovery,
			check: func(t *testing.T, err error) {
				var partial *PartialFailureError
				if !errors.As(err, &partial) {
					t.Fatalf("expected PartialFailureError, got %T %v", err, err)
				}
				if !errors.Is(partial.Cause, ErrDagFailed) {
					t.Errorf("cause lost: %v", partial.Cause)
				}
				if !errors.Is(partial.Recovery, recovery) {
					t.Errorf("recovery error lost: %v", partial.Recovery)
				}
				if !errors.Is(err, ErrDagFailed) || !errors.Is(err, recovery) {
					t.Error("both causes must be reachable via errors.Is")
				}
			},
		},
		{
			name:    "non-terminal outcome rejected",
			outcome: DagOutcome{Status: domain.DagStatusRunning},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrInvalidOutcome) {
					t.Errorf("expected ErrInvalidOutcome, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			status := obtained("daily", 123000)
			id := status.ConsensusDagAction.DagID()

			if err := env.orch.Launch(ctx, status, nil); err != nil {
				t.Fatal(err)
			}
			env.store.failCleanUp = tt.failCleanUp

			err := env.orch.FinishDag(ctx, id, tt.outcome)
			tt.check(t, err)

			if tt.failCleanUp == nil && tt.outcome.Status.IsTerminal() {
				if _, err := env.store.GetDag(ctx, id); !errors.Is(err, dagstate.ErrNotFound) {
					t.Errorf("checkpoint should be removed, got %v", err)
				}
			}
		})
	}
}

func TestFinishDag_CompletesLaunchWhenWinnerCrashed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	now := testNow
	clock := func() time.Time { return now }
	actions := lease.NewMemoryStore(clock)
	arbiter := func(owner string) *lease.Arbiter {
		return lease.NewArbiter(lease.ArbiterConfig{
			Store:         actions,
			Owner:         owner,
			LeaseDuration: time.Minute,
			MinimumLinger: 2 * time.Second,
			Now:           clock,
		})
	}
	hostA, hostB := arbiter("host-a"), arbiter("host-b")
	env.orch.actions = hostB

	action := domain.NewLaunchAction("etl", "daily", 123000)

	// host-a выиграл lease, запустил DAG и упал до RecordLeaseSuccess
	status, err := hostA.TryAcquireLease(ctx, action, 123000, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := env.orch.Launch(ctx, status.(domain.LeaseObtainedStatus), nil); err != nil {
		t.Fatal(err)
	}

	if err := env.orch.FinishDag(ctx, action.DagID(), DagOutcome{Status: domain.DagStatusSucceeded}); err != nil {
		t.Fatalf("FinishDag: %v", err)
	}

	// Lease host-a истёк, срабатывает reminder host-b
	now = now.Add(2 * time.Minute)
	reminder, err := hostB.TryAcquireLease(ctx, action, 123000, true)
	if err != nil {
		t.Fatal(err)
	}
	if won, ok := reminder.(domain.LeaseObtainedStatus); ok {
		_ = env.orch.Launch(ctx, won, nil)
	}

	if _, ok := reminder.(domain.NoLongerLeasingStatus); !ok {
		t.Errorf("finished dag must not be re-arbitrated, got %T", reminder)
	}
	if len(env.publisher.launches) != 1 {
		t.Errorf("expected exactly one dag.launch, got %d", len(env.publisher.launches))
	}
}

type failingCompleter struct{ err error }

func (c failingCompleter) CompleteAction(context.Context, domain.DagAction) error { return c.err }

func TestFinishDag_CompletionFailureSurfaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	unavailable := errors.New("redis down")
	env.orch.actions = failingCompleter{err: unavailable}

	status := obtained("daily", 123000)
	if err := env.orch.Launch(ctx, status, nil); err != nil {
		t.Fatal(err)
	}

	err := env.orch.FinishDag(ctx, status.ConsensusDagAction.DagID(), DagOutcome{Status: domain.DagStatusFailed, Error: "boom"})
	var partial *PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("expected PartialFailureError, got %T %v", err, err)
	}
	if !errors.Is(partial.Recovery, unavailable) {
		t.Errorf("completion error lost: %v", partial.Recovery)
	}
	if _, err := env.store.GetDag(ctx, status.ConsensusDagAction.DagID()); !errors.Is(err, dagstate.ErrNotFound) {
		t.Errorf("checkpoint should still be removed, got %v", err)
	}
}

// --- Recover ---

func TestRecover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.resumer.n = 3

	for _, exec := range []int64{1000, 2000} {
		if err := env.orch.Launch(ctx, obtained("daily", exec), nil); err != nil {
			t.Fatal(err)
		}
	}

	// Новый инстанс поверх того же хранилища
	restarted := New(Config{
		Store:     env.store,
		Flows:     env.flows,
		Publisher: env.publisher,
		Resumer:   env.resumer,
		Owner:     "host-b",
	})

	report, err := restarted.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if report.Dags != 2 || report.Actions != 3 {
		t.Errorf("unexpected report %+v", report)
	}
	if env.resumer.calls != 1 {
		t.Errorf("expected Resume to be called once, got %d", env.resumer.calls)
	}
	if len(env.publisher.reconciles) != 2 || env.publisher.reconciles[0].Owner != "host-b" {
		t.Errorf("unexpected reconciles %+v", env.publisher.reconciles)
	}
}

func TestRecover_ReportsAllFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.orch.Launch(ctx, obtained("daily", 1000), nil); err != nil {
		t.Fatal(err)
	}

	brokerDown := errors.New("broker down")
	storeDown := errors.New("lease store down")
	env.publisher.failWith = brokerDown
	env.resumer.err = storeDown

	_, err := env.orch.Recover(ctx)
	if !errors.Is(err, brokerDown) || !errors.Is(err, storeDown) {
		t.Errorf("expected both failures, got %v", err)
	}
}

// --- handlers ---

func TestProgressFromPayload(t *testing.T) {
	p, err := progressFromPayload(mq.JobProgressPayload{
		DagID: "etl_daily_123000", JobName: "load", Status: "SUCCEEDED", Attempt: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.DagID.FlowExecutionID != 123000 || p.Status != domain.JobStatusSucceeded {
		t.Errorf("unexpected progress %+v", p)
	}

	if _, err := progressFromPayload(mq.JobProgressPayload{DagID: "bad"}); err == nil {
		t.Error("expected error on malformed dag id")
	}
	if _, err := progressFromPayload(mq.JobProgressPayload{DagID: "etl_daily_1"}); err == nil {
		t.Error("expected error on missing job name")
	}
}

func TestHandleCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.orch.Launch(ctx, obtained("daily", 123000), nil); err != nil {
		t.Fatal(err)
	}

	delivery := &mq.Delivery{Message: *mq.NewMessage(mq.MessageTypeDagCompleted, mq.DagCompletedPayload{
		DagID: "etl_daily_123000", Status: "FAILED", Error: "exit 1",
	}, testNow)}

	// Неуспех исполнения при успешной очистке подтверждается
	if err := env.orch.handleCompleted(ctx, delivery); err != nil {
		t.Errorf("expected ack, got %v", err)
	}

	bad := &mq.Delivery{Message: *mq.NewMessage(mq.MessageTypeDagCompleted, mq.DagCompletedPayload{
		DagID: "etl_daily_123000", Status: "RUNNING",
	}, testNow)}
	if err := env.orch.handleCompleted(ctx, bad); !errors.Is(err, mq.ErrPermanent) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestDagLocks(t *testing.T) {
	locks := newDagLocks()
	id := domain.DagID{FlowGroup: "etl", FlowName: "daily", FlowExecutionID: 1}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.lock(id)
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected exclusive access, saw %d concurrent holders", maxSeen)
	}
	if locks.size() != 0 {
		t.Errorf("locks leaked: %d", locks.size())
	}
}
