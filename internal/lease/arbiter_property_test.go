package lease

import (
	"context"
	"fmt"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/shaiso/Arbiter/internal/domain"
)

// TestProperty_AtMostOneUnexpiredOwner проверяет, что при любой последовательности
// попыток нескольких инстансов и сдвигов часов не существует двух владельцев
// с неистёкшим lease на один и тот же DagAction.
func TestProperty_AtMostOneUnexpiredOwner(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		clock := newFakeClock()
		store := NewMemoryStore(clock.Now)

		owners := rapid.IntRange(2, 5).Draw(t, "owners")
		arbiters := make([]*Arbiter, owners)
		for i := range arbiters {
			arbiters[i] = newTestArbiter(store, fmt.Sprintf("host-%d", i), clock)
		}

		// owner → время истечения полученного lease
		held := make(map[string]time.Time)

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "advance") {
				clock.Advance(time.Duration(rapid.IntRange(0, 12000).Draw(t, "advance_ms")) * time.Millisecond)
			}

			arb := arbiters[rapid.IntRange(0, owners-1).Draw(t, "who")]
			status, err := arb.TryAcquireLease(context.Background(), testAction, clock.Now().UnixMilli(), false)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if obtained, ok := status.(domain.LeaseObtainedStatus); ok {
				held[obtained.Owner] = obtained.LeaseExpiry
			}

			now := clock.Now()
			var live int
			for _, expiry := range held {
				if now.Before(expiry) {
					live++
				}
			}
			if live > 1 {
				t.Fatalf("step %d: %d owners hold an unexpired lease", i, live)
			}
		}
	})
}
