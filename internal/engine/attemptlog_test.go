package engine

import (
	"sync"
	"testing"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

func TestAttemptLog_EvictsOldest(t *testing.T) {
	log := NewAttemptLog(3)
	for i := 1; i <= 5; i++ {
		log.Append(&core.RetryAttempt{AttemptNumber: i})
	}

	if log.Len() != 3 || log.Capacity() != 3 {
		t.Fatalf("Len = %d Capacity = %d, want 3/3", log.Len(), log.Capacity())
	}
	snap := log.Snapshot()
	for i, want := range []int{3, 4, 5} {
		if snap[i].AttemptNumber != want {
			t.Errorf("snapshot[%d] = %d, want %d", i, snap[i].AttemptNumber, want)
		}
	}
}

func TestAttemptLog_ReverseStopsEarly(t *testing.T) {
	log := NewAttemptLog(10)
	for i := 1; i <= 6; i++ {
		log.Append(&core.RetryAttempt{AttemptNumber: i})
	}

	var seen []int
	log.Reverse(func(a *core.RetryAttempt) bool {
		seen = append(seen, a.AttemptNumber)
		return len(seen) < 2
	})
	if len(seen) != 2 || seen[0] != 6 || seen[1] != 5 {
		t.Errorf("seen = %v, want [6 5]", seen)
	}
}

func TestAttemptLog_DefaultCapacity(t *testing.T) {
	if got := NewAttemptLog(0).Capacity(); got != DefaultAttemptLogCapacity {
		t.Errorf("Capacity = %d, want %d", got, DefaultAttemptLogCapacity)
	}
}

func TestAttemptLog_ConcurrentAppend(t *testing.T) {
	log := NewAttemptLog(100)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				log.Append(&core.RetryAttempt{AttemptNumber: i})
				_ = log.Len()
			}
		}()
	}
	wg.Wait()

	if log.Len() != 100 {
		t.Errorf("Len = %d, want 100", log.Len())
	}
	for i, a := range log.Snapshot() {
		if a == nil {
			t.Fatalf("snapshot[%d] is nil", i)
		}
	}
}
