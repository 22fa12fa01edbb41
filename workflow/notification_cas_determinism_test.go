package workflow

import (
	"errors"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/ledger_backend/models"
)

// NOTE: These tests are intentionally DB-free. They validate the intended
// concurrency semantics of the notification approval machine:
// - a status move is a guarded compare-and-set; of N concurrent actors
//   exactly one wins, everyone else observes a conflict
// - accept posts the mirrored voucher at most once, no matter how often it
//   is retried, because the (source company, source voucher) pair is unique
//
// The DB-backed equivalents live in the integration tests behind
// INTEGRATION_TESTS=1.

type fakeNotificationStore struct {
	mu      sync.Mutex
	status  models.NotificationStatus
	mirrors map[string]int // source key -> mirror voucher id
	nextId  int
	posts   int
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{
		status:  models.NotificationStatusPending,
		mirrors: map[string]int{},
		nextId:  100,
	}
}

// compareAndSwap mimics models.CompareAndSwapStatus: one guarded update,
// zero rows affected -> conflict.
func (s *fakeNotificationStore) compareAndSwap(from, to models.NotificationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != from {
		return models.NewConflictError("voucher_notification", "status changed concurrently, expected %s", from)
	}
	s.status = to
	return nil
}

// ensureMirror mimics ensureMirroredVoucher: lookup by source key first,
// insert guarded by the unique index otherwise.
func (s *fakeNotificationStore) ensureMirror(sourceKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.mirrors[sourceKey]; ok {
		return id
	}
	s.nextId++
	s.mirrors[sourceKey] = s.nextId
	s.posts++
	return s.nextId
}

func (s *fakeNotificationStore) transition(action models.NotificationAction, sourceKey string) (int, error) {
	s.mu.Lock()
	current := s.status
	s.mu.Unlock()

	if current == action.TargetStatus() {
		// Redundant response; same answer, no new work.
		if action == models.NotificationActionAccept {
			return s.ensureMirror(sourceKey), nil
		}
		return 0, nil
	}
	if !action.AllowedFrom(current) {
		return 0, models.NewConflictError("voucher_notification", "%s is not allowed from %s", action, current)
	}
	if err := s.compareAndSwap(current, action.TargetStatus()); err != nil {
		return 0, err
	}
	if action == models.NotificationActionAccept {
		return s.ensureMirror(sourceKey), nil
	}
	return 0, nil
}

func TestNotificationCas_ConcurrentDecisions_OneWinner(t *testing.T) {
	// Rerun to shake out interleavings; the result must be deterministic.
	for run := 0; run < 100; run++ {
		store := newFakeNotificationStore()

		const actors = 20
		var wg sync.WaitGroup
		errs := make([]error, actors)
		for i := 0; i < actors; i++ {
			action := models.NotificationActionAccept
			if i%2 == 1 {
				action = models.NotificationActionReject
			}
			wg.Add(1)
			go func(slot int, action models.NotificationAction) {
				defer wg.Done()
				_, errs[slot] = store.transition(action, "companyA|1")
			}(i, action)
		}
		wg.Wait()

		if store.status != models.NotificationStatusAccepted && store.status != models.NotificationStatusRejected {
			t.Fatalf("run %d: expected a terminal decision, got %s", run, store.status)
		}
		if store.status == models.NotificationStatusAccepted && store.posts != 1 {
			t.Fatalf("run %d: accepted notification must post exactly one mirror, got %d", run, store.posts)
		}
		if store.status == models.NotificationStatusRejected && store.posts != 0 {
			t.Fatalf("run %d: rejected notification must post nothing, got %d", run, store.posts)
		}

		// Losers must have seen a conflict (or the idempotent same-action
		// answer), never a silent overwrite.
		conflicts := 0
		for _, err := range errs {
			if err != nil {
				conflicts++
			}
		}
		if conflicts == 0 {
			t.Fatalf("run %d: concurrent opposite decisions cannot all succeed", run)
		}
	}
}

func TestNotificationCas_RepeatedAccept_SingleMirror(t *testing.T) {
	for run := 0; run < 100; run++ {
		store := newFakeNotificationStore()

		var wg sync.WaitGroup
		mirrorIds := make([]int, 25)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func(slot int) {
				defer wg.Done()
				id, err := store.transition(models.NotificationActionAccept, "companyA|7")
				if err == nil {
					mirrorIds[slot] = id
				}
			}(i)
		}
		wg.Wait()

		if store.posts != 1 {
			t.Fatalf("run %d: expected exactly one mirror posting, got %d", run, store.posts)
		}
		want := store.mirrors["companyA|7"]
		for slot, id := range mirrorIds {
			if id != 0 && id != want {
				t.Fatalf("run %d: actor %d got mirror %d, expected %d", run, slot, id, want)
			}
		}
	}
}

func TestNotificationCas_DecisionAfterTerminalConflicts(t *testing.T) {
	store := newFakeNotificationStore()

	if _, err := store.transition(models.NotificationActionHold, ""); err != nil {
		t.Fatalf("pending -> hold: %v", err)
	}
	if _, err := store.transition(models.NotificationActionAccept, "companyA|3"); err != nil {
		t.Fatalf("hold -> accepted: %v", err)
	}

	_, err := store.transition(models.NotificationActionReject, "")
	if err == nil {
		t.Fatal("reject after accept must conflict")
	}
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *models.ConflictError, got %T", err)
	}
	if store.status != models.NotificationStatusAccepted {
		t.Fatalf("state must be unchanged by the losing action, got %s", store.status)
	}
}
