package state_test

import (
	"sync"
	"testing"

	"stepdeck/internal/logging"
	"stepdeck/internal/state"
)

func newStore() *state.Store {
	return state.NewStore(nil, logging.NewNop())
}

func TestSetStateMergesWithoutMutatingPreviousSnapshot(t *testing.T) {
	store := newStore()
	store.SetState(state.Tree{"processInfo": state.Tree{"A": state.Tree{"status": "running", "progress_total": 5}}}, "seed")

	var captured state.Tree
	store.Subscribe(func(newState, oldState state.Tree, source string) {
		captured = oldState
	})

	store.SetState(state.At("processInfo.A.status", "completed"), "poll")

	if got, _ := store.Get("processInfo.A.status"); got != "completed" {
		t.Fatalf("status = %v, want completed", got)
	}
	if got, _ := store.Get("processInfo.A.progress_total"); got != 5 {
		t.Fatalf("merge dropped sibling field, progress_total = %v", got)
	}
	old := captured["processInfo"].(state.Tree)["A"].(state.Tree)
	if old["status"] != "running" {
		t.Fatalf("previous snapshot was mutated: %v", old["status"])
	}
}

func TestSetStateSkipsNotificationWithoutChange(t *testing.T) {
	store := newStore()
	store.SetState(state.Tree{"isAnySequenceRunning": false}, "seed")

	calls := 0
	store.Subscribe(func(state.Tree, state.Tree, string) { calls++ })

	if store.SetState(state.Tree{"isAnySequenceRunning": false}, "noop") {
		t.Fatal("expected identical update to report no change")
	}
	if calls != 0 {
		t.Fatalf("listener called %d times for a no-op update", calls)
	}
	if !store.SetState(state.Tree{"isAnySequenceRunning": true}, "flip") {
		t.Fatal("expected change to be applied")
	}
	if calls != 1 {
		t.Fatalf("listener called %d times, want 1", calls)
	}
}

func TestListenerReceivesSourceLabel(t *testing.T) {
	store := newStore()
	var got string
	store.Subscribe(func(_, _ state.Tree, source string) { got = source })
	store.SetState(state.Tree{"fastMonitoring": true}, "toggle-fast")
	if got != "toggle-fast" {
		t.Fatalf("source = %q, want toggle-fast", got)
	}
}

func TestGetMalformedPathsResolveToMissing(t *testing.T) {
	store := newStore()
	store.SetState(state.Tree{"processInfo": state.Tree{"A": state.Tree{"status": "idle"}}}, "seed")

	for _, path := range []string{"", ".", "processInfo..A", "processInfo.A.status.deeper", "missing.key", "processInfo.B"} {
		if v, ok := store.Get(path); ok || v != nil {
			t.Fatalf("Get(%q) = %v, %v; want nil,false", path, v, ok)
		}
	}
}

func TestGetReturnsCopies(t *testing.T) {
	store := newStore()
	store.SetState(state.Tree{"selectedStepsOrder": []string{"A", "B"}}, "seed")

	v, _ := store.Get("selectedStepsOrder")
	v.([]string)[0] = "Z"

	if got := store.Strings("selectedStepsOrder"); got[0] != "A" {
		t.Fatalf("store was mutated through Get copy: %v", got)
	}
}

func TestRemoveDeletesKey(t *testing.T) {
	store := newStore()
	store.SetState(state.At("stepTimers.A", state.Tree{"elapsedTimeFormatted": "00:00:01"}), "seed")
	store.SetState(state.At("stepTimers.A", state.Remove), "clear")
	if _, ok := store.Get("stepTimers.A"); ok {
		t.Fatal("expected timer entry to be removed")
	}
}

func TestSubscribeToPropertyFiresOnlyOnPathChange(t *testing.T) {
	store := newStore()
	type change struct{ newValue, oldValue any }
	var changes []change
	store.SubscribeToProperty("processInfo.A.status", func(newValue, oldValue any) {
		changes = append(changes, change{newValue, oldValue})
	})

	store.SetState(state.At("processInfo.A.status", "running"), "poll")
	store.SetState(state.At("processInfo.A.progress_current", 3), "poll")
	store.SetState(state.At("processInfo.B.status", "running"), "poll")
	store.SetState(state.At("processInfo.A.status", "completed"), "poll")

	if len(changes) != 2 {
		t.Fatalf("got %d property notifications, want 2: %+v", len(changes), changes)
	}
	if changes[0].oldValue != nil || changes[0].newValue != "running" {
		t.Fatalf("unexpected first change: %+v", changes[0])
	}
	if changes[1].oldValue != "running" || changes[1].newValue != "completed" {
		t.Fatalf("unexpected second change: %+v", changes[1])
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	store := newStore()
	calls := 0
	unsubscribe := store.Subscribe(func(state.Tree, state.Tree, string) { calls++ })
	store.SetState(state.Tree{"fastMonitoring": true}, "a")
	unsubscribe()
	unsubscribe()
	store.SetState(state.Tree{"fastMonitoring": false}, "b")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestPanickingListenerDoesNotBlockOthers(t *testing.T) {
	store := newStore()
	store.Subscribe(func(state.Tree, state.Tree, string) { panic("boom") })
	delivered := false
	store.Subscribe(func(state.Tree, state.Tree, string) { delivered = true })
	store.SetState(state.Tree{"fastMonitoring": true}, "a")
	if !delivered {
		t.Fatal("second listener was not invoked after the first panicked")
	}
}

func TestUpdateIsAtomicCheckAndSet(t *testing.T) {
	store := newStore()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won := false
			store.Update("lock", func(cur state.Tree) state.Tree {
				if running, _ := cur["isAnySequenceRunning"].(bool); running {
					return nil
				}
				won = true
				return state.Tree{"isAnySequenceRunning": true}
			})
			if won {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestAtRejectsEmptyPath(t *testing.T) {
	if state.At("", 1) != nil {
		t.Fatal("expected nil partial for empty path")
	}
	if state.At("a..b", 1) != nil {
		t.Fatal("expected nil partial for malformed path")
	}
}

func TestCombineKeepsRemoveMarkers(t *testing.T) {
	store := newStore()
	store.SetState(state.Combine(
		state.At("stepTimers.A", state.Tree{"elapsedTimeFormatted": "00:00:01"}),
		state.At("stepTimers.B", state.Tree{"elapsedTimeFormatted": "00:00:02"}),
	), "seed")

	store.SetState(state.Combine(
		state.At("stepTimers.A", state.Remove),
		state.At("processInfo.A.status", "initiated"),
	), "reset")

	if _, ok := store.Get("stepTimers.A"); ok {
		t.Fatal("expected combined remove to delete timer A")
	}
	if _, ok := store.Get("stepTimers.B"); !ok {
		t.Fatal("timer B should be untouched")
	}
	if v, _ := store.Get("processInfo.A.status"); v != "initiated" {
		t.Fatalf("status = %v", v)
	}
}

func TestListenersSeeConcurrentUpdatesInMergeOrder(t *testing.T) {
	store := newStore()
	store.SetState(state.Tree{"n": 0}, "seed")

	var seen []int
	store.Subscribe(func(newState, oldState state.Tree, _ string) {
		seen = append(seen, newState["n"].(int))
		if newState["n"].(int) != oldState["n"].(int)+1 {
			t.Errorf("change %v -> %v skipped a merge", oldState["n"], newState["n"])
		}
	})

	const writers, perWriter = 8, 200
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				store.Update("incr", func(cur state.Tree) state.Tree {
					return state.Tree{"n": cur["n"].(int) + 1}
				})
			}
		}()
	}
	wg.Wait()

	if len(seen) != writers*perWriter {
		t.Fatalf("delivered %d changes, want %d", len(seen), writers*perWriter)
	}
	for i, n := range seen {
		if n != i+1 {
			t.Fatalf("change %d carried n=%d, want %d", i, n, i+1)
		}
	}
}

func TestListenerWriteIsDeliveredAfterCurrentChange(t *testing.T) {
	store := newStore()
	var sources []string
	store.Subscribe(func(_, _ state.Tree, source string) {
		sources = append(sources, source)
		if source == "first" {
			store.SetState(state.Tree{"b": true}, "second")
		}
	})
	store.Subscribe(func(_, _ state.Tree, source string) {
		sources = append(sources, source+"/late")
	})

	store.SetState(state.Tree{"a": true}, "first")

	want := []string{"first", "first/late", "second", "second/late"}
	if len(sources) != len(want) {
		t.Fatalf("sources = %v, want %v", sources, want)
	}
	for i := range want {
		if sources[i] != want[i] {
			t.Fatalf("sources = %v, want %v", sources, want)
		}
	}
}
