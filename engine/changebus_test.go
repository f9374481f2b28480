package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"rankboard/core"
)

func TestChangeBusSyncDispatch(t *testing.T) {
	b := NewChangeBus(DispatchSync)
	defer b.Close()

	var got []core.Change
	unsub := b.Subscribe(core.ChangeInsert, func(_ context.Context, ch core.Change) {
		got = append(got, ch)
	})

	e := core.Entry{ID: "e1", LeaderboardID: "lb1"}
	b.Publish(context.Background(), core.NewEntryChange(core.ChangeInsert, e))
	b.Publish(context.Background(), core.NewEntryChange(core.ChangeDelete, e))

	if len(got) != 1 || got[0].EntryID != "e1" {
		t.Fatalf("got %+v, want one insert for e1", got)
	}

	unsub()
	b.Publish(context.Background(), core.NewEntryChange(core.ChangeInsert, e))
	if len(got) != 1 {
		t.Fatal("handler called after unsubscribe")
	}
}

func TestChangeBusSubscribeAll(t *testing.T) {
	b := NewChangeBus(DispatchSync)
	defer b.Close()

	var mu sync.Mutex
	seen := map[core.ChangeType]int{}
	unsub := b.SubscribeAll(func(_ context.Context, ch core.Change) {
		mu.Lock()
		seen[ch.Type]++
		mu.Unlock()
	})
	defer unsub()

	e := core.Entry{ID: "e1", LeaderboardID: "lb1"}
	b.Publish(context.Background(), core.NewEntryChange(core.ChangeInsert, e))
	b.Publish(context.Background(), core.NewEntryChange(core.ChangeUpdate, e))
	b.Publish(context.Background(), core.NewEntryChange(core.ChangeDelete, e))

	for _, typ := range []core.ChangeType{core.ChangeInsert, core.ChangeUpdate, core.ChangeDelete} {
		if seen[typ] != 1 {
			t.Fatalf("type %s dispatched %d times, want 1", typ, seen[typ])
		}
	}
}

func TestChangeBusAsyncDispatch(t *testing.T) {
	b := NewChangeBus(DispatchAsync)
	defer b.Close()

	done := make(chan core.Change, 1)
	b.Subscribe(core.ChangeUpdate, func(_ context.Context, ch core.Change) {
		done <- ch
	})

	e := core.Entry{ID: "e2", LeaderboardID: "lb1"}
	b.Publish(context.Background(), core.NewEntryChange(core.ChangeUpdate, e))

	select {
	case ch := <-done:
		if ch.EntryID != "e2" {
			t.Fatalf("unexpected change %+v", ch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("async dispatch never arrived")
	}
}
