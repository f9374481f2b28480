package stats

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rankboard/adapters/memory"
	"rankboard/core"
	"rankboard/realtime"
)

type hubPublisher struct{ hub *realtime.Hub }

func (p hubPublisher) Publish(ctx context.Context, ch core.Change) {
	p.hub.Broadcast(ctx, ch)
}

func newFixture(t *testing.T) (*Collector, *memory.Store, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub()
	store := memory.New(memory.WithPublisher(hubPublisher{hub}))
	c := NewCollector(store, hub, nil)
	return c, store, hub
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCollectorAggregatesBoards(t *testing.T) {
	c, store, _ := newFixture(t)
	ctx := context.Background()

	lb, err := store.CreateLeaderboard(ctx, "Cup", nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range []struct {
		name  string
		score int64
	}{{"Ava", 300}, {"Ben", 200}, {"Cy", 200}, {"Dee", 50}} {
		if _, err := store.CreateEntry(ctx, lb.ID, e.name, e.score); err != nil {
			t.Fatal(err)
		}
	}

	c.Start(ctx)
	defer c.Close()

	report := c.Snapshot()
	if report.BoardCount != 1 || report.EntryCount != 4 {
		t.Fatalf("unexpected totals: %+v", report)
	}
	b := report.Boards[0]
	if b.TotalScore != 750 || b.EntryCount != 4 {
		t.Fatalf("unexpected board stats: %+v", b)
	}
	if len(b.TopPlayers) != 3 || b.TopPlayers[0].PlayerName != "Ava" {
		t.Fatalf("unexpected top players: %+v", b.TopPlayers)
	}
}

func TestCollectorRebuildsOnChange(t *testing.T) {
	c, store, _ := newFixture(t)
	ctx := context.Background()
	c.Start(ctx)
	defer c.Close()

	lb, err := store.CreateLeaderboard(ctx, "Cup", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateEntry(ctx, lb.ID, "Ava", 100); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		r := c.Snapshot()
		return r.EntryCount == 1 && r.BoardCount == 1
	})
}

func TestCloseWithoutStartReturns(t *testing.T) {
	c, _, _ := newFixture(t)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a collector that never started")
	}
}

// failingStorage serves one good load, then errors.
type failingStorage struct {
	*memory.Store
	fail atomic.Bool
}

func (f *failingStorage) ListLeaderboards(ctx context.Context) ([]core.Leaderboard, error) {
	if f.fail.Load() {
		return nil, errors.New("store unavailable")
	}
	return f.Store.ListLeaderboards(ctx)
}

func TestCollectorKeepsReportOnFetchError(t *testing.T) {
	store := memory.New()
	failing := &failingStorage{Store: store}
	c := NewCollector(failing, nil, nil)
	ctx := context.Background()

	if _, err := store.CreateLeaderboard(ctx, "Cup", nil); err != nil {
		t.Fatal(err)
	}
	c.Start(ctx)
	defer c.Close()
	before := c.Snapshot()
	if before.BoardCount != 1 {
		t.Fatalf("initial report missing board: %+v", before)
	}

	failing.fail.Store(true)
	if err := c.Rebuild(ctx); err == nil {
		t.Fatal("expected rebuild error")
	}

	after := c.Snapshot()
	if after.BoardCount != before.BoardCount {
		t.Fatalf("report changed after failed rebuild: %+v", after)
	}
}

func TestHandlerServesJSONAndCSV(t *testing.T) {
	c, store, _ := newFixture(t)
	ctx := context.Background()
	lb, err := store.CreateLeaderboard(ctx, "Cup", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateEntry(ctx, lb.ID, "Ava", 300); err != nil {
		t.Fatal(err)
	}
	c.Start(ctx)
	defer c.Close()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/stats", nil))
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"Cup"`) {
		t.Fatalf("missing board in JSON: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/stats?format=csv", nil))
	body := rec.Body.String()
	if !strings.HasPrefix(body, "leaderboard_id,name,") {
		t.Fatalf("missing CSV header: %s", body)
	}
	if !strings.Contains(body, "Cup,1,300,Ava,300") {
		t.Fatalf("missing CSV row: %s", body)
	}
}
