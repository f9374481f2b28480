package sdk

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"rankboard/adapters/memory"
	"rankboard/api/httpapi"
	"rankboard/core"
	"rankboard/engine"
	"rankboard/realtime"
	"rankboard/session"
)

type hubPublisher struct{ hub *realtime.Hub }

func (p hubPublisher) Publish(ctx context.Context, ch core.Change) {
	p.hub.Broadcast(ctx, ch)
}

func newTestClient(t *testing.T) (*Client, *memory.Store) {
	t.Helper()
	hub := realtime.NewHub()
	store := memory.New(memory.WithPublisher(hubPublisher{hub}))
	store.GrantRole("admin-1", core.RoleAdmin)

	auth := session.NewStaticAuthenticator()
	auth.AddUser("admin-1", "admin@example.com", "hunter2")
	sessions := session.NewManager(auth)
	gate := session.NewGate(sessions, store)

	directory := engine.NewDirectory(store, hub, nil)
	directory.Start(context.Background())
	t.Cleanup(directory.Close)

	api := httpapi.NewServer(store, directory, hub, sessions, gate, nil, httpapi.Options{})
	t.Cleanup(api.Close)
	server := httptest.NewServer(api.Router())
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, store
}

func TestClientAdminFlow(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	info, err := client.SignIn(ctx, "admin@example.com", "hunter2")
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if info.State != string(session.StateAuthenticatedAdmin) {
		t.Fatalf("state = %q", info.State)
	}

	state, err := client.CreateLeaderboard(ctx, "Spring Cup", "")
	if err != nil {
		t.Fatalf("create leaderboard: %v", err)
	}
	if len(state.Leaderboards) != 1 || state.Leaderboards[0].Description != nil {
		t.Fatalf("unexpected state: %+v", state.Leaderboards)
	}
	id := state.Leaderboards[0].ID

	if _, err := client.SelectLeaderboard(ctx, id); err != nil {
		t.Fatalf("select: %v", err)
	}
	state, err = client.CreateEntry(ctx, "Ava", "200")
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	entry := state.Entries[0]

	state, err = client.AddPoints(ctx, entry.ID, "-50")
	if err != nil {
		t.Fatalf("add points: %v", err)
	}
	if state.Entries[0].Score != 150 {
		t.Fatalf("score = %d, want 150", state.Entries[0].Score)
	}

	if err := client.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if _, err := client.ConsoleState(ctx); err == nil {
		t.Fatal("console should be unreachable after sign out")
	}
}

func TestClientValidationSurfacesAPIError(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	if _, err := client.SignIn(ctx, "admin@example.com", "hunter2"); err != nil {
		t.Fatal(err)
	}
	_, err := client.CreateLeaderboard(ctx, "   ", "")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Code != "invalid_input" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestClientSurfacesGateRedirect(t *testing.T) {
	client, _ := newTestClient(t)

	// Without a session the gate answers 303; the client must report
	// that, not follow the redirect into the sign-in route's response.
	_, err := client.ConsoleState(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 303 || apiErr.Code != "no_session" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestClientDirectoryAndChanges(t *testing.T) {
	client, store := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := client.SubscribeChanges(ctx)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	lb, err := store.CreateLeaderboard(ctx, "Cup", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.CreateEntry(ctx, lb.ID, "Ava", 300); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ch := <-changes:
			if ch.Table == core.TableEntries && ch.Type == core.ChangeInsert {
				view, err := client.RefreshDirectory(ctx)
				if err != nil {
					t.Fatalf("refresh: %v", err)
				}
				entries := view.Snapshot.EntriesByBoard[lb.ID]
				if len(entries) != 1 || entries[0].DisplayRank() != 1 {
					t.Fatalf("unexpected view: %+v", entries)
				}
				if view.Medals[entries[0].ID] != core.MedalGold {
					t.Fatalf("top rank should carry gold, got %q", view.Medals[entries[0].ID])
				}
				return
			}
		case <-deadline:
			t.Fatal("no entry change received")
		}
	}
}

func TestClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient("  "); err == nil {
		t.Fatal("expected error for empty baseURL")
	}
}
