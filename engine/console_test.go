package engine

import (
	"context"
	"errors"
	"testing"

	mem "rankboard/adapters/memory"
	"rankboard/core"
)

func newTestConsole(t *testing.T) (*Console, *mem.Store) {
	t.Helper()
	store := mem.New()
	return NewConsole(store, nil, nil), store
}

func createBoard(t *testing.T, c *Console, name, desc string) core.LeaderboardID {
	t.Helper()
	c.OpenCreateLeaderboard()
	if err := c.SubmitCreateLeaderboard(context.Background(), LeaderboardDraft{Name: name, Description: desc}); err != nil {
		t.Fatal(err)
	}
	boards := c.Leaderboards()
	if len(boards) == 0 {
		t.Fatal("no leaderboards after create")
	}
	return boards[0].ID
}

func createEntry(t *testing.T, c *Console, player, score string) core.Entry {
	t.Helper()
	if err := c.OpenCreateEntry(); err != nil {
		t.Fatal(err)
	}
	if err := c.SubmitCreateEntry(context.Background(), EntryDraft{PlayerName: player, Score: score}); err != nil {
		t.Fatal(err)
	}
	for _, e := range c.Entries() {
		if e.PlayerName == player {
			return e
		}
	}
	t.Fatalf("entry %q not found after create", player)
	return core.Entry{}
}

func TestCreateLeaderboardEmptyDescriptionStoredAbsent(t *testing.T) {
	c, _ := newTestConsole(t)
	createBoard(t, c, "Spring Cup", "")

	boards := c.Leaderboards()
	if boards[0].Name != "Spring Cup" {
		t.Fatalf("unexpected name %q", boards[0].Name)
	}
	if boards[0].Description != nil {
		t.Fatalf("empty description should be absent, got %q", *boards[0].Description)
	}
	if n := c.Notice(); n == nil || n.Level != NoticeSuccess {
		t.Fatalf("expected success notice, got %+v", n)
	}
	if _, ok := c.Dialog().(DialogClosed); !ok {
		t.Fatalf("dialog should close on success, got %T", c.Dialog())
	}
}

func TestCreateLeaderboardBlankNameNeverReachesStore(t *testing.T) {
	store := &countingStorage{Storage: mem.New()}
	c := NewConsole(store, nil, nil)

	c.OpenCreateLeaderboard()
	err := c.SubmitCreateLeaderboard(context.Background(), LeaderboardDraft{Name: "   "})
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.writes != 0 {
		t.Fatalf("store was called %d times", store.writes)
	}
	if n := c.Notice(); n == nil || n.Level != NoticeError {
		t.Fatalf("expected error notice, got %+v", n)
	}
	if _, ok := c.Dialog().(CreatingLeaderboard); !ok {
		t.Fatalf("dialog should stay open on validation failure, got %T", c.Dialog())
	}
}

func TestCreateEntryNonNumericScoreNeverReachesStore(t *testing.T) {
	counting := &countingStorage{Storage: mem.New()}
	c := NewConsole(counting, nil, nil)
	id := createBoard(t, c, "Cup", "")
	if err := c.SelectLeaderboard(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	if err := c.OpenCreateEntry(); err != nil {
		t.Fatal(err)
	}
	before := counting.writes
	err := c.SubmitCreateEntry(context.Background(), EntryDraft{PlayerName: "Ava", Score: "lots"})
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if counting.writes != before {
		t.Fatal("store should not be called on parse failure")
	}
}

func TestCreateEntryRequiresSelection(t *testing.T) {
	c, _ := newTestConsole(t)
	createBoard(t, c, "Cup", "")
	if err := c.OpenCreateEntry(); !errors.Is(err, core.ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
}

func TestAddPointsAppliesSignedDelta(t *testing.T) {
	c, _ := newTestConsole(t)
	id := createBoard(t, c, "Cup", "")
	if err := c.SelectLeaderboard(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	e := createEntry(t, c, "Ava", "200")

	if err := c.OpenAddPoints(e.ID); err != nil {
		t.Fatal(err)
	}
	if err := c.SubmitAddPoints(context.Background(), "50"); err != nil {
		t.Fatal(err)
	}
	if got := scoreOf(t, c, e.ID); got != 250 {
		t.Fatalf("score = %d, want 250", got)
	}

	if err := c.OpenAddPoints(e.ID); err != nil {
		t.Fatal(err)
	}
	if err := c.SubmitAddPoints(context.Background(), "-300"); err != nil {
		t.Fatal(err)
	}
	if got := scoreOf(t, c, e.ID); got != -50 {
		t.Fatalf("negative scores are not rejected; score = %d, want -50", got)
	}
}

func TestAddPointsLeavesNameUntouched(t *testing.T) {
	c, _ := newTestConsole(t)
	id := createBoard(t, c, "Cup", "")
	_ = c.SelectLeaderboard(context.Background(), id)
	e := createEntry(t, c, "Ava", "500")

	_ = c.OpenAddPoints(e.ID)
	if err := c.SubmitAddPoints(context.Background(), "-50"); err != nil {
		t.Fatal(err)
	}
	entries := c.Entries()
	if entries[0].PlayerName != "Ava" || entries[0].Score != 450 {
		t.Fatalf("got %q/%d, want Ava/450", entries[0].PlayerName, entries[0].Score)
	}
}

func TestEditEntryDeltaIgnoresAbsoluteScore(t *testing.T) {
	c, _ := newTestConsole(t)
	id := createBoard(t, c, "Cup", "")
	_ = c.SelectLeaderboard(context.Background(), id)
	e := createEntry(t, c, "Ava", "200")

	if err := c.OpenEditEntry(e.ID); err != nil {
		t.Fatal(err)
	}
	// Both fields populated: delta wins, absolute is ignored entirely.
	err := c.SubmitEditEntry(context.Background(), EntryEditDraft{
		PlayerName: "Beth",
		Score:      "9999",
		Delta:      "50",
	})
	if err != nil {
		t.Fatal(err)
	}
	entries := c.Entries()
	if entries[0].PlayerName != "Beth" || entries[0].Score != 250 {
		t.Fatalf("got %q/%d, want Beth/250", entries[0].PlayerName, entries[0].Score)
	}
}

func TestEditEntryAbsoluteScoreWhenNoDelta(t *testing.T) {
	c, _ := newTestConsole(t)
	id := createBoard(t, c, "Cup", "")
	_ = c.SelectLeaderboard(context.Background(), id)
	e := createEntry(t, c, "Ava", "200")

	_ = c.OpenEditEntry(e.ID)
	if err := c.SubmitEditEntry(context.Background(), EntryEditDraft{PlayerName: "Ava", Score: "1000"}); err != nil {
		t.Fatal(err)
	}
	if got := scoreOf(t, c, e.ID); got != 1000 {
		t.Fatalf("score = %d, want 1000", got)
	}

	_ = c.OpenEditEntry(e.ID)
	err := c.SubmitEditEntry(context.Background(), EntryEditDraft{PlayerName: "Ava", Score: "nope"})
	if !core.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteSelectedLeaderboardClearsSelection(t *testing.T) {
	c, _ := newTestConsole(t)
	id := createBoard(t, c, "Cup", "")
	_ = c.SelectLeaderboard(context.Background(), id)
	createEntry(t, c, "Ava", "100")

	c.OpenDeleteLeaderboard(id)
	if err := c.ConfirmDelete(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Selected() != "" {
		t.Fatal("selection should clear")
	}
	if len(c.Entries()) != 0 {
		t.Fatal("entries panel should revert to empty state")
	}
	if len(c.Leaderboards()) != 0 {
		t.Fatal("leaderboard should be gone from list")
	}
}

func TestDeleteLeaderboardCascadesEntries(t *testing.T) {
	c, store := newTestConsole(t)
	id := createBoard(t, c, "Cup", "")
	_ = c.SelectLeaderboard(context.Background(), id)
	createEntry(t, c, "Ava", "100")
	createEntry(t, c, "Beth", "200")

	c.OpenDeleteLeaderboard(id)
	if err := c.ConfirmDelete(context.Background()); err != nil {
		t.Fatal(err)
	}
	all, err := store.ListAllEntries(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range all {
		if e.LeaderboardID == id {
			t.Fatalf("entry %s survived the cascade", e.ID)
		}
	}
}

func TestOnlyOneDialogOpenAtATime(t *testing.T) {
	c, _ := newTestConsole(t)
	id := createBoard(t, c, "Cup", "")
	_ = c.SelectLeaderboard(context.Background(), id)

	c.OpenCreateLeaderboard()
	if err := c.OpenCreateEntry(); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Dialog().(CreatingEntry); !ok {
		t.Fatalf("expected CreatingEntry dialog, got %T", c.Dialog())
	}
	// Submitting the replaced dialog is rejected.
	if err := c.SubmitCreateLeaderboard(context.Background(), LeaderboardDraft{Name: "X"}); !errors.Is(err, ErrNoDialog) {
		t.Fatalf("expected ErrNoDialog, got %v", err)
	}
}

func TestLateResponseAfterDialogCloseIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	store := &blockingStorage{Storage: mem.New(), entered: make(chan struct{}), release: release}
	c := NewConsole(store, nil, nil)

	c.OpenCreateLeaderboard()
	done := make(chan error, 1)
	go func() {
		done <- c.SubmitCreateLeaderboard(context.Background(), LeaderboardDraft{Name: "Cup"})
	}()

	<-store.entered
	c.CancelDialog()
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	// The mutation happened, but its UI effect was suppressed.
	if n := c.Notice(); n != nil && n.Level == NoticeSuccess {
		t.Fatal("confirmation should be suppressed after dialog close")
	}
	if len(c.Leaderboards()) != 0 {
		t.Fatal("no re-fetch should be applied after dialog close")
	}
}

func TestStoreErrorLeavesStateUnchanged(t *testing.T) {
	c, _ := newTestConsole(t)
	id := createBoard(t, c, "Cup", "")
	_ = c.SelectLeaderboard(context.Background(), id)
	e := createEntry(t, c, "Ava", "100")

	failing := &failingStorage{Storage: nil}
	cf := NewConsole(failing, nil, nil)
	cf.OpenCreateLeaderboard()
	err := cf.SubmitCreateLeaderboard(context.Background(), LeaderboardDraft{Name: "Cup"})
	var se *core.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected store error, got %v", err)
	}
	if n := cf.Notice(); n == nil || n.Level != NoticeError {
		t.Fatalf("expected error notice with store detail, got %+v", n)
	}
	if _, ok := cf.Dialog().(CreatingLeaderboard); !ok {
		t.Fatalf("dialog should stay open on store failure, got %T", cf.Dialog())
	}

	// Unrelated console state in the healthy console is intact.
	if got := scoreOf(t, c, e.ID); got != 100 {
		t.Fatalf("score = %d, want 100", got)
	}
}

func TestSignOutDeactivatesConsole(t *testing.T) {
	closer := &fakeCloser{}
	c := NewConsole(mem.New(), closer, nil)
	if err := c.SignOut(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !closer.called {
		t.Fatal("session was not invalidated")
	}
	if c.Active() {
		t.Fatal("console should be inactive after sign-out")
	}
	if err := c.Load(context.Background()); !errors.Is(err, core.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestPreviewAddPoints(t *testing.T) {
	c, _ := newTestConsole(t)
	id := createBoard(t, c, "Cup", "")
	_ = c.SelectLeaderboard(context.Background(), id)
	e := createEntry(t, c, "Ava", "200")

	_ = c.OpenAddPoints(e.ID)
	if got, ok := c.PreviewAddPoints("50"); !ok || got != 250 {
		t.Fatalf("preview = %d/%v, want 250/true", got, ok)
	}
	if _, ok := c.PreviewAddPoints("x"); ok {
		t.Fatal("non-numeric delta should not preview")
	}
}

func scoreOf(t *testing.T, c *Console, id core.EntryID) int64 {
	t.Helper()
	for _, e := range c.Entries() {
		if e.ID == id {
			return e.Score
		}
	}
	t.Fatalf("entry %s not in console state", id)
	return 0
}

// countingStorage counts mutating calls to prove validation failures
// never reach the store.
type countingStorage struct {
	Storage
	writes int
}

func (s *countingStorage) CreateLeaderboard(ctx context.Context, name string, description *string) (core.Leaderboard, error) {
	s.writes++
	return s.Storage.CreateLeaderboard(ctx, name, description)
}

func (s *countingStorage) CreateEntry(ctx context.Context, board core.LeaderboardID, playerName string, score int64) (core.Entry, error) {
	s.writes++
	return s.Storage.CreateEntry(ctx, board, playerName, score)
}

// blockingStorage holds CreateLeaderboard until released.
type blockingStorage struct {
	Storage
	enteredOnce bool
	entered     chan struct{}
	release     chan struct{}
}

func (s *blockingStorage) CreateLeaderboard(ctx context.Context, name string, description *string) (core.Leaderboard, error) {
	if s.entered == nil {
		panic("blockingStorage misconfigured")
	}
	if !s.enteredOnce {
		s.enteredOnce = true
		close(s.entered)
	}
	<-s.release
	return s.Storage.CreateLeaderboard(ctx, name, description)
}

// failingStorage rejects everything with a store-side error.
type failingStorage struct{ Storage }

func (s *failingStorage) CreateLeaderboard(context.Context, string, *string) (core.Leaderboard, error) {
	return core.Leaderboard{}, errors.New("duplicate key value violates unique constraint")
}

func (s *failingStorage) ListLeaderboards(context.Context) ([]core.Leaderboard, error) {
	return nil, errors.New("connection refused")
}

type fakeCloser struct{ called bool }

func (f *fakeCloser) SignOut(context.Context) error {
	f.called = true
	return nil
}
