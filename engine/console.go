package engine

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"rankboard/core"
)

// ErrNoDialog is returned by submit operations when the matching dialog
// is not the one currently open.
var ErrNoDialog = errors.New("no matching dialog is open")

// NoticeLevel classifies a transient notice.
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient confirmation or error message shown after an
// operation. It never carries state; displayed values always come from
// a confirmed re-fetch.
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
	Time    time.Time   `json:"time"`
}

// DialogState is the console's single modal interaction context. Exactly
// one variant is active at a time, so two dialogs can never be open
// simultaneously by construction.
type DialogState interface{ dialog() }

type DialogClosed struct{}

// LeaderboardDraft is the input buffer for leaderboard dialogs.
type LeaderboardDraft struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// EntryDraft is the input buffer for the create-entry dialog.
type EntryDraft struct {
	PlayerName string `json:"player_name"`
	Score      string `json:"score"`
}

// EntryEditDraft is the input buffer for the full-edit dialog. When
// Delta is non-empty it takes precedence and Score is ignored.
type EntryEditDraft struct {
	PlayerName string `json:"player_name"`
	Score      string `json:"score"`
	Delta      string `json:"delta"`
}

type CreatingLeaderboard struct{ Draft LeaderboardDraft }

type EditingLeaderboard struct {
	ID    core.LeaderboardID
	Draft LeaderboardDraft
}

type CreatingEntry struct{ Draft EntryDraft }

type EditingEntry struct {
	Entry core.Entry
	Draft EntryEditDraft
}

type AddingPoints struct {
	Entry core.Entry
	Delta string
}

type ConfirmingDeleteLeaderboard struct{ ID core.LeaderboardID }

type ConfirmingDeleteEntry struct{ ID core.EntryID }

func (DialogClosed) dialog()                {}
func (CreatingLeaderboard) dialog()         {}
func (EditingLeaderboard) dialog()          {}
func (CreatingEntry) dialog()               {}
func (EditingEntry) dialog()                {}
func (AddingPoints) dialog()                {}
func (ConfirmingDeleteLeaderboard) dialog() {}
func (ConfirmingDeleteEntry) dialog()       {}

// SessionCloser invalidates the console's session on sign-out.
type SessionCloser interface {
	SignOut(ctx context.Context) error
}

// Console is the authenticated administration surface. Every mutation
// follows the same contract: validate locally, issue a single store
// operation, then on success show a transient confirmation and re-fetch
// only the affected collection. Nothing is applied speculatively; all
// displayed state comes from confirmed re-fetches.
//
// In-flight store calls are not cancelled when a dialog closes. A
// generation counter per dialog session discards the late response's
// UI effect instead.
type Console struct {
	storage Storage
	closer  SessionCloser
	logger  *slog.Logger

	mu           sync.Mutex
	active       bool
	leaderboards []core.Leaderboard
	selected     core.LeaderboardID
	entries      []core.Entry
	dialog       DialogState
	dialogGen    uint64
	submitting   bool
	notice       *Notice
}

func NewConsole(storage Storage, closer SessionCloser, logger *slog.Logger) *Console {
	if storage == nil {
		panic("NewConsole requires non-nil storage")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Console{
		storage: storage,
		closer:  closer,
		logger:  logger,
		active:  true,
		dialog:  DialogClosed{},
	}
}

// Load fetches the leaderboards list on console entry.
func (c *Console) Load(ctx context.Context) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	return c.refreshLeaderboards(ctx)
}

// Accessors return copies of the confirmed state.

func (c *Console) Leaderboards() []core.Leaderboard {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Leaderboard, len(c.leaderboards))
	copy(out, c.leaderboards)
	return out
}

func (c *Console) Entries() []core.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Console) Selected() core.LeaderboardID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Console) Dialog() DialogState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dialog
}

func (c *Console) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// Notice returns the most recent transient notice, if any.
func (c *Console) Notice() *Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.notice == nil {
		return nil
	}
	n := *c.notice
	return &n
}

// Active reports whether the console still has a valid admin session.
func (c *Console) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Deactivate clears all console state. Called when the session is
// invalidated from anywhere, including another client.
func (c *Console) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
	c.leaderboards = nil
	c.entries = nil
	c.selected = ""
	c.setDialogLocked(DialogClosed{})
	c.notice = nil
}

// SignOut invalidates the session and deactivates the console.
func (c *Console) SignOut(ctx context.Context) error {
	if c.closer != nil {
		if err := c.closer.SignOut(ctx); err != nil {
			return err
		}
	}
	c.Deactivate()
	return nil
}

// SelectLeaderboard sets the current leaderboard and fetches its
// entries in ascending rank order.
func (c *Console) SelectLeaderboard(ctx context.Context, id core.LeaderboardID) error {
	if err := c.ensureActive(); err != nil {
		return err
	}
	c.mu.Lock()
	c.selected = id
	c.mu.Unlock()
	return c.refreshEntries(ctx)
}

// Dialog openers. Opening any dialog replaces the previous one.

func (c *Console) OpenCreateLeaderboard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDialogLocked(CreatingLeaderboard{})
}

func (c *Console) OpenEditLeaderboard(id core.LeaderboardID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, lb := range c.leaderboards {
		if lb.ID == id {
			draft := LeaderboardDraft{Name: lb.Name}
			if lb.Description != nil {
				draft.Description = *lb.Description
			}
			c.setDialogLocked(EditingLeaderboard{ID: id, Draft: draft})
			return nil
		}
	}
	return core.ErrNotFound
}

func (c *Console) OpenCreateEntry() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == "" {
		return core.ErrNoSelection
	}
	c.setDialogLocked(CreatingEntry{})
	return nil
}

func (c *Console) OpenEditEntry(id core.EntryID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entryLocked(id)
	if !ok {
		return core.ErrNotFound
	}
	c.setDialogLocked(EditingEntry{Entry: e, Draft: EntryEditDraft{
		PlayerName: e.PlayerName,
		Score:      strconv.FormatInt(e.Score, 10),
	}})
	return nil
}

func (c *Console) OpenAddPoints(id core.EntryID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entryLocked(id)
	if !ok {
		return core.ErrNotFound
	}
	c.setDialogLocked(AddingPoints{Entry: e})
	return nil
}

func (c *Console) OpenDeleteLeaderboard(id core.LeaderboardID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDialogLocked(ConfirmingDeleteLeaderboard{ID: id})
}

func (c *Console) OpenDeleteEntry(id core.EntryID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDialogLocked(ConfirmingDeleteEntry{ID: id})
}

// CancelDialog closes the open dialog. A store call already in flight
// is not aborted; its UI effect is suppressed when it returns.
func (c *Console) CancelDialog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setDialogLocked(DialogClosed{})
}

// PreviewAddPoints computes "current -> new" for display while typing a
// delta. Display only; the store call recomputes from the same base.
func (c *Console) PreviewAddPoints(delta string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var base int64
	switch d := c.dialog.(type) {
	case AddingPoints:
		base = d.Entry.Score
	case EditingEntry:
		base = d.Entry.Score
	default:
		return 0, false
	}
	v, err := core.ParseScore("delta", delta)
	if err != nil {
		return 0, false
	}
	return base + v, true
}

// SubmitCreateLeaderboard validates the draft and inserts the
// leaderboard. An empty description is stored as absent, not "".
func (c *Console) SubmitCreateLeaderboard(ctx context.Context, draft LeaderboardDraft) error {
	c.mu.Lock()
	if err := c.ensureActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.dialog.(CreatingLeaderboard); !ok {
		c.mu.Unlock()
		return ErrNoDialog
	}
	name, err := core.NormalizeName("name", draft.Name)
	if err != nil {
		c.rejectLocked(err)
		c.mu.Unlock()
		return err
	}
	desc := core.NormalizeDescription(draft.Description)
	gen := c.beginSubmitLocked()
	c.mu.Unlock()

	_, serr := c.storage.CreateLeaderboard(ctx, name, desc)

	return c.finishSubmit(ctx, gen, serr, "create leaderboard",
		"Leaderboard created", "Failed to create leaderboard", c.refreshLeaderboards)
}

// SubmitEditLeaderboard validates the draft and updates name and
// description in place.
func (c *Console) SubmitEditLeaderboard(ctx context.Context, draft LeaderboardDraft) error {
	c.mu.Lock()
	if err := c.ensureActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	dlg, ok := c.dialog.(EditingLeaderboard)
	if !ok {
		c.mu.Unlock()
		return ErrNoDialog
	}
	name, err := core.NormalizeName("name", draft.Name)
	if err != nil {
		c.rejectLocked(err)
		c.mu.Unlock()
		return err
	}
	desc := core.NormalizeDescription(draft.Description)
	gen := c.beginSubmitLocked()
	c.mu.Unlock()

	serr := c.storage.UpdateLeaderboard(ctx, dlg.ID, name, desc)

	return c.finishSubmit(ctx, gen, serr, "update leaderboard",
		"Leaderboard updated", "Failed to update leaderboard", c.refreshLeaderboards)
}

// SubmitCreateEntry validates the draft and inserts an entry under the
// selected leaderboard.
func (c *Console) SubmitCreateEntry(ctx context.Context, draft EntryDraft) error {
	c.mu.Lock()
	if err := c.ensureActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if _, ok := c.dialog.(CreatingEntry); !ok {
		c.mu.Unlock()
		return ErrNoDialog
	}
	if c.selected == "" {
		c.mu.Unlock()
		return core.ErrNoSelection
	}
	board := c.selected
	name, err := core.NormalizeName("player name", draft.PlayerName)
	if err != nil {
		c.rejectLocked(err)
		c.mu.Unlock()
		return err
	}
	score, err := core.ParseScore("score", draft.Score)
	if err != nil {
		c.rejectLocked(err)
		c.mu.Unlock()
		return err
	}
	gen := c.beginSubmitLocked()
	c.mu.Unlock()

	_, serr := c.storage.CreateEntry(ctx, board, name, score)

	return c.finishSubmit(ctx, gen, serr, "create entry",
		"Entry added", "Failed to add entry", c.refreshEntries)
}

// SubmitEditEntry replaces player name and sets the final score. A
// non-empty delta takes precedence: the final score is the stored score
// plus delta and the absolute field is ignored entirely.
func (c *Console) SubmitEditEntry(ctx context.Context, draft EntryEditDraft) error {
	c.mu.Lock()
	if err := c.ensureActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	dlg, ok := c.dialog.(EditingEntry)
	if !ok {
		c.mu.Unlock()
		return ErrNoDialog
	}
	name, err := core.NormalizeName("player name", draft.PlayerName)
	if err != nil {
		c.rejectLocked(err)
		c.mu.Unlock()
		return err
	}
	var final int64
	if strings.TrimSpace(draft.Delta) != "" {
		delta, err := core.ParseScore("delta", draft.Delta)
		if err != nil {
			c.rejectLocked(err)
			c.mu.Unlock()
			return err
		}
		final = dlg.Entry.Score + delta
	} else {
		abs, err := core.ParseScore("score", draft.Score)
		if err != nil {
			c.rejectLocked(err)
			c.mu.Unlock()
			return err
		}
		final = abs
	}
	gen := c.beginSubmitLocked()
	c.mu.Unlock()

	serr := c.storage.UpdateEntry(ctx, dlg.Entry.ID, name, final)

	return c.finishSubmit(ctx, gen, serr, "update entry",
		"Entry updated", "Failed to update entry", c.refreshEntries)
}

// SubmitAddPoints applies a signed delta to the targeted entry's stored
// score. Negative deltas and negative results are accepted; the player
// name is untouched.
func (c *Console) SubmitAddPoints(ctx context.Context, delta string) error {
	c.mu.Lock()
	if err := c.ensureActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	dlg, ok := c.dialog.(AddingPoints)
	if !ok {
		c.mu.Unlock()
		return ErrNoDialog
	}
	d, err := core.ParseScore("delta", delta)
	if err != nil {
		c.rejectLocked(err)
		c.mu.Unlock()
		return err
	}
	gen := c.beginSubmitLocked()
	c.mu.Unlock()

	serr := c.storage.UpdateEntry(ctx, dlg.Entry.ID, dlg.Entry.PlayerName, dlg.Entry.Score+d)

	return c.finishSubmit(ctx, gen, serr, "add points",
		"Points added", "Failed to update entry", c.refreshEntries)
}

// ConfirmDelete executes whichever delete confirmation is open.
func (c *Console) ConfirmDelete(ctx context.Context) error {
	c.mu.Lock()
	if err := c.ensureActiveLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	switch dlg := c.dialog.(type) {
	case ConfirmingDeleteLeaderboard:
		gen := c.beginSubmitLocked()
		c.mu.Unlock()

		serr := c.storage.DeleteLeaderboard(ctx, dlg.ID)

		if serr == nil {
			c.mu.Lock()
			if c.dialogGen == gen && c.selected == dlg.ID {
				// Deleting the selected leaderboard reverts the entries
				// panel to its empty state.
				c.selected = ""
				c.entries = nil
			}
			c.mu.Unlock()
		}
		return c.finishSubmit(ctx, gen, serr, "delete leaderboard",
			"Leaderboard deleted", "Failed to delete leaderboard", c.refreshLeaderboards)
	case ConfirmingDeleteEntry:
		gen := c.beginSubmitLocked()
		c.mu.Unlock()

		serr := c.storage.DeleteEntry(ctx, dlg.ID)

		return c.finishSubmit(ctx, gen, serr, "delete entry",
			"Entry deleted", "Failed to delete entry", c.refreshEntries)
	default:
		c.mu.Unlock()
		return ErrNoDialog
	}
}

// Internal helpers. All *Locked helpers require c.mu held.

func (c *Console) ensureActive() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureActiveLocked()
}

func (c *Console) ensureActiveLocked() error {
	if !c.active {
		return core.ErrNoSession
	}
	return nil
}

func (c *Console) entryLocked(id core.EntryID) (core.Entry, bool) {
	for _, e := range c.entries {
		if e.ID == id {
			return e, true
		}
	}
	return core.Entry{}, false
}

// setDialogLocked transitions the dialog and bumps the generation so a
// late response from a previous dialog session is discarded.
func (c *Console) setDialogLocked(d DialogState) {
	c.dialog = d
	c.dialogGen++
}

func (c *Console) beginSubmitLocked() uint64 {
	c.submitting = true
	return c.dialogGen
}

func (c *Console) rejectLocked(err error) {
	c.setNoticeLocked(NoticeError, err.Error())
}

func (c *Console) setNoticeLocked(level NoticeLevel, msg string) {
	c.notice = &Notice{Level: level, Message: msg, Time: time.Now().UTC()}
	if level == NoticeError {
		c.logger.Warn("console notice", "message", msg)
	} else {
		c.logger.Info("console notice", "message", msg)
	}
}

// finishSubmit applies the outcome of a store call: close the dialog
// and confirm on success, keep the dialog open with an error notice on
// failure. If the dialog session changed while the call was in flight,
// the response's UI effect is dropped entirely.
func (c *Console) finishSubmit(ctx context.Context, gen uint64, serr error, op, okMsg, failMsg string, refresh func(context.Context) error) error {
	c.mu.Lock()
	c.submitting = false
	if c.dialogGen != gen {
		c.mu.Unlock()
		return core.NewStoreError(op, serr)
	}
	if serr != nil {
		c.setNoticeLocked(NoticeError, failMsg+": "+serr.Error())
		c.mu.Unlock()
		return core.NewStoreError(op, serr)
	}
	c.setDialogLocked(DialogClosed{})
	c.setNoticeLocked(NoticeSuccess, okMsg)
	c.mu.Unlock()

	// Refresh failures after a successful mutation leave the
	// confirmation visible over a stale list until the next refresh.
	if err := refresh(ctx); err != nil {
		c.logger.Error("refresh after mutation failed", "op", op, "error", err)
	}
	return nil
}

func (c *Console) refreshLeaderboards(ctx context.Context) error {
	boards, err := c.storage.ListLeaderboards(ctx)
	if err != nil {
		c.mu.Lock()
		c.setNoticeLocked(NoticeError, "Failed to fetch leaderboards")
		c.mu.Unlock()
		return core.NewStoreError("list leaderboards", err)
	}
	c.mu.Lock()
	c.leaderboards = boards
	c.mu.Unlock()
	return nil
}

func (c *Console) refreshEntries(ctx context.Context) error {
	c.mu.Lock()
	board := c.selected
	c.mu.Unlock()
	if board == "" {
		return nil
	}
	entries, err := c.storage.ListEntries(ctx, board)
	if err != nil {
		c.mu.Lock()
		c.setNoticeLocked(NoticeError, "Failed to fetch entries")
		c.mu.Unlock()
		return core.NewStoreError("list entries", err)
	}
	c.mu.Lock()
	// Selection may have moved while the fetch was in flight; the last
	// response to resolve wins.
	if c.selected == board {
		c.entries = entries
	}
	c.mu.Unlock()
	return nil
}
