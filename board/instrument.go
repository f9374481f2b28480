package board

import (
	"context"
	"time"

	"rankboard/core"
	"rankboard/metrics"
)

// timedStore records every store operation's duration in the store-op
// histogram. New installs it around the configured store when metrics
// are enabled.
type timedStore struct {
	next Store
}

func newTimedStore(next Store) *timedStore { return &timedStore{next: next} }

func observe(op string, start time.Time) {
	metrics.RecordStoreOp(op, time.Since(start))
}

func (t *timedStore) ListLeaderboards(ctx context.Context) ([]core.Leaderboard, error) {
	defer observe("list_leaderboards", time.Now())
	return t.next.ListLeaderboards(ctx)
}

func (t *timedStore) CreateLeaderboard(ctx context.Context, name string, description *string) (core.Leaderboard, error) {
	defer observe("create_leaderboard", time.Now())
	return t.next.CreateLeaderboard(ctx, name, description)
}

func (t *timedStore) UpdateLeaderboard(ctx context.Context, id core.LeaderboardID, name string, description *string) error {
	defer observe("update_leaderboard", time.Now())
	return t.next.UpdateLeaderboard(ctx, id, name, description)
}

func (t *timedStore) DeleteLeaderboard(ctx context.Context, id core.LeaderboardID) error {
	defer observe("delete_leaderboard", time.Now())
	return t.next.DeleteLeaderboard(ctx, id)
}

func (t *timedStore) ListEntries(ctx context.Context, id core.LeaderboardID) ([]core.Entry, error) {
	defer observe("list_entries", time.Now())
	return t.next.ListEntries(ctx, id)
}

func (t *timedStore) ListAllEntries(ctx context.Context) ([]core.Entry, error) {
	defer observe("list_all_entries", time.Now())
	return t.next.ListAllEntries(ctx)
}

func (t *timedStore) GetEntry(ctx context.Context, id core.EntryID) (core.Entry, error) {
	defer observe("get_entry", time.Now())
	return t.next.GetEntry(ctx, id)
}

func (t *timedStore) CreateEntry(ctx context.Context, board core.LeaderboardID, playerName string, score int64) (core.Entry, error) {
	defer observe("create_entry", time.Now())
	return t.next.CreateEntry(ctx, board, playerName, score)
}

func (t *timedStore) UpdateEntry(ctx context.Context, id core.EntryID, playerName string, score int64) error {
	defer observe("update_entry", time.Now())
	return t.next.UpdateEntry(ctx, id, playerName, score)
}

func (t *timedStore) DeleteEntry(ctx context.Context, id core.EntryID) error {
	defer observe("delete_entry", time.Now())
	return t.next.DeleteEntry(ctx, id)
}

func (t *timedStore) HasRole(ctx context.Context, user core.UserID, role core.Role) (bool, error) {
	defer observe("has_role", time.Now())
	return t.next.HasRole(ctx, user, role)
}

// Close releases the underlying adapter's resources, if it holds any.
func (t *timedStore) Close() error {
	if c, ok := t.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
