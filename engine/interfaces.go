package engine

import (
	"context"

	"rankboard/core"
)

// Storage is the contract with the remote data store. The store owns
// persistence, id and created_at assignment, rank assignment, and the
// delete cascade from a leaderboard to its entries; this module only
// consumes it.
type Storage interface {
	// ListLeaderboards returns all leaderboards ordered by creation
	// time descending (newest first).
	ListLeaderboards(ctx context.Context) ([]core.Leaderboard, error)
	CreateLeaderboard(ctx context.Context, name string, description *string) (core.Leaderboard, error)
	UpdateLeaderboard(ctx context.Context, id core.LeaderboardID, name string, description *string) error
	// DeleteLeaderboard removes the leaderboard and cascades to all
	// entries referencing it.
	DeleteLeaderboard(ctx context.Context, id core.LeaderboardID) error

	// ListEntries returns the entries of one leaderboard ordered by
	// ascending rank, unranked entries last.
	ListEntries(ctx context.Context, id core.LeaderboardID) ([]core.Entry, error)
	// ListAllEntries returns every entry across all leaderboards in the
	// same rank order.
	ListAllEntries(ctx context.Context) ([]core.Entry, error)
	GetEntry(ctx context.Context, id core.EntryID) (core.Entry, error)
	CreateEntry(ctx context.Context, board core.LeaderboardID, playerName string, score int64) (core.Entry, error)
	// UpdateEntry replaces player name and score. Rank is never written
	// by the client; the store reassigns it.
	UpdateEntry(ctx context.Context, id core.EntryID, playerName string, score int64) error
	DeleteEntry(ctx context.Context, id core.EntryID) error
}

// RoleStore looks up role assignments. Read-only.
type RoleStore interface {
	HasRole(ctx context.Context, user core.UserID, role core.Role) (bool, error)
}

// ChangePublisher accepts change notifications from a store adapter.
type ChangePublisher interface {
	Publish(ctx context.Context, ch core.Change)
}

// ChangeFeed is a channel-based subscription to change notifications,
// satisfied by realtime.Hub.
type ChangeFeed interface {
	Subscribe(buffer int) (int, <-chan core.Change)
	Unsubscribe(id int)
}
