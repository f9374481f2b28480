package core

import "time"

// ChangeType enumerates record mutations reported by the change feed.
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Table names the record collection a change applies to.
type Table string

const (
	TableLeaderboards Table = "leaderboards"
	TableEntries      Table = "entries"
)

// Change is an asynchronous notification that a record was inserted,
// updated, or deleted. Delivery is at-least-once; consumers treat any
// change as an invalidate-and-refetch signal rather than a patch.
type Change struct {
	Type          ChangeType    `json:"type"`
	Table         Table         `json:"table"`
	Time          time.Time     `json:"time"`
	LeaderboardID LeaderboardID `json:"leaderboard_id,omitempty"`
	EntryID       EntryID       `json:"entry_id,omitempty"`
}

func NewLeaderboardChange(typ ChangeType, id LeaderboardID) Change {
	return Change{Type: typ, Table: TableLeaderboards, Time: time.Now().UTC(), LeaderboardID: id}
}

func NewEntryChange(typ ChangeType, e Entry) Change {
	return Change{Type: typ, Table: TableEntries, Time: time.Now().UTC(), LeaderboardID: e.LeaderboardID, EntryID: e.ID}
}
