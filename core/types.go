package core

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// LeaderboardID uniquely identifies a leaderboard. IDs are opaque and
// assigned by the store.
type LeaderboardID string

// EntryID uniquely identifies a score entry.
type EntryID string

// UserID identifies an authenticated caller.
type UserID string

// Role is a role name in the role-assignment collection.
type Role string

const RoleAdmin Role = "admin"

// Leaderboard is a named competition context grouping ranked entries.
// Description is nil when absent; an empty string is never stored.
type Leaderboard struct {
	ID          LeaderboardID `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Description *string       `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

// Entry is a single player's score record within one leaderboard.
// Rank is assigned by the store and read-only from the client's
// perspective; it is nil until the store has ranked the entry.
type Entry struct {
	ID            EntryID       `json:"id" db:"id"`
	LeaderboardID LeaderboardID `json:"leaderboard_id" db:"leaderboard_id"`
	PlayerName    string        `json:"player_name" db:"player_name"`
	Score         int64         `json:"score" db:"score"`
	Rank          *int64        `json:"rank" db:"entry_rank"`
}

// DisplayRank returns the rank to render. Unranked entries display as 0.
func (e Entry) DisplayRank() int64 {
	if e.Rank == nil {
		return 0
	}
	return *e.Rank
}

// Medal is the distinguished visual treatment for the top three ranks.
type Medal string

const (
	MedalGold   Medal = "gold"
	MedalSilver Medal = "silver"
	MedalBronze Medal = "bronze"
	MedalNone   Medal = ""
)

// MedalFor maps a displayed rank to its medal. Unranked entries (rank 0)
// and ranks past third place get none.
func MedalFor(rank int64) Medal {
	switch rank {
	case 1:
		return MedalGold
	case 2:
		return MedalSilver
	case 3:
		return MedalBronze
	default:
		return MedalNone
	}
}

// NormalizeName trims the given display name and rejects empty results.
func NormalizeName(field, name string) (string, error) {
	s := strings.TrimSpace(name)
	if s == "" {
		return "", &ValidationError{Field: field, Reason: "must not be empty"}
	}
	return s, nil
}

// NormalizeDescription trims a free-text description and collapses empty
// input to absent, so empty strings never reach the store.
func NormalizeDescription(desc string) *string {
	s := strings.TrimSpace(desc)
	if s == "" {
		return nil
	}
	return &s
}

// ParseScore parses a score or delta input field as a signed integer.
// Parse failures never reach the store; they surface as ValidationErrors.
func ParseScore(field, input string) (int64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, &ValidationError{Field: field, Reason: "must not be empty"}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, &ValidationError{Field: field, Reason: "must be an integer"}
	}
	return v, nil
}

// SortEntriesByRank orders entries ascending by rank, unranked entries
// last. The sort is stable so store order breaks ties.
func SortEntriesByRank(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		ri, rj := entries[i].Rank, entries[j].Rank
		switch {
		case ri == nil:
			return false
		case rj == nil:
			return true
		default:
			return *ri < *rj
		}
	})
}

// PartitionEntries groups an already-ordered entries slice by owning
// leaderboard, preserving the fetch order within each group.
func PartitionEntries(entries []Entry) map[LeaderboardID][]Entry {
	grouped := make(map[LeaderboardID][]Entry)
	for _, e := range entries {
		grouped[e.LeaderboardID] = append(grouped[e.LeaderboardID], e)
	}
	return grouped
}
