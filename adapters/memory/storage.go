package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rankboard/core"
)

// Publisher receives change notifications for every mutation.
type Publisher interface {
	Publish(ctx context.Context, ch core.Change)
}

// Store is a concurrent in-memory implementation of the remote data
// store, including the parts the real store owns: id and created_at
// assignment, rank assignment after every entry mutation, the delete
// cascade from a leaderboard to its entries, and the change feed.
//
// Ranks follow competition ranking: entries are ordered by descending
// score within a leaderboard, ties share a rank, and a gap follows.
type Store struct {
	mu      sync.Mutex
	boards  map[core.LeaderboardID]core.Leaderboard
	entries map[core.EntryID]core.Entry
	roles   map[core.UserID]map[core.Role]struct{}
	pub     Publisher
}

// Option configures the store.
type Option func(*Store)

// WithPublisher wires the change feed.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.pub = p }
}

func New(opts ...Option) *Store {
	s := &Store{
		boards:  map[core.LeaderboardID]core.Leaderboard{},
		entries: map[core.EntryID]core.Entry{},
		roles:   map[core.UserID]map[core.Role]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GrantRole records a role assignment. Stands in for rows seeded into
// the user_roles collection out of band.
func (s *Store) GrantRole(user core.UserID, role core.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roles[user] == nil {
		s.roles[user] = map[core.Role]struct{}{}
	}
	s.roles[user][role] = struct{}{}
}

func (s *Store) HasRole(_ context.Context, user core.UserID, role core.Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.roles[user][role]
	return ok, nil
}

func (s *Store) ListLeaderboards(_ context.Context) ([]core.Leaderboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Leaderboard, 0, len(s.boards))
	for _, lb := range s.boards {
		out = append(out, lb)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) CreateLeaderboard(ctx context.Context, name string, description *string) (core.Leaderboard, error) {
	s.mu.Lock()
	lb := core.Leaderboard{
		ID:          core.LeaderboardID(uuid.NewString()),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	s.boards[lb.ID] = lb
	s.mu.Unlock()

	s.publish(ctx, core.NewLeaderboardChange(core.ChangeInsert, lb.ID))
	return lb, nil
}

func (s *Store) UpdateLeaderboard(ctx context.Context, id core.LeaderboardID, name string, description *string) error {
	s.mu.Lock()
	lb, ok := s.boards[id]
	if !ok {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	lb.Name = name
	lb.Description = description
	s.boards[id] = lb
	s.mu.Unlock()

	s.publish(ctx, core.NewLeaderboardChange(core.ChangeUpdate, id))
	return nil
}

func (s *Store) DeleteLeaderboard(ctx context.Context, id core.LeaderboardID) error {
	s.mu.Lock()
	if _, ok := s.boards[id]; !ok {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	delete(s.boards, id)
	var cascaded []core.Entry
	for eid, e := range s.entries {
		if e.LeaderboardID == id {
			cascaded = append(cascaded, e)
			delete(s.entries, eid)
		}
	}
	s.mu.Unlock()

	s.publish(ctx, core.NewLeaderboardChange(core.ChangeDelete, id))
	for _, e := range cascaded {
		s.publish(ctx, core.NewEntryChange(core.ChangeDelete, e))
	}
	return nil
}

func (s *Store) ListEntries(_ context.Context, id core.LeaderboardID) ([]core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Entry
	for _, e := range s.entries {
		if e.LeaderboardID == id {
			out = append(out, e)
		}
	}
	core.SortEntriesByRank(out)
	return out, nil
}

func (s *Store) ListAllEntries(_ context.Context) ([]core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	core.SortEntriesByRank(out)
	return out, nil
}

func (s *Store) GetEntry(_ context.Context, id core.EntryID) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return core.Entry{}, core.ErrNotFound
	}
	return e, nil
}

func (s *Store) CreateEntry(ctx context.Context, board core.LeaderboardID, playerName string, score int64) (core.Entry, error) {
	s.mu.Lock()
	if _, ok := s.boards[board]; !ok {
		s.mu.Unlock()
		return core.Entry{}, core.ErrNotFound
	}
	e := core.Entry{
		ID:            core.EntryID(uuid.NewString()),
		LeaderboardID: board,
		PlayerName:    playerName,
		Score:         score,
	}
	s.entries[e.ID] = e
	s.rerankLocked(board)
	e = s.entries[e.ID]
	s.mu.Unlock()

	s.publish(ctx, core.NewEntryChange(core.ChangeInsert, e))
	return e, nil
}

func (s *Store) UpdateEntry(ctx context.Context, id core.EntryID, playerName string, score int64) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	e.PlayerName = playerName
	e.Score = score
	s.entries[id] = e
	s.rerankLocked(e.LeaderboardID)
	e = s.entries[id]
	s.mu.Unlock()

	s.publish(ctx, core.NewEntryChange(core.ChangeUpdate, e))
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id core.EntryID) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	delete(s.entries, id)
	s.rerankLocked(e.LeaderboardID)
	s.mu.Unlock()

	s.publish(ctx, core.NewEntryChange(core.ChangeDelete, e))
	return nil
}

func (s *Store) rerankLocked(board core.LeaderboardID) {
	var ids []core.EntryID
	for id, e := range s.entries {
		if e.LeaderboardID == board {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.entries[ids[i]].Score > s.entries[ids[j]].Score
	})
	var prevScore int64
	var prevRank int64
	for i, id := range ids {
		e := s.entries[id]
		rank := int64(i + 1)
		if i > 0 && e.Score == prevScore {
			rank = prevRank
		}
		e.Rank = &rank
		s.entries[id] = e
		prevScore, prevRank = e.Score, rank
	}
}

func (s *Store) publish(ctx context.Context, ch core.Change) {
	if s.pub != nil {
		s.pub.Publish(ctx, ch)
	}
}
