package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
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

// Store persists entire state to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	pub  Publisher
	mu   sync.Mutex
	// in-memory cache for speed
	data state
}

type state struct {
	Leaderboards map[core.LeaderboardID]core.Leaderboard `json:"leaderboards"`
	Entries      map[core.EntryID]core.Entry             `json:"entries"`
	Roles        map[core.UserID][]core.Role             `json:"roles"`
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: state{
		Leaderboards: map[core.LeaderboardID]core.Leaderboard{},
		Entries:      map[core.EntryID]core.Entry{},
		Roles:        map[core.UserID][]core.Role{},
	}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

// WithPublisher attaches an in-process change publisher.
func (s *Store) WithPublisher(p Publisher) *Store {
	s.pub = p
	return s
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw state
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Leaderboards != nil {
		s.data.Leaderboards = raw.Leaderboards
	}
	if raw.Entries != nil {
		s.data.Entries = raw.Entries
	}
	if raw.Roles != nil {
		s.data.Roles = raw.Roles
	}
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) ListLeaderboards(_ context.Context) ([]core.Leaderboard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Leaderboard, 0, len(s.data.Leaderboards))
	for _, lb := range s.data.Leaderboards {
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
	s.data.Leaderboards[lb.ID] = lb
	if err := s.persist(); err != nil {
		delete(s.data.Leaderboards, lb.ID)
		s.mu.Unlock()
		return core.Leaderboard{}, err
	}
	s.mu.Unlock()

	s.publish(ctx, core.NewLeaderboardChange(core.ChangeInsert, lb.ID))
	return lb, nil
}

func (s *Store) UpdateLeaderboard(ctx context.Context, id core.LeaderboardID, name string, description *string) error {
	s.mu.Lock()
	lb, ok := s.data.Leaderboards[id]
	if !ok {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	prev := lb
	lb.Name = name
	lb.Description = description
	s.data.Leaderboards[id] = lb
	if err := s.persist(); err != nil {
		s.data.Leaderboards[id] = prev
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.publish(ctx, core.NewLeaderboardChange(core.ChangeUpdate, id))
	return nil
}

func (s *Store) DeleteLeaderboard(ctx context.Context, id core.LeaderboardID) error {
	s.mu.Lock()
	if _, ok := s.data.Leaderboards[id]; !ok {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	delete(s.data.Leaderboards, id)
	var cascaded []core.Entry
	for eid, e := range s.data.Entries {
		if e.LeaderboardID == id {
			cascaded = append(cascaded, e)
			delete(s.data.Entries, eid)
		}
	}
	err := s.persist()
	s.mu.Unlock()
	if err != nil {
		return err
	}

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
	for _, e := range s.data.Entries {
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
	out := make([]core.Entry, 0, len(s.data.Entries))
	for _, e := range s.data.Entries {
		out = append(out, e)
	}
	core.SortEntriesByRank(out)
	return out, nil
}

func (s *Store) GetEntry(_ context.Context, id core.EntryID) (core.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data.Entries[id]
	if !ok {
		return core.Entry{}, core.ErrNotFound
	}
	return e, nil
}

func (s *Store) CreateEntry(ctx context.Context, board core.LeaderboardID, playerName string, score int64) (core.Entry, error) {
	s.mu.Lock()
	if _, ok := s.data.Leaderboards[board]; !ok {
		s.mu.Unlock()
		return core.Entry{}, core.ErrNotFound
	}
	e := core.Entry{
		ID:            core.EntryID(uuid.NewString()),
		LeaderboardID: board,
		PlayerName:    playerName,
		Score:         score,
	}
	s.data.Entries[e.ID] = e
	s.rerankLocked(board)
	if err := s.persist(); err != nil {
		delete(s.data.Entries, e.ID)
		s.rerankLocked(board)
		s.mu.Unlock()
		return core.Entry{}, err
	}
	e = s.data.Entries[e.ID]
	s.mu.Unlock()

	s.publish(ctx, core.NewEntryChange(core.ChangeInsert, e))
	return e, nil
}

func (s *Store) UpdateEntry(ctx context.Context, id core.EntryID, playerName string, score int64) error {
	s.mu.Lock()
	e, ok := s.data.Entries[id]
	if !ok {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	prev := e
	e.PlayerName = playerName
	e.Score = score
	s.data.Entries[id] = e
	s.rerankLocked(e.LeaderboardID)
	if err := s.persist(); err != nil {
		s.data.Entries[id] = prev
		s.rerankLocked(prev.LeaderboardID)
		s.mu.Unlock()
		return err
	}
	e = s.data.Entries[id]
	s.mu.Unlock()

	s.publish(ctx, core.NewEntryChange(core.ChangeUpdate, e))
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id core.EntryID) error {
	s.mu.Lock()
	e, ok := s.data.Entries[id]
	if !ok {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	delete(s.data.Entries, id)
	s.rerankLocked(e.LeaderboardID)
	if err := s.persist(); err != nil {
		s.data.Entries[id] = e
		s.rerankLocked(e.LeaderboardID)
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.publish(ctx, core.NewEntryChange(core.ChangeDelete, e))
	return nil
}

// GrantRole records a role assignment.
func (s *Store) GrantRole(user core.UserID, role core.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.data.Roles[user] {
		if r == role {
			return nil
		}
	}
	s.data.Roles[user] = append(s.data.Roles[user], role)
	return s.persist()
}

func (s *Store) HasRole(_ context.Context, user core.UserID, role core.Role) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.data.Roles[user] {
		if r == role {
			return true, nil
		}
	}
	return false, nil
}

// rerankLocked reassigns competition ranks within one leaderboard:
// descending score, ties share a rank, a gap follows.
func (s *Store) rerankLocked(board core.LeaderboardID) {
	var ids []core.EntryID
	for id, e := range s.data.Entries {
		if e.LeaderboardID == board {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.data.Entries[ids[i]].Score > s.data.Entries[ids[j]].Score
	})
	var prevScore int64
	var prevRank int64
	for i, id := range ids {
		e := s.data.Entries[id]
		rank := int64(i + 1)
		if i > 0 && e.Score == prevScore {
			rank = prevRank
		}
		e.Rank = &rank
		s.data.Entries[id] = e
		prevScore, prevRank = e.Score, rank
	}
}

func (s *Store) publish(ctx context.Context, ch core.Change) {
	if s.pub != nil {
		s.pub.Publish(ctx, ch)
	}
}
