package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rankboard/core"
)

// Channel carries change notifications between processes.
const Channel = "rankboard:changes"

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Publisher receives change notifications for every mutation.
type Publisher interface {
	Publish(ctx context.Context, ch core.Change)
}

// Store implements the engine.Storage interface using Redis as the backend.
// Data structure:
// - board:{id} -> hash {name, description?, created_at}
// - boards -> zset of board ids scored by created_at (unix millis)
// - entry:{id} -> hash {board, player}
// - board:{id}:entries -> zset of entry ids scored by entry score
// - roles:{user_id} -> set of role strings
// Ranks are derived at read time from the entries zset, competition
// style: ties share a rank, a gap follows. Every mutation is published
// on Channel so other processes can invalidate.
type Store struct {
	client *redis.Client
	pub    Publisher
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// WithPublisher attaches an in-process change publisher in addition to
// the cross-process pub/sub channel.
func (s *Store) WithPublisher(p Publisher) *Store {
	s.pub = p
	return s
}

// Client exposes the underlying connection so companions like the
// pub/sub listener can share it.
func (s *Store) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

const boardsKey = "boards"

func boardKey(id core.LeaderboardID) string {
	return fmt.Sprintf("board:%s", id)
}

func boardEntriesKey(id core.LeaderboardID) string {
	return fmt.Sprintf("board:%s:entries", id)
}

func entryKey(id core.EntryID) string {
	return fmt.Sprintf("entry:%s", id)
}

func rolesKey(user core.UserID) string {
	return fmt.Sprintf("roles:%s", user)
}

// Lua script for atomic entry update: rewrites the hash and moves the
// zset score in one step, failing cleanly when the entry is gone.
var updateEntryScript = redis.NewScript(`
	local entry_key = KEYS[1]
	local board = redis.call('HGET', entry_key, 'board')
	if not board then
		return redis.error_reply('entry not found')
	end
	redis.call('HSET', entry_key, 'player', ARGV[1], 'score', ARGV[2])
	redis.call('ZADD', 'board:' .. board .. ':entries', tonumber(ARGV[2]), ARGV[3])
	return board
`)

func (s *Store) ListLeaderboards(ctx context.Context) ([]core.Leaderboard, error) {
	// Newest first: the zset is scored by creation time.
	ids, err := s.client.ZRevRange(ctx, boardsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list leaderboards: %w", err)
	}
	out := make([]core.Leaderboard, 0, len(ids))
	for _, id := range ids {
		lb, err := s.getLeaderboard(ctx, core.LeaderboardID(id))
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, lb)
	}
	return out, nil
}

func (s *Store) getLeaderboard(ctx context.Context, id core.LeaderboardID) (core.Leaderboard, error) {
	fields, err := s.client.HGetAll(ctx, boardKey(id)).Result()
	if err != nil {
		return core.Leaderboard{}, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	if len(fields) == 0 {
		return core.Leaderboard{}, core.ErrNotFound
	}
	lb := core.Leaderboard{ID: id, Name: fields["name"]}
	if desc, ok := fields["description"]; ok {
		lb.Description = &desc
	}
	if created, ok := fields["created_at"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			lb.CreatedAt = ts
		}
	}
	return lb, nil
}

func (s *Store) CreateLeaderboard(ctx context.Context, name string, description *string) (core.Leaderboard, error) {
	lb := core.Leaderboard{
		ID:          core.LeaderboardID(uuid.NewString()),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	values := []any{"name", lb.Name, "created_at", lb.CreatedAt.Format(time.RFC3339Nano)}
	if description != nil {
		values = append(values, "description", *description)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, boardKey(lb.ID), values...)
	pipe.ZAdd(ctx, boardsKey, redis.Z{
		Score:  float64(lb.CreatedAt.UnixMilli()),
		Member: string(lb.ID),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return core.Leaderboard{}, fmt.Errorf("failed to create leaderboard: %w", err)
	}

	s.publish(ctx, core.NewLeaderboardChange(core.ChangeInsert, lb.ID))
	return lb, nil
}

func (s *Store) UpdateLeaderboard(ctx context.Context, id core.LeaderboardID, name string, description *string) error {
	exists, err := s.client.Exists(ctx, boardKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to update leaderboard: %w", err)
	}
	if exists == 0 {
		return core.ErrNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, boardKey(id), "name", name)
	if description != nil {
		pipe.HSet(ctx, boardKey(id), "description", *description)
	} else {
		pipe.HDel(ctx, boardKey(id), "description")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update leaderboard: %w", err)
	}

	s.publish(ctx, core.NewLeaderboardChange(core.ChangeUpdate, id))
	return nil
}

func (s *Store) DeleteLeaderboard(ctx context.Context, id core.LeaderboardID) error {
	exists, err := s.client.Exists(ctx, boardKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete leaderboard: %w", err)
	}
	if exists == 0 {
		return core.ErrNotFound
	}

	// Cascade: the store owns entry removal for a deleted leaderboard.
	cascaded, err := s.ListEntries(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, e := range cascaded {
		pipe.Del(ctx, entryKey(e.ID))
	}
	pipe.Del(ctx, boardEntriesKey(id))
	pipe.Del(ctx, boardKey(id))
	pipe.ZRem(ctx, boardsKey, string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete leaderboard: %w", err)
	}

	s.publish(ctx, core.NewLeaderboardChange(core.ChangeDelete, id))
	for _, e := range cascaded {
		s.publish(ctx, core.NewEntryChange(core.ChangeDelete, e))
	}
	return nil
}

func (s *Store) ListEntries(ctx context.Context, id core.LeaderboardID) ([]core.Entry, error) {
	members, err := s.client.ZRevRangeWithScores(ctx, boardEntriesKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	out := make([]core.Entry, 0, len(members))
	var prevScore int64
	var prevRank int64
	for i, m := range members {
		eid := core.EntryID(m.Member.(string))
		fields, err := s.client.HGetAll(ctx, entryKey(eid)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get entry: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		score := int64(m.Score)
		rank := int64(i + 1)
		if i > 0 && score == prevScore {
			rank = prevRank
		}
		prevScore, prevRank = score, rank
		r := rank
		out = append(out, core.Entry{
			ID:            eid,
			LeaderboardID: id,
			PlayerName:    fields["player"],
			Score:         score,
			Rank:          &r,
		})
	}
	return out, nil
}

func (s *Store) ListAllEntries(ctx context.Context) ([]core.Entry, error) {
	ids, err := s.client.ZRange(ctx, boardsKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list leaderboards: %w", err)
	}
	var out []core.Entry
	for _, id := range ids {
		entries, err := s.ListEntries(ctx, core.LeaderboardID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func (s *Store) GetEntry(ctx context.Context, id core.EntryID) (core.Entry, error) {
	fields, err := s.client.HGetAll(ctx, entryKey(id)).Result()
	if err != nil {
		return core.Entry{}, fmt.Errorf("failed to get entry: %w", err)
	}
	if len(fields) == 0 {
		return core.Entry{}, core.ErrNotFound
	}
	board := core.LeaderboardID(fields["board"])
	score, err := s.client.ZScore(ctx, boardEntriesKey(board), string(id)).Result()
	if err != nil {
		return core.Entry{}, fmt.Errorf("failed to get entry score: %w", err)
	}
	// Competition rank: one more than the count of strictly higher scores.
	higher, err := s.client.ZCount(ctx, boardEntriesKey(board),
		fmt.Sprintf("(%d", int64(score)), "+inf").Result()
	if err != nil {
		return core.Entry{}, fmt.Errorf("failed to rank entry: %w", err)
	}
	rank := higher + 1
	return core.Entry{
		ID:            id,
		LeaderboardID: board,
		PlayerName:    fields["player"],
		Score:         int64(score),
		Rank:          &rank,
	}, nil
}

func (s *Store) CreateEntry(ctx context.Context, board core.LeaderboardID, playerName string, score int64) (core.Entry, error) {
	exists, err := s.client.Exists(ctx, boardKey(board)).Result()
	if err != nil {
		return core.Entry{}, fmt.Errorf("failed to create entry: %w", err)
	}
	if exists == 0 {
		return core.Entry{}, core.ErrNotFound
	}
	id := core.EntryID(uuid.NewString())
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, entryKey(id), "board", string(board), "player", playerName, "score", score)
	pipe.ZAdd(ctx, boardEntriesKey(board), redis.Z{Score: float64(score), Member: string(id)})
	if _, err := pipe.Exec(ctx); err != nil {
		return core.Entry{}, fmt.Errorf("failed to create entry: %w", err)
	}

	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return core.Entry{}, err
	}
	s.publish(ctx, core.NewEntryChange(core.ChangeInsert, e))
	return e, nil
}

func (s *Store) UpdateEntry(ctx context.Context, id core.EntryID, playerName string, score int64) error {
	_, err := updateEntryScript.Run(ctx, s.client, []string{entryKey(id)},
		playerName, score, string(id)).Result()
	if err != nil {
		if isNotFoundReply(err) {
			return core.ErrNotFound
		}
		return fmt.Errorf("failed to update entry: %w", err)
	}

	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, core.NewEntryChange(core.ChangeUpdate, e))
	return nil
}

func (s *Store) DeleteEntry(ctx context.Context, id core.EntryID) error {
	e, err := s.GetEntry(ctx, id)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKey(id))
	pipe.ZRem(ctx, boardEntriesKey(e.LeaderboardID), string(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	s.publish(ctx, core.NewEntryChange(core.ChangeDelete, e))
	return nil
}

// GrantRole adds a role to the user's role set. Stands in for rows
// seeded into the user_roles collection out of band.
func (s *Store) GrantRole(ctx context.Context, user core.UserID, role core.Role) error {
	if err := s.client.SAdd(ctx, rolesKey(user), string(role)).Err(); err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	return nil
}

func (s *Store) HasRole(ctx context.Context, user core.UserID, role core.Role) (bool, error) {
	ok, err := s.client.SIsMember(ctx, rolesKey(user), string(role)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check role: %w", err)
	}
	return ok, nil
}

func (s *Store) publish(ctx context.Context, ch core.Change) {
	if s.pub != nil {
		s.pub.Publish(ctx, ch)
	}
	if data, err := json.Marshal(ch); err == nil {
		// Best-effort: a dropped notification only delays invalidation
		// until the next manual refresh.
		_ = s.client.Publish(ctx, Channel, data).Err()
	}
}

func isNotFoundReply(err error) bool {
	return err != nil && err.Error() == "entry not found"
}
