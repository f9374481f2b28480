// Package stats aggregates the store into per-leaderboard figures for
// operators: entry counts, score totals, and top players. It follows
// the same coarse invalidation contract as the public directory: any
// entry change triggers a full rebuild from the store.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rankboard/core"
	"rankboard/engine"
	"rankboard/ranking"
)

// TopPlayer is one of a board's highest scorers.
type TopPlayer struct {
	EntryID    core.EntryID `json:"entry_id"`
	PlayerName string       `json:"player_name"`
	Score      int64        `json:"score"`
}

// BoardStats summarizes one leaderboard.
type BoardStats struct {
	LeaderboardID core.LeaderboardID `json:"leaderboard_id"`
	Name          string             `json:"name"`
	EntryCount    int                `json:"entry_count"`
	TotalScore    int64              `json:"total_score"`
	TopPlayers    []TopPlayer        `json:"top_players,omitempty"`
}

// Report is the collector's output: board summaries ordered like the
// directory (newest board first), plus totals.
type Report struct {
	Boards       []BoardStats `json:"boards"`
	BoardCount   int          `json:"board_count"`
	EntryCount   int          `json:"entry_count"`
	GeneratedAt  time.Time    `json:"generated_at"`
	RebuildCount int64        `json:"-"`
}

// topPlayerCount mirrors the medal tiers on the public view.
const topPlayerCount = 3

// Collector watches the change feed and keeps an aggregated report.
type Collector struct {
	storage engine.Storage
	feed    engine.ChangeFeed
	logger  *slog.Logger

	mu     sync.RWMutex
	report Report

	subID   int
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

func NewCollector(storage engine.Storage, feed engine.ChangeFeed, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		storage: storage,
		feed:    feed,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start builds the initial report and begins watching for entry
// changes. Leaderboard-only changes are covered too: renames and
// deletions alter the summaries.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.started = true
	if err := c.Rebuild(ctx); err != nil {
		c.logger.Warn("initial stats rebuild failed", "error", err)
	}
	if c.feed == nil {
		close(c.done)
		return
	}
	id, changes := c.feed.Subscribe(16)
	c.subID = id
	go func() {
		defer close(c.done)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				if err := c.Rebuild(ctx); err != nil {
					c.logger.Warn("stats rebuild failed", "error", err)
				}
			}
		}
	}()
}

// Close stops the watcher. Closing a collector that never started is a
// no-op.
func (c *Collector) Close() {
	if !c.started {
		return
	}
	c.cancel()
	if c.feed != nil {
		c.feed.Unsubscribe(c.subID)
	}
	<-c.done
}

// Rebuild refetches everything and recomputes the report. A failed
// rebuild keeps the previous report in place.
func (c *Collector) Rebuild(ctx context.Context) error {
	boards, err := c.storage.ListLeaderboards(ctx)
	if err != nil {
		return err
	}
	var entries []core.Entry
	if len(boards) > 0 {
		entries, err = c.storage.ListAllEntries(ctx)
		if err != nil {
			return err
		}
	}

	byBoard := map[core.LeaderboardID][]core.Entry{}
	for _, e := range entries {
		byBoard[e.LeaderboardID] = append(byBoard[e.LeaderboardID], e)
	}

	report := Report{
		Boards:      make([]BoardStats, 0, len(boards)),
		BoardCount:  len(boards),
		EntryCount:  len(entries),
		GeneratedAt: time.Now().UTC(),
	}
	for _, b := range boards {
		report.Boards = append(report.Boards, summarize(b, byBoard[b.ID]))
	}

	c.mu.Lock()
	report.RebuildCount = c.report.RebuildCount + 1
	c.report = report
	c.mu.Unlock()
	return nil
}

// summarize folds one board's entries through a score index so top
// players come out ordered regardless of input order.
func summarize(b core.Leaderboard, entries []core.Entry) BoardStats {
	s := BoardStats{
		LeaderboardID: b.ID,
		Name:          b.Name,
		EntryCount:    len(entries),
	}
	index := ranking.NewSkipList()
	names := make(map[core.EntryID]string, len(entries))
	for _, e := range entries {
		s.TotalScore += e.Score
		index.Update(e.ID, e.Score)
		names[e.ID] = e.PlayerName
	}
	for _, top := range index.TopN(topPlayerCount) {
		s.TopPlayers = append(s.TopPlayers, TopPlayer{
			EntryID:    top.ID,
			PlayerName: names[top.ID],
			Score:      top.Score,
		})
	}
	return s
}

// Snapshot returns the current report.
func (c *Collector) Snapshot() Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.report
}
