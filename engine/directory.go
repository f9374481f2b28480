package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rankboard/core"
)

// Snapshot is the directory's best-known view of the store: all
// leaderboards, newest first, with their entries in ascending rank
// order. Callers must treat a returned Snapshot as immutable.
type Snapshot struct {
	Leaderboards   []core.Leaderboard                     `json:"leaderboards"`
	EntriesByBoard map[core.LeaderboardID][]core.Entry    `json:"entries_by_board"`
	FetchedAt      time.Time                              `json:"fetched_at"`
}

// Directory keeps the public leaderboard view in sync with the store.
// All local state is a cache: any entry change notification, regardless
// of which leaderboard it touches, triggers a full refetch. A failed
// fetch is logged and leaves the previous snapshot in place; manual
// refresh is the user's recourse.
type Directory struct {
	storage Storage
	feed    ChangeFeed
	logger  *slog.Logger

	mu         sync.Mutex
	snap       Snapshot
	loaded     bool
	refreshing bool

	startOnce sync.Once
	closeOnce sync.Once
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

func NewDirectory(storage Storage, feed ChangeFeed, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		storage: storage,
		feed:    feed,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start performs the initial load and establishes the standing
// change-feed subscription. The subscription lives until Close; it is
// established exactly once per Directory.
func (d *Directory) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		_ = d.refetch(ctx, false)
		id, ch := d.feed.Subscribe(16)
		d.started = true
		go d.watch(id, ch)
	})
}

// Close tears down the change-feed subscription. No subscription
// outlives the directory.
func (d *Directory) Close() {
	d.closeOnce.Do(func() {
		close(d.stop)
		if d.started {
			<-d.done
		}
	})
}

func (d *Directory) watch(id int, ch <-chan core.Change) {
	defer close(d.done)
	defer d.feed.Unsubscribe(id)
	for {
		select {
		case change, ok := <-ch:
			if !ok {
				return
			}
			// Coarse invalidation: any entry change refetches everything.
			if change.Table != core.TableEntries {
				continue
			}
			_ = d.refetch(context.Background(), false)
		case <-d.stop:
			return
		}
	}
}

// Refresh re-runs the full fetch sequence on user request. While it
// runs, Refreshing reports true so already-rendered content can stay
// visible behind a distinct in-progress indicator.
func (d *Directory) Refresh(ctx context.Context) error {
	return d.refetch(ctx, true)
}

func (d *Directory) refetch(ctx context.Context, manual bool) error {
	if manual {
		d.mu.Lock()
		d.refreshing = true
		d.mu.Unlock()
	}
	defer func() {
		d.mu.Lock()
		d.loaded = true
		if manual {
			d.refreshing = false
		}
		d.mu.Unlock()
	}()

	boards, err := d.storage.ListLeaderboards(ctx)
	if err != nil {
		d.logger.Error("directory fetch failed", "error", err)
		return core.NewStoreError("list leaderboards", err)
	}

	var entries []core.Entry
	if len(boards) > 0 {
		entries, err = d.storage.ListAllEntries(ctx)
		if err != nil {
			d.logger.Error("directory fetch failed", "error", err)
			return core.NewStoreError("list entries", err)
		}
	}

	// Concurrent refetches race by design: the last one to get here
	// wins and overwrites the displayed snapshot wholesale.
	d.mu.Lock()
	d.snap = Snapshot{
		Leaderboards:   boards,
		EntriesByBoard: core.PartitionEntries(entries),
		FetchedAt:      time.Now().UTC(),
	}
	d.mu.Unlock()
	return nil
}

// Snapshot returns the current best-known view.
func (d *Directory) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snap
}

// Loading reports whether the initial load has not yet completed.
func (d *Directory) Loading() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.loaded
}

// Refreshing reports whether a manual refresh is in flight.
func (d *Directory) Refreshing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refreshing
}
