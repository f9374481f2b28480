package engine

import (
	"context"
	"sync"
	"time"

	"rankboard/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

type subscription struct {
	id  int64
	typ core.ChangeType
	fn  func(context.Context, core.Change)
}

// ChangeBus is the in-process side of the store's change-notification
// feed: adapters publish record changes, consumers subscribe by change
// type. Thread-safe with sync and async dispatch.
type ChangeBus struct {
	mode         DispatchMode
	mu           sync.RWMutex
	subs         map[core.ChangeType]map[int64]subscription
	nextID       int64
	asyncQueue   chan core.Change
	asyncWorkers int
	ctx          context.Context
	cancel       context.CancelFunc
}

func NewChangeBus(mode DispatchMode) *ChangeBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &ChangeBus{
		mode:         mode,
		subs:         make(map[core.ChangeType]map[int64]subscription),
		asyncQueue:   make(chan core.Change, 2048),
		asyncWorkers: 4,
		ctx:          ctx,
		cancel:       cancel,
	}
	if mode == DispatchAsync {
		b.startWorkers()
	}
	return b
}

func (b *ChangeBus) startWorkers() {
	for i := 0; i < b.asyncWorkers; i++ {
		go func() {
			for {
				select {
				case ch := <-b.asyncQueue:
					b.dispatchSync(context.Background(), ch)
				case <-b.ctx.Done():
					return
				}
			}
		}()
	}
}

// Close stops async workers.
func (b *ChangeBus) Close() {
	b.cancel()
	// allow workers to drain briefly
	time.Sleep(10 * time.Millisecond)
}

// Subscribe registers a handler for one change type. Returns an
// unsubscribe func.
func (b *ChangeBus) Subscribe(typ core.ChangeType, handler func(context.Context, core.Change)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[typ] == nil {
		b.subs[typ] = make(map[int64]subscription)
	}
	b.subs[typ][id] = subscription{id: id, typ: typ, fn: handler}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m := b.subs[typ]; m != nil {
			delete(m, id)
		}
	}
}

// SubscribeAll registers a handler for inserts, updates, and deletes
// alike. The change feed contract is unfiltered: any mutation is an
// invalidation signal.
func (b *ChangeBus) SubscribeAll(handler func(context.Context, core.Change)) func() {
	cancels := []func(){
		b.Subscribe(core.ChangeInsert, handler),
		b.Subscribe(core.ChangeUpdate, handler),
		b.Subscribe(core.ChangeDelete, handler),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

// Publish sends a change to subscribers.
func (b *ChangeBus) Publish(ctx context.Context, ch core.Change) {
	if b.mode == DispatchAsync {
		select {
		case b.asyncQueue <- ch:
		default:
			// Drop if queue full to preserve latency; alternative is blocking
		}
		return
	}
	b.dispatchSync(ctx, ch)
}

func (b *ChangeBus) dispatchSync(ctx context.Context, ch core.Change) {
	b.mu.RLock()
	subs := b.subs[ch.Type]
	// copy to avoid holding lock during callbacks
	handlers := make([]func(context.Context, core.Change), 0, len(subs))
	for _, s := range subs {
		handlers = append(handlers, s.fn)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, ch)
	}
}
