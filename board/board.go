// Package board assembles the leaderboard service from its parts:
// storage, change fan-out, the public directory, and the session gate.
// It is the composition root used by the server binary and by tests
// that want a whole stack without hand-wiring.
package board

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"rankboard/adapters/memory"
	"rankboard/core"
	"rankboard/engine"
	"rankboard/integrations/webhook"
	"rankboard/metrics"
	"rankboard/realtime"
	"rankboard/session"
)

// Store is what the assembled service needs from persistence.
type Store interface {
	engine.Storage
	engine.RoleStore
}

// Publisher receives change notifications from the store.
type Publisher interface {
	Publish(ctx context.Context, ch core.Change)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, ch core.Change)

func (f PublisherFunc) Publish(ctx context.Context, ch core.Change) { f(ctx, ch) }

// Fanout relays each change to every attached publisher. Pass one to
// the storage adapter's WithPublisher, then let New attach the hub and
// any sinks to it.
type Fanout struct {
	mu      sync.RWMutex
	targets []Publisher
}

func NewFanout() *Fanout { return &Fanout{} }

// Attach adds a publisher to the fan-out set.
func (f *Fanout) Attach(p Publisher) {
	if p == nil {
		return
	}
	f.mu.Lock()
	f.targets = append(f.targets, p)
	f.mu.Unlock()
}

func (f *Fanout) Publish(ctx context.Context, ch core.Change) {
	f.mu.RLock()
	targets := f.targets
	f.mu.RUnlock()
	for _, p := range targets {
		p.Publish(ctx, ch)
	}
}

// Credential seeds one email/password pair into the static
// authenticator.
type Credential struct {
	Email    string
	Password string
}

// Option configures the service builder.
type Option func(*config)

type config struct {
	store    Store
	fanout   *Fanout
	hub      *realtime.Hub
	auth     session.Authenticator
	logger   *slog.Logger
	admins   []Credential
	users    []Credential
	webhooks []string
	metrics  bool
}

// WithStore sets the persistence adapter. The caller is responsible for
// constructing it with the Fanout passed via WithFanout so changes
// reach the hub.
func WithStore(s Store) Option { return func(c *config) { c.store = s } }

// WithFanout supplies the fan-out already wired into an external store.
func WithFanout(f *Fanout) Option { return func(c *config) { c.fanout = f } }

// WithHub sets the realtime hub.
func WithHub(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithAuthenticator replaces the static credential set with an external
// identity source. Seeded credentials only apply to the static set.
func WithAuthenticator(a session.Authenticator) Option { return func(c *config) { c.auth = a } }

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

// WithAdmins seeds admin accounts: credentials plus the admin role.
func WithAdmins(creds ...Credential) Option {
	return func(c *config) { c.admins = append(c.admins, creds...) }
}

// WithUsers seeds non-admin accounts.
func WithUsers(creds ...Credential) Option {
	return func(c *config) { c.users = append(c.users, creds...) }
}

// WithWebhooks posts every change to the given endpoints.
func WithWebhooks(endpoints []string) Option {
	return func(c *config) { c.webhooks = append(c.webhooks, endpoints...) }
}

// WithMetrics counts published changes in the Prometheus registry.
func WithMetrics(enabled bool) Option { return func(c *config) { c.metrics = enabled } }

// App is the assembled service.
type App struct {
	Store     Store
	Fanout    *Fanout
	Hub       *realtime.Hub
	Directory *engine.Directory
	Sessions  *session.Manager
	Gate      *session.Gate
	Logger    *slog.Logger

	webhookBus *engine.ChangeBus
}

// roleGranter covers adapters whose role writes can fail.
type roleGranter interface {
	GrantRole(ctx context.Context, user core.UserID, role core.Role) error
}

// localRoleGranter covers purely in-process adapters.
type localRoleGranter interface {
	GrantRole(user core.UserID, role core.Role)
}

// fileRoleGranter covers local adapters whose writes persist to disk.
type fileRoleGranter interface {
	GrantRole(user core.UserID, role core.Role) error
}

// New builds a configured App. Defaults: in-memory storage, a fresh
// hub, and the static authenticator fed by WithAdmins/WithUsers.
func New(opts ...Option) (*App, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.hub == nil {
		cfg.hub = realtime.NewHub()
	}
	if cfg.fanout == nil {
		cfg.fanout = NewFanout()
	}
	if cfg.store == nil {
		cfg.store = memory.New(memory.WithPublisher(cfg.fanout))
	}

	hub := cfg.hub
	cfg.fanout.Attach(PublisherFunc(func(ctx context.Context, ch core.Change) {
		hub.Broadcast(ctx, ch)
	}))
	if cfg.metrics {
		cfg.fanout.Attach(PublisherFunc(func(_ context.Context, ch core.Change) {
			metrics.RecordChange(string(ch.Table), string(ch.Type))
		}))
	}
	// Webhook delivery goes through an async bus so slow endpoints never
	// block store writes.
	var bus *engine.ChangeBus
	if len(cfg.webhooks) > 0 {
		bus = engine.NewChangeBus(engine.DispatchAsync)
		sink := webhook.New(cfg.webhooks)
		bus.SubscribeAll(sink.Publish)
		cfg.fanout.Attach(bus)
	}

	if cfg.auth == nil {
		static := session.NewStaticAuthenticator()
		for _, cred := range cfg.users {
			static.AddUser("", cred.Email, cred.Password)
		}
		for _, cred := range cfg.admins {
			id := static.AddUser("", cred.Email, cred.Password)
			if err := grantAdmin(cfg.store, id); err != nil {
				return nil, err
			}
		}
		cfg.auth = static
	} else if len(cfg.admins) > 0 || len(cfg.users) > 0 {
		return nil, errors.New("seeded credentials require the static authenticator")
	}

	// Wrap after seeding: role grants go through the adapter's own API,
	// reads and writes from here on are timed.
	if cfg.metrics {
		cfg.store = newTimedStore(cfg.store)
	}

	sessions := session.NewManager(cfg.auth)
	gate := session.NewGate(sessions, cfg.store)
	directory := engine.NewDirectory(cfg.store, cfg.hub, cfg.logger)

	return &App{
		Store:      cfg.store,
		Fanout:     cfg.fanout,
		Hub:        cfg.hub,
		Directory:  directory,
		Sessions:   sessions,
		Gate:       gate,
		Logger:     cfg.logger,
		webhookBus: bus,
	}, nil
}

func grantAdmin(store Store, id core.UserID) error {
	switch s := store.(type) {
	case localRoleGranter:
		s.GrantRole(id, core.RoleAdmin)
		return nil
	case fileRoleGranter:
		return s.GrantRole(id, core.RoleAdmin)
	case roleGranter:
		return s.GrantRole(context.Background(), id, core.RoleAdmin)
	default:
		return errors.New("store cannot grant roles")
	}
}

// Start begins watching the change feed and loads the first directory
// snapshot.
func (a *App) Start(ctx context.Context) { a.Directory.Start(ctx) }

// Close stops the directory watcher and the webhook dispatch workers.
func (a *App) Close() {
	a.Directory.Close()
	if a.webhookBus != nil {
		a.webhookBus.Close()
	}
}
