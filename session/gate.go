package session

import (
	"context"

	"rankboard/core"
)

// State is the gate's decision for a request bearing (or lacking) a
// session token.
type State string

const (
	// StateAnonymous routes to the auth entry point.
	StateAnonymous State = "anonymous"
	// StateAuthenticatedNonAdmin routes back to the public view with a
	// rejection notice.
	StateAuthenticatedNonAdmin State = "authenticated_non_admin"
	// StateAuthenticatedAdmin admits to the console.
	StateAuthenticatedAdmin State = "authenticated_admin"
)

// RoleStore answers role-membership questions; backed by the store's
// read-only user_roles collection.
type RoleStore interface {
	HasRole(ctx context.Context, user core.UserID, role core.Role) (bool, error)
}

// Gate decides admission to admin surfaces. Role lookup errors resolve
// to non-admin: the console never renders without a positive role
// assertion.
type Gate struct {
	manager *Manager
	roles   RoleStore
}

func NewGate(manager *Manager, roles RoleStore) *Gate {
	return &Gate{manager: manager, roles: roles}
}

// Check resolves a bearer token to a gate state. The returned session
// is zero for StateAnonymous.
func (g *Gate) Check(ctx context.Context, token string) (State, Session, error) {
	if token == "" {
		return StateAnonymous, Session{}, nil
	}
	s, ok := g.manager.Lookup(token)
	if !ok {
		return StateAnonymous, Session{}, nil
	}
	isAdmin, err := g.roles.HasRole(ctx, s.UserID, core.RoleAdmin)
	if err != nil {
		return StateAuthenticatedNonAdmin, s, core.NewStoreError("role lookup", err)
	}
	if !isAdmin {
		return StateAuthenticatedNonAdmin, s, nil
	}
	return StateAuthenticatedAdmin, s, nil
}

// Authorize is Check collapsed to an error: ErrNoSession for anonymous
// callers, ErrNotAuthorized for authenticated non-admins.
func (g *Gate) Authorize(ctx context.Context, token string) (Session, error) {
	state, s, err := g.Check(ctx, token)
	if err != nil {
		return s, err
	}
	switch state {
	case StateAuthenticatedAdmin:
		return s, nil
	case StateAuthenticatedNonAdmin:
		return s, core.ErrNotAuthorized
	default:
		return Session{}, core.ErrNoSession
	}
}
