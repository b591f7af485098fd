// Print Worker Core is a desktop print bridge service.
//
// Copyright (C) 2026  Print Worker Core Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package session implements the Session Manager: restoring or
// refreshing the backend session and resolving which restaurant the
// signed-in user operates under.
package session

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"printbridge/internal/backend"
	"printbridge/pkg/bridge"
)

// Backend is the subset of backend.Client the Session Manager needs. It is
// an interface so tests can substitute a fake.
type Backend interface {
	SetToken(token string)
	Call(ctx context.Context, fn string, args map[string]any, out any) error
	Select(ctx context.Context, table string, query url.Values, out any) error
	SelectOne(ctx context.Context, table string, query url.Values, out any) (bool, error)
}

var _ Backend = (*backend.Client)(nil)

// Store is the subset of store.Store the Session Manager needs to persist
// refreshed tokens.
type Store interface {
	Save(cfg bridge.AgentConfig, session bridge.SessionSnapshot) error
}

// Manager resolves and maintains the signed-in user and restaurant scope.
type Manager struct {
	backend Backend
	store   Store
	cfg     func() bridge.AgentConfig
}

// New constructs a Manager. cfgFn supplies the current config at save time
// so refreshed tokens are persisted alongside it without the Manager
// owning config state itself.
func New(b Backend, s Store, cfgFn func() bridge.AgentConfig) *Manager {
	return &Manager{backend: b, store: s, cfg: cfgFn}
}

type currentUserResponse struct {
	User *bridge.User `json:"user"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    *int64 `json:"expires_at"`
	User         *bridge.User `json:"user"`
}

// EnsureSignedIn adopts the backend's current user if one is already
// authenticated, otherwise attempts to restore the session from the
// persisted snapshot. On success it returns the resolved user; on failure
// it returns bridge.ErrSessionAbsent or bridge.ErrSessionInvalid.
func (m *Manager) EnsureSignedIn(ctx context.Context, session bridge.SessionSnapshot) (*bridge.User, bridge.SessionSnapshot, error) {
	var cur currentUserResponse
	if err := m.backend.Call(ctx, "auth_current_user", nil, &cur); err == nil && cur.User != nil {
		return cur.User, session, nil
	}

	if session.Empty() {
		return nil, session, bridge.ErrSessionAbsent
	}

	m.backend.SetToken(session.RefreshToken)
	var refreshed refreshResponse
	if err := m.backend.Call(ctx, "auth_refresh_session", map[string]any{
		"refresh_token": session.RefreshToken,
	}, &refreshed); err != nil {
		return nil, session, fmt.Errorf("%w: %s", bridge.ErrSessionInvalid, err)
	}
	if refreshed.User == nil || refreshed.AccessToken == "" {
		return nil, session, bridge.ErrSessionInvalid
	}

	newSession := bridge.SessionSnapshot{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		ExpiresAt:    refreshed.ExpiresAt,
	}
	m.backend.SetToken(newSession.AccessToken)

	if !bridge.SameSession(session, newSession) {
		if err := m.store.Save(m.cfg(), newSession); err != nil {
			return refreshed.User, newSession, fmt.Errorf("session: persist refreshed tokens: %w", err)
		}
	}
	return refreshed.User, newSession, nil
}

type ownedRestaurant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	CreatedAt time.Time `json:"created_at"`
}

type roleMembership struct {
	RestaurantID string    `json:"restaurant_id"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type restaurantRow struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
}

// ResolveRestaurantForCurrentUser picks the restaurant a signed-in user
// operates under: owned restaurants win outright (most recent first);
// otherwise the best-ranked role membership is chosen, ties broken by
// earliest membership. Returns nil, nil when the user has no scope at all.
func (m *Manager) ResolveRestaurantForCurrentUser(ctx context.Context, userID string) (*bridge.RestaurantScope, error) {
	var owned []ownedRestaurant
	ownedQuery := url.Values{"owner_id": {"eq." + userID}, "order": {"created_at.desc"}}
	if err := m.backend.Select(ctx, "restaurants", ownedQuery, &owned); err != nil {
		return nil, fmt.Errorf("session: query owned restaurants: %w", err)
	}
	if len(owned) > 0 {
		r := owned[0]
		return &bridge.RestaurantScope{ID: r.ID, Name: r.Name, City: r.City, Role: bridge.RoleOwner}, nil
	}

	var memberships []roleMembership
	memberQuery := url.Values{
		"user_id": {"eq." + userID},
		"role":    {"in.(admin,manager,staff)"},
	}
	if err := m.backend.Select(ctx, "user_roles", memberQuery, &memberships); err != nil {
		return nil, fmt.Errorf("session: query role memberships: %w", err)
	}
	if len(memberships) == 0 {
		return nil, nil
	}

	sort.SliceStable(memberships, func(i, j int) bool {
		ri, rj := bridge.Role(memberships[i].Role).Rank(), bridge.Role(memberships[j].Role).Rank()
		if ri != rj {
			return ri < rj
		}
		return memberships[i].CreatedAt.Before(memberships[j].CreatedAt)
	})

	best := memberships[0]
	var row restaurantRow
	ok, err := m.backend.SelectOne(ctx, "restaurants", url.Values{"id": {"eq." + best.RestaurantID}}, &row)
	if err != nil {
		return nil, fmt.Errorf("session: fetch restaurant %s: %w", best.RestaurantID, err)
	}
	if !ok {
		return nil, nil
	}
	return &bridge.RestaurantScope{ID: row.ID, Name: row.Name, City: row.City, Role: bridge.Role(best.Role)}, nil
}
