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

package bridge

// SessionSnapshot is the persisted authentication state for the signed-in
// backend user.
type SessionSnapshot struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    *int64 `json:"expiresAt"`
}

// Empty reports whether the snapshot carries no usable tokens.
func (s SessionSnapshot) Empty() bool {
	return s.AccessToken == "" && s.RefreshToken == ""
}

// SameSession is an equivalence relation over SessionSnapshot: reflexive,
// symmetric, and transitive by construction since it is plain field
// equality.
func SameSession(a, b SessionSnapshot) bool {
	if a.AccessToken != b.AccessToken || a.RefreshToken != b.RefreshToken {
		return false
	}
	switch {
	case a.ExpiresAt == nil && b.ExpiresAt == nil:
		return true
	case a.ExpiresAt == nil || b.ExpiresAt == nil:
		return false
	default:
		return *a.ExpiresAt == *b.ExpiresAt
	}
}

// Role ranks restaurant membership privilege, lowest value wins ties when
// resolving scope: owner < admin < manager < staff.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleStaff   Role = "staff"
)

// roleRank implements the total order used to pick the best membership
// when a user has more than one. Lower rank wins.
var roleRank = map[Role]int{
	RoleOwner:   0,
	RoleAdmin:   1,
	RoleManager: 2,
	RoleStaff:   3,
}

// Rank returns the privilege rank of r, or the lowest priority if r is
// not a recognized role.
func (r Role) Rank() int {
	if v, ok := roleRank[r]; ok {
		return v
	}
	return len(roleRank)
}

// RestaurantScope is the resolved restaurant the signed-in user operates
// under, with its privilege role.
type RestaurantScope struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	City string `json:"city"`
	Role Role   `json:"role"`
}

// User identifies the signed-in backend account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthState is in-memory authentication state: the signed-in user and
// their resolved restaurant scope.
type AuthState struct {
	User  *User            `json:"user"`
	Scope *RestaurantScope `json:"scope"`
}

// Clear resets auth state, used when the shell clears the session.
func (a *AuthState) Clear() {
	a.User = nil
	a.Scope = nil
}

// SignedIn reports whether a user is currently associated with this state.
func (a *AuthState) SignedIn() bool {
	return a != nil && a.User != nil
}
