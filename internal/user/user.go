// Package user defines the identity record shared by every listener's user
// set and the manager's global staging set.
package user

import "github.com/google/uuid"

// MaxFieldBytes is the largest Name or Password the username/password
// sub-negotiation frame can carry (its length prefixes are one byte).
// New and Set do not check it.
const MaxFieldBytes = 255

// User is an identity with a stable id. Equality and hashing are by ID
// alone — two users with the same Name but different IDs are distinct.
type User struct {
	ID       uuid.UUID
	Name     string
	Password string
}

// New creates a User with a freshly generated id.
func New(name, password string) User {
	return User{ID: uuid.New(), Name: name, Password: password}
}

// Set is an unordered collection of Users, compared by ID. It is not
// safe for concurrent use; callers needing concurrency guard it
// externally (see internal/listener and internal/manager).
type Set struct {
	byID map[uuid.UUID]User
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{byID: make(map[uuid.UUID]User)}
}

// Add inserts u, overwriting any existing user with the same ID. Returns
// true if this was a new ID (idempotent otherwise: re-adding the same ID
// leaves the set's membership unchanged).
func (s *Set) Add(u User) bool {
	_, existed := s.byID[u.ID]
	s.byID[u.ID] = u
	return !existed
}

// RemoveByID deletes the user with the given id, if present. Reports
// whether a user was actually removed.
func (s *Set) RemoveByID(id uuid.UUID) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	return true
}

// Exists reports whether id is a member of the set.
func (s *Set) Exists(id uuid.UUID) bool {
	_, ok := s.byID[id]
	return ok
}

// FindByName returns the first user with the given name and true, or the
// zero User and false if no member matches. Names are not unique; this
// returns an arbitrary match among duplicates.
func (s *Set) FindByName(name string) (User, bool) {
	for _, u := range s.byID {
		if u.Name == name {
			return u, true
		}
	}
	return User{}, false
}

// CheckCredentials reports whether any member's Name and Password match
// the given pair exactly (byte-for-byte; no hashing, see spec's open
// questions on credential comparison).
func (s *Set) CheckCredentials(name, password string) bool {
	for _, u := range s.byID {
		if u.Name == name && u.Password == password {
			return true
		}
	}
	return false
}

// List returns a snapshot slice of all members, safe for the caller to
// retain without aliasing internal state.
func (s *Set) List() []User {
	out := make([]User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, u)
	}
	return out
}

// Len reports the number of members.
func (s *Set) Len() int {
	return len(s.byID)
}
