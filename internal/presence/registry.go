// Package presence keeps the authoritative table of connected users and the
// sessions that pair them.
//
// A Registry is not safe for concurrent use. The signaling hub owns one and
// mutates it only from its dispatch goroutine.
package presence

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// User is the registry record of one connected client.
type User struct {
	ID     string
	InCall bool

	session *Session
}

// Registry maps handles to users and users to their current session.
type Registry struct {
	users    map[string]*User
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		users:    make(map[string]*User),
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Admit inserts a new idle user.
func (r *Registry) Admit(handle string) (*User, error) {
	if _, ok := r.users[handle]; ok {
		return nil, ErrDuplicateHandle
	}
	u := &User{ID: handle}
	r.users[handle] = u
	return u, nil
}

// Remove deletes the user regardless of call state. If the user was paired,
// the session is released and returned so the caller can notify the partner.
func (r *Registry) Remove(handle string) (*Session, bool) {
	if _, ok := r.users[handle]; !ok {
		return nil, false
	}
	sess, _ := r.Release(handle)
	delete(r.users, handle)
	return sess, true
}

// SetInCall mutates the flag only. Pair and Release keep it consistent with
// the session table; direct callers own that invariant themselves.
func (r *Registry) SetInCall(handle string, value bool) {
	if u, ok := r.users[handle]; ok {
		u.InCall = value
	}
}

// Get looks up a user by handle.
func (r *Registry) Get(handle string) (*User, bool) {
	u, ok := r.users[handle]
	return u, ok
}

// Has reports whether handle is connected.
func (r *Registry) Has(handle string) bool {
	_, ok := r.users[handle]
	return ok
}

// Len returns the number of connected users.
func (r *Registry) Len() int {
	return len(r.users)
}

// Sessions returns the number of live sessions.
func (r *Registry) Sessions() int {
	return len(r.sessions)
}

// Idle returns the handles of all users not in a call, sorted.
func (r *Registry) Idle() []string {
	idle := make([]string, 0, len(r.users))
	for id, u := range r.users {
		if !u.InCall {
			idle = append(idle, id)
		}
	}
	sort.Strings(idle)
	return idle
}

// SessionOf returns the session handle participates in, if any.
func (r *Registry) SessionOf(handle string) (*Session, bool) {
	u, ok := r.users[handle]
	if !ok || u.session == nil {
		return nil, false
	}
	return u.session, true
}

// SessionByID looks up a session by its id.
func (r *Registry) SessionByID(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// PartnerOf returns the handle handle is paired with, if any.
func (r *Registry) PartnerOf(handle string) (string, bool) {
	sess, ok := r.SessionOf(handle)
	if !ok {
		return "", false
	}
	return sess.Other(handle), true
}

// Paired reports whether a and b share a session.
func (r *Registry) Paired(a, b string) bool {
	sess, ok := r.SessionOf(a)
	return ok && sess.Has(b) && a != b
}

// Pair creates a session between requester and partner and marks both in
// call. Both must be connected and idle.
func (r *Registry) Pair(requester, partner string, state SessionState) (*Session, error) {
	if requester == partner {
		return nil, ErrSelfPairing
	}
	a, ok := r.users[requester]
	if !ok {
		return nil, ErrUnknownHandle
	}
	b, ok := r.users[partner]
	if !ok {
		return nil, ErrUnknownHandle
	}
	if a.session != nil || b.session != nil {
		return nil, ErrAlreadyPaired
	}

	sess := &Session{
		ID:        uuid.NewString(),
		A:         requester,
		B:         partner,
		Requester: requester,
		State:     state,
		CreatedAt: r.now(),
	}
	r.sessions[sess.ID] = sess
	a.session, b.session = sess, sess
	r.SetInCall(requester, true)
	r.SetInCall(partner, true)
	return sess, nil
}

// Activate marks the session a and b share as having seen an offer.
func (r *Registry) Activate(a, b string) (*Session, bool) {
	if !r.Paired(a, b) {
		return nil, false
	}
	sess := r.users[a].session
	sess.State = SessionActive
	return sess, true
}

// Release ends the session handle participates in and returns both users to
// idle.
func (r *Registry) Release(handle string) (*Session, bool) {
	sess, ok := r.SessionOf(handle)
	if !ok {
		return nil, false
	}
	r.ReleaseSession(sess.ID)
	return sess, true
}

// ReleaseSession ends a session by id. Unknown ids are ignored.
func (r *Registry) ReleaseSession(id string) bool {
	sess, ok := r.sessions[id]
	if !ok {
		return false
	}
	delete(r.sessions, id)
	for _, h := range []string{sess.A, sess.B} {
		if u, ok := r.users[h]; ok && u.session == sess {
			u.session = nil
			r.SetInCall(h, false)
		}
	}
	return true
}
