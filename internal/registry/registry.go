// Package registry tracks the live set of connected sessions. It is the only
// source of truth for presence: the online count is always Size().
package registry

import (
	"cmp"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/palmchat/internal/chat"
)

// ErrDuplicateHandle is returned when a handle is registered twice.
var ErrDuplicateHandle = errors.New("registry: handle already registered")

// Token identifies one registration. The zero Token is never issued.
type Token uint64

// Registration is the ephemeral record of one connected session.
type Registration[H comparable] struct {
	Token       Token
	Handle      H
	Identity    chat.Identity
	ConnectedAt time.Time
}

// Registry is a mutex-guarded set of registrations. Every method takes the
// same lock, so register, deregister and size are linearizable.
type Registry[H comparable] struct {
	mu       sync.RWMutex
	next     Token
	byToken  map[Token]*Registration[H]
	byHandle map[H]Token
	now      func() time.Time
}

func New[H comparable]() *Registry[H] {
	return &Registry[H]{
		byToken:  make(map[Token]*Registration[H]),
		byHandle: make(map[H]Token),
		now:      time.Now,
	}
}

// Register adds handle with the given identity.
func (r *Registry[H]) Register(handle H, identity chat.Identity) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byHandle[handle]; exists {
		return 0, ErrDuplicateHandle
	}

	r.next++
	token := r.next
	r.byToken[token] = &Registration[H]{
		Token:       token,
		Handle:      handle,
		Identity:    identity,
		ConnectedAt: r.now(),
	}
	r.byHandle[handle] = token
	return token, nil
}

// Deregister removes the registration and reports whether it was present.
// Removing an unknown or already removed token is a no-op.
func (r *Registry[H]) Deregister(token Token) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byToken[token]
	if !ok {
		return false
	}
	delete(r.byToken, token)
	delete(r.byHandle, reg.Handle)
	return true
}

// Size is the number of live registrations.
func (r *Registry[H]) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}

// Lookup returns the registration for token, if present.
func (r *Registry[H]) Lookup(token Token) (Registration[H], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.byToken[token]
	if !ok {
		return Registration[H]{}, false
	}
	return *reg, true
}

// Snapshot copies the current registrations, ordered by token so that
// fan-out visits sessions in connection order.
func (r *Registry[H]) Snapshot() []Registration[H] {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration[H], 0, len(r.byToken))
	for _, reg := range r.byToken {
		out = append(out, *reg)
	}
	slices.SortFunc(out, func(a, b Registration[H]) int {
		return cmp.Compare(a.Token, b.Token)
	})
	return out
}
