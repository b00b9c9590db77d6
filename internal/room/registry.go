// Package room tracks named broadcast groups and their member connections.
//
// The Registry keeps two indexes in step: room name to member connection ids
// and connection id to joined room names. A connection is in a room's member
// set if and only if that room is in the connection's joined set. Rooms with
// no members are removed immediately.
package room

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrEmptyRoomName is returned for empty or whitespace-only room names.
	ErrEmptyRoomName = errors.New("room name is required")
	// ErrRoomNameTooLong is returned when a room name exceeds the configured limit.
	ErrRoomNameTooLong = errors.New("room name is too long")
)

type set map[string]struct{}

// Registry maps room names to member connection ids. It is safe for
// concurrent use; every operation applies atomically.
type Registry struct {
	mu            sync.RWMutex
	members       map[string]set
	joined        map[string]set
	maxNameLength int
}

// NewRegistry creates an empty Registry. A maxNameLength of zero or less
// disables the length check.
func NewRegistry(maxNameLength int) *Registry {
	return &Registry{
		members:       make(map[string]set),
		joined:        make(map[string]set),
		maxNameLength: maxNameLength,
	}
}

// ValidateName reports whether name is acceptable as a room name.
func (r *Registry) ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyRoomName
	}
	if r.maxNameLength > 0 && len(name) > r.maxNameLength {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrRoomNameTooLong, len(name), r.maxNameLength)
	}
	return nil
}

// Join adds connID to room. Joining a room already joined is a no-op.
func (r *Registry) Join(connID, room string) error {
	if err := r.ValidateName(room); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	add(r.members, room, connID)
	add(r.joined, connID, room)
	return nil
}

// Leave removes connID from room. Leaving a room that was not joined is a
// no-op, not an error.
func (r *Registry) Leave(connID, room string) error {
	if err := r.ValidateName(room); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	remove(r.members, room, connID)
	remove(r.joined, connID, room)
	return nil
}

// LeaveAll removes connID from every room it belongs to and returns the
// names of the rooms it left. It is safe to call for unknown connections.
func (r *Registry) LeaveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := sortedKeys(r.joined[connID])
	for _, room := range rooms {
		remove(r.members, room, connID)
	}
	delete(r.joined, connID)
	return rooms
}

// MembersOf returns the member connection ids of room in sorted order. An
// unknown or empty room yields an empty slice.
func (r *Registry) MembersOf(room string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.members[room])
}

// RoomsOf returns the rooms connID has joined, in sorted order.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.joined[connID])
}

// IsMember reports whether connID is currently in room.
func (r *Registry) IsMember(connID, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[room][connID]
	return ok
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func add(index map[string]set, key, value string) {
	s, ok := index[key]
	if !ok {
		s = make(set)
		index[key] = s
	}
	s[value] = struct{}{}
}

func remove(index map[string]set, key, value string) {
	s, ok := index[key]
	if !ok {
		return
	}
	delete(s, value)
	if len(s) == 0 {
		delete(index, key)
	}
}

func sortedKeys(s set) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
