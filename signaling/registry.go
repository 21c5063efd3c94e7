package signaling

import (
	"errors"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	rtcsignal "github.com/damesirelord/WebRTC-single-server"
	"github.com/go4org/hashtriemap"
)

// Peer is the send capability of one live connection.
type Peer interface {
	// Send queues an encoded message. It must not block.
	Send(b []byte) error
	// Open reports whether the connection can still accept messages.
	Open() bool
}

// Sessions maps user ids to their current connection.
// A later Store for the same user replaces the earlier peer.
type Sessions struct {
	m hashtriemap.HashTrieMap[rtcsignal.UserID, Peer]
	n atomic.Int64
}

func (s *Sessions) Store(userId rtcsignal.UserID, p Peer) {
	if _, loaded := s.m.Swap(userId, p); !loaded {
		s.n.Add(1)
	}
}

// StoreNew registers p only if userId is unused and reports whether it did.
func (s *Sessions) StoreNew(userId rtcsignal.UserID, p Peer) bool {
	if _, loaded := s.m.LoadOrStore(userId, p); loaded {
		return false
	}
	s.n.Add(1)
	return true
}

func (s *Sessions) Load(userId rtcsignal.UserID) (Peer, bool) {
	return s.m.Load(userId)
}

func (s *Sessions) Delete(userId rtcsignal.UserID) {
	if _, loaded := s.m.LoadAndDelete(userId); loaded {
		s.n.Add(-1)
	}
}

// DeleteOwned removes userId only while p is still its registered peer, so a
// superseded connection cannot remove the one that replaced it.
func (s *Sessions) DeleteOwned(userId rtcsignal.UserID, p Peer) bool {
	if !s.m.CompareAndDelete(userId, p) {
		return false
	}
	s.n.Add(-1)
	return true
}

func (s *Sessions) All() iter.Seq2[rtcsignal.UserID, Peer] {
	return s.m.All()
}

func (s *Sessions) Len() int {
	return int(s.n.Load())
}

var ErrRoomOverCapacity = errors.New("room over capacity")

// Rooms maps room ids to their members, in join order.
// Rooms with no members are never stored.
type Rooms struct {
	mu    sync.Mutex
	rooms map[rtcsignal.RoomID][]rtcsignal.UserID
}

func NewRooms() *Rooms {
	return &Rooms{rooms: make(map[rtcsignal.RoomID][]rtcsignal.UserID)}
}

// Update runs fn with a copy of the room's members (nil if the room does not
// exist) and stores what fn returns. The registry is locked for the duration
// of fn, so fn must not call back into Rooms. An empty result deletes the
// room; a result above RoomCapacity is discarded.
func (r *Rooms) Update(roomId rtcsignal.RoomID, fn func(members []rtcsignal.UserID) []rtcsignal.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := fn(slices.Clone(r.rooms[roomId]))
	if len(next) > rtcsignal.RoomCapacity {
		return ErrRoomOverCapacity
	}
	if len(next) == 0 {
		delete(r.rooms, roomId)
		return nil
	}
	if r.rooms == nil {
		r.rooms = make(map[rtcsignal.RoomID][]rtcsignal.UserID)
	}
	r.rooms[roomId] = next
	return nil
}

// Members returns a copy of the room's members. A missing room has none.
func (r *Rooms) Members(roomId rtcsignal.RoomID) []rtcsignal.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.rooms[roomId])
}

func (r *Rooms) Exists(roomId rtcsignal.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomId]
	return ok
}

func (r *Rooms) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// RemoveMember drops userId from every room and returns the rooms it was in.
func (r *Rooms) RemoveMember(userId rtcsignal.UserID) []rtcsignal.RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []rtcsignal.RoomID
	for roomId, members := range r.rooms {
		i := slices.Index(members, userId)
		if i < 0 {
			continue
		}
		left = append(left, roomId)
		members = slices.Delete(members, i, i+1)
		if len(members) == 0 {
			delete(r.rooms, roomId)
		} else {
			r.rooms[roomId] = members
		}
	}
	return left
}
