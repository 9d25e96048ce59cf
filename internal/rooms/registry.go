// Package rooms tracks room membership and each member's published stream.
package rooms

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/fault"
)

// Media is the relay engine's handle for a participant's outbound media.
// The registry stores it but never looks inside.
type Media interface {
	StreamID() string
}

// Participant is the externally visible view of a room member.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Publishing  bool   `json:"publishing"`
}

// PublishedStream is the media a participant offers to the rest of its room.
type PublishedStream struct {
	ParticipantID string
	RoomID        string
	Media         Media
	PublishedAt   time.Time
}

// Snapshot is what a joining participant learns about its room.
type Snapshot struct {
	RoomID string
	Self   Participant
	Others []Participant
}

// Stats counts live rooms, members and publishers.
type Stats struct {
	Rooms        int `json:"rooms"`
	Participants int `json:"participants"`
	Publishers   int `json:"publishers"`
}

// Summary counts the members of a single room. Member names stay private.
type Summary struct {
	ID           string `json:"id"`
	Participants int    `json:"participants"`
	Publishers   int    `json:"publishers"`
}

type member struct {
	info   Participant
	seq    uint64
	stream *PublishedStream
}

type room struct {
	id string

	mu      sync.RWMutex
	members map[string]*member
}

// Registry maps rooms to members and members back to their room. Operations
// on one room are linearizable; different rooms only contend on the short
// index lock.
type Registry struct {
	log *zap.Logger

	// mu guards rooms, memberOf and seq. Lock order: mu before room.mu.
	mu       sync.RWMutex
	rooms    map[string]*room
	memberOf map[string]string
	seq      uint64
}

// NewRegistry returns an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		log:      log.Named("rooms"),
		rooms:    make(map[string]*room),
		memberOf: make(map[string]string),
	}
}

// Join adds participantID to roomID, creating the room if needed, and returns
// the membership snapshot as of the insert. Joining the same room again
// replaces the display name and keeps any published stream; added is false in
// that case. Joining while a member of another room is a protocol error.
func (r *Registry) Join(participantID, roomID, displayName string) (snap Snapshot, added bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.memberOf[participantID]; ok && current != roomID {
		return Snapshot{}, false, fault.Errorf(fault.ProtocolState, "join",
			"participant %s is already in room %s", participantID, current)
	}

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID, members: make(map[string]*member)}
		r.rooms[roomID] = rm
		r.log.Debug("room created", zap.String("room", roomID))
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, exists := rm.members[participantID]
	if exists {
		m.info.DisplayName = displayName
	} else {
		r.seq++
		m = &member{
			info: Participant{ID: participantID, DisplayName: displayName},
			seq:  r.seq,
		}
		rm.members[participantID] = m
	}
	r.memberOf[participantID] = roomID

	return Snapshot{
		RoomID: roomID,
		Self:   m.info,
		Others: rm.snapshotExcluding(participantID),
	}, !exists, nil
}

// RecordPublishedStream attaches media to a member, replacing any previous
// stream. It fails with a NotFound error if the participant already left.
func (r *Registry) RecordPublishedStream(participantID string, media Media) (PublishedStream, error) {
	rm, ok := r.roomOf(participantID)
	if !ok {
		return PublishedStream{}, fault.Errorf(fault.NotFound, "record published stream",
			"participant %s is not in a room", participantID)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	m, ok := rm.members[participantID]
	if !ok {
		return PublishedStream{}, fault.Errorf(fault.NotFound, "record published stream",
			"participant %s left room %s", participantID, rm.id)
	}
	ps := &PublishedStream{
		ParticipantID: participantID,
		RoomID:        rm.id,
		Media:         media,
		PublishedAt:   time.Now(),
	}
	m.stream = ps
	m.info.Publishing = true
	return *ps, nil
}

// DropPublishedStream forgets the member's stream, if any.
func (r *Registry) DropPublishedStream(participantID string) {
	rm, ok := r.roomOf(participantID)
	if !ok {
		return
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if m, ok := rm.members[participantID]; ok {
		m.stream = nil
		m.info.Publishing = false
	}
}

// PublishedStream returns the member's current stream.
func (r *Registry) PublishedStream(participantID string) (PublishedStream, bool) {
	rm, ok := r.roomOf(participantID)
	if !ok {
		return PublishedStream{}, false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	m, ok := rm.members[participantID]
	if !ok || m.stream == nil {
		return PublishedStream{}, false
	}
	return *m.stream, true
}

// OtherParticipants returns a copy of roomID's members minus excluding,
// ordered by join time. An unknown room yields an empty slice.
func (r *Registry) OtherParticipants(roomID, excluding string) []Participant {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if !ok {
		return []Participant{}
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.snapshotExcluding(excluding)
}

// Leave removes the participant from its room and deletes the room once it
// is empty. It returns the room the participant was in.
func (r *Registry) Leave(participantID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.memberOf[participantID]
	if !ok {
		return "", false
	}
	delete(r.memberOf, participantID)

	rm := r.rooms[roomID]
	rm.mu.Lock()
	delete(rm.members, participantID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()

	if empty {
		delete(r.rooms, roomID)
		r.log.Debug("room removed", zap.String("room", roomID))
	}
	return roomID, true
}

// RoomOf returns the participant's room.
func (r *Registry) RoomOf(participantID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.memberOf[participantID]
	return roomID, ok
}

// Member returns the participant's entry and room.
func (r *Registry) Member(participantID string) (Participant, string, bool) {
	rm, ok := r.roomOf(participantID)
	if !ok {
		return Participant{}, "", false
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	m, ok := rm.members[participantID]
	if !ok {
		return Participant{}, "", false
	}
	return m.info, rm.id, true
}

// Stats counts rooms, members and publishers.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{Rooms: len(r.rooms), Participants: len(r.memberOf)}
	for _, rm := range r.rooms {
		rm.mu.RLock()
		st.Publishers += lo.CountBy(lo.Values(rm.members), func(m *member) bool { return m.stream != nil })
		rm.mu.RUnlock()
	}
	return st
}

// Summaries lists every room with its member counts, sorted by room id.
func (r *Registry) Summaries() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rm.mu.RLock()
		out = append(out, Summary{
			ID:           rm.id,
			Participants: len(rm.members),
			Publishers:   lo.CountBy(lo.Values(rm.members), func(m *member) bool { return m.stream != nil }),
		})
		rm.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b Summary) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (r *Registry) roomOf(participantID string) (*room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.memberOf[participantID]
	if !ok {
		return nil, false
	}
	rm, ok := r.rooms[roomID]
	return rm, ok
}

// snapshotExcluding must be called with rm.mu held.
func (rm *room) snapshotExcluding(excluding string) []Participant {
	members := lo.Filter(lo.Values(rm.members), func(m *member, _ int) bool {
		return m.info.ID != excluding
	})
	slices.SortFunc(members, func(a, b *member) int { return cmp.Compare(a.seq, b.seq) })
	return lo.Map(members, func(m *member, _ int) Participant { return m.info })
}
