package rooms

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/fault"
)

type testMedia string

func (m testMedia) StreamID() string { return string(m) }

func TestJoinSnapshotsExistingMembers(t *testing.T) {
	req := require.New(t)

	// Given
	reg := NewRegistry(zap.NewNop())

	// When
	snapA, addedA, err := reg.Join("A", "r1", "alice")
	req.NoError(err)
	snapB, addedB, err := reg.Join("B", "r1", "bob")
	req.NoError(err)

	// Then
	req.True(addedA)
	req.True(addedB)
	req.Empty(snapA.Others)
	req.Equal([]Participant{{ID: "A", DisplayName: "alice"}}, snapB.Others)
	req.Equal(Participant{ID: "B", DisplayName: "bob"}, snapB.Self)
	req.Equal([]Participant{{ID: "B", DisplayName: "bob"}}, reg.OtherParticipants("r1", "A"))
}

func TestRejoinReplacesEntry(t *testing.T) {
	req := require.New(t)

	// Given
	reg := NewRegistry(nil)
	_, _, err := reg.Join("A", "r1", "alice")
	req.NoError(err)
	_, err = reg.RecordPublishedStream("A", testMedia("s1"))
	req.NoError(err)

	// When
	snap, added, err := reg.Join("A", "r1", "alice-2")

	// Then
	req.NoError(err)
	req.False(added)
	req.Equal("alice-2", snap.Self.DisplayName)
	req.True(snap.Self.Publishing)
	req.Equal(Stats{Rooms: 1, Participants: 1, Publishers: 1}, reg.Stats())
}

func TestJoinOtherRoomRequiresLeave(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil)

	_, _, err := reg.Join("A", "r1", "alice")
	req.NoError(err)

	_, _, err = reg.Join("A", "r2", "alice")
	req.True(fault.Is(err, fault.ProtocolState))

	roomID, ok := reg.RoomOf("A")
	req.True(ok)
	req.Equal("r1", roomID)
}

func TestLeaveRemovesEmptyRoom(t *testing.T) {
	req := require.New(t)

	// Given
	reg := NewRegistry(nil)
	_, _, _ = reg.Join("A", "r1", "alice")
	_, _, _ = reg.Join("B", "r1", "bob")

	// When
	roomID, ok := reg.Leave("A")

	// Then
	req.True(ok)
	req.Equal("r1", roomID)
	req.Equal([]Participant{{ID: "B", DisplayName: "bob"}}, reg.OtherParticipants("r1", ""))

	// When the last member leaves
	_, ok = reg.Leave("B")

	// Then
	req.True(ok)
	req.Equal(Stats{}, reg.Stats())
	req.Empty(reg.Summaries())
	req.NotNil(reg.OtherParticipants("r1", ""))

	// And a later join starts from an empty room
	snap, _, err := reg.Join("C", "r1", "carol")
	req.NoError(err)
	req.Empty(snap.Others)
}

func TestLeaveUnknownParticipant(t *testing.T) {
	reg := NewRegistry(nil)
	_, ok := reg.Leave("nobody")
	require.False(t, ok)
}

func TestOtherParticipantsIsACopy(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil)
	_, _, _ = reg.Join("A", "r1", "alice")
	_, _, _ = reg.Join("B", "r1", "bob")

	others := reg.OtherParticipants("r1", "A")
	others[0].DisplayName = "mallory"

	req.Equal("bob", reg.OtherParticipants("r1", "A")[0].DisplayName)
}

func TestRecordPublishedStream(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Registry)
		wantErr bool
	}{
		{
			name:  "member",
			setup: func(r *Registry) { _, _, _ = r.Join("A", "r1", "alice") },
		},
		{
			name: "already left",
			setup: func(r *Registry) {
				_, _, _ = r.Join("A", "r1", "alice")
				r.Leave("A")
			},
			wantErr: true,
		},
		{
			name:    "never joined",
			setup:   func(*Registry) {},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			reg := NewRegistry(nil)
			tt.setup(reg)

			ps, err := reg.RecordPublishedStream("A", testMedia("s1"))
			if tt.wantErr {
				req.True(fault.Is(err, fault.NotFound))
				_, ok := reg.PublishedStream("A")
				req.False(ok)
				return
			}
			req.NoError(err)
			req.Equal("r1", ps.RoomID)

			got, ok := reg.PublishedStream("A")
			req.True(ok)
			req.Equal("s1", got.Media.StreamID())

			reg.DropPublishedStream("A")
			_, ok = reg.PublishedStream("A")
			req.False(ok)
		})
	}
}

func TestConcurrentJoinLeaveKeepsIndexesConsistent(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil)

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p%d", i)
			roomID := fmt.Sprintf("r%d", i%4)
			for j := 0; j < 50; j++ {
				_, _, err := reg.Join(id, roomID, id)
				if err != nil {
					t.Error(err)
					return
				}
				_ = reg.OtherParticipants(roomID, id)
				if j%2 == 0 {
					reg.Leave(id)
				}
			}
			reg.Leave(id)
		}(i)
	}
	wg.Wait()

	req.Equal(Stats{}, reg.Stats())
}

func TestConcurrentJoinersSeeEachOtherAtMostOnce(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		snaps = map[string]Snapshot{}
	)
	for _, id := range []string{"A", "B"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			snap, _, err := reg.Join(id, "r1", id)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			snaps[id] = snap
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	// Exactly one of the two joined second and saw the other.
	req.Equal(1, len(snaps["A"].Others)+len(snaps["B"].Others))
}

func TestSummariesCountMembers(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil)
	_, _, _ = reg.Join("A", "r2", "alice")
	_, _, _ = reg.Join("B", "r2", "bob")
	_, _, _ = reg.Join("C", "r1", "carol")
	_, err := reg.RecordPublishedStream("A", testMedia("s1"))
	req.NoError(err)

	req.Equal([]Summary{
		{ID: "r1", Participants: 1},
		{ID: "r2", Participants: 2, Publishers: 1},
	}, reg.Summaries())
}
