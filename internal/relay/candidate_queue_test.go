package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidateQueue(t *testing.T) {
	c := func(s string) Candidate { return Candidate{Candidate: s} }

	tests := []struct {
		name        string
		capacity    int
		push        []string
		wantDropped int
		want        []Candidate
	}{
		{name: "empty", capacity: 2, want: nil},
		{name: "under capacity", capacity: 3, push: []string{"a", "b"}, want: []Candidate{c("a"), c("b")}},
		{name: "exactly full", capacity: 2, push: []string{"a", "b"}, want: []Candidate{c("a"), c("b")}},
		{name: "overflow keeps newest", capacity: 2, push: []string{"a", "b", "c", "d"}, wantDropped: 2, want: []Candidate{c("c"), c("d")}},
		{name: "zero capacity raised", capacity: 0, push: []string{"a", "b"}, wantDropped: 1, want: []Candidate{c("b")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewCandidateQueue(tt.capacity)
			dropped := 0
			for _, s := range tt.push {
				if q.Push(c(s)) {
					dropped++
				}
			}
			require.Equal(t, tt.wantDropped, dropped)
			require.Equal(t, len(tt.want), q.Len())
			require.Equal(t, tt.want, q.Drain())
			require.Equal(t, 0, q.Len())
			require.Nil(t, q.Drain())
		})
	}
}

func TestCandidateQueueReusableAfterDrain(t *testing.T) {
	q := NewCandidateQueue(2)
	q.Push(Candidate{Candidate: "a"})
	q.Push(Candidate{Candidate: "b"})
	q.Push(Candidate{Candidate: "c"})
	_ = q.Drain()

	q.Push(Candidate{Candidate: "d"})
	require.Equal(t, []Candidate{{Candidate: "d"}}, q.Drain())
}
