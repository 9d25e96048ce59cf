package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/fault"
	"github.com/mikeyg42/roomrelay/internal/relay"
)

type stubHandler struct {
	hub          *Hub
	connected    chan string
	disconnected chan string
	candidates   chan SubscribeCandidate
}

func newStubHandler(hub *Hub) *stubHandler {
	return &stubHandler{
		hub:          hub,
		connected:    make(chan string, 8),
		disconnected: make(chan string, 8),
		candidates:   make(chan SubscribeCandidate, 8),
	}
}

func (s *stubHandler) Connected(id, _ string) { s.connected <- id }
func (s *stubHandler) Disconnected(id string) { s.disconnected <- id }

func (s *stubHandler) Join(id string, req JoinRequest) error {
	s.hub.JoinGroup(id, req.RoomID)
	s.hub.Broadcast(req.RoomID, id, MethodParticipantEntered, ParticipantEntered{ParticipantID: id, DisplayName: req.DisplayName})
	return s.hub.Unicast(id, MethodJoinedRoom, JoinedRoom{ParticipantID: id, RoomID: req.RoomID, DisplayName: req.DisplayName})
}

func (s *stubHandler) PublishOffer(string, PublishOffer) error {
	return errors.New("participant queue full")
}

func (s *stubHandler) PublishCandidate(string, CandidateMessage) error { return nil }
func (s *stubHandler) SubscribeOffer(string, SubscribeOffer) error     { return nil }

func (s *stubHandler) SubscribeCandidate(_ string, req SubscribeCandidate) error {
	s.candidates <- req
	return nil
}

type inbox chan *jsonrpc2.Request

func (in inbox) Handle(_ context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) { in <- req }

func (in inbox) next(t *testing.T, method string, into any) {
	t.Helper()
	select {
	case req := <-in:
		require.Equal(t, method, req.Method)
		require.NotNil(t, req.Params)
		require.NoError(t, json.Unmarshal(*req.Params, into))
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", method)
	}
}

func (in inbox) empty(t *testing.T) {
	t.Helper()
	select {
	case req := <-in:
		t.Fatalf("unexpected %s", req.Method)
	case <-time.After(50 * time.Millisecond):
	}
}

func startHub(t *testing.T) (*Hub, *stubHandler, string) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	stub := newStubHandler(hub)
	ctx, cancel := context.WithCancel(context.Background())
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(ctx, ws, r.RemoteAddr, stub)
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return hub, stub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) (*jsonrpc2.Conn, inbox) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	in := make(inbox, 16)
	rpc := jsonrpc2.NewConn(context.Background(), objectStream{ws: ws}, in)
	t.Cleanup(func() { _ = rpc.Close() })
	return rpc, in
}

func waitID(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case id := <-ch:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for participant id")
		return ""
	}
}

func TestJoinRoundTrip(t *testing.T) {
	req := require.New(t)

	// Given
	_, stub, url := startHub(t)
	client, in := dial(t, url)
	id := waitID(t, stub.connected)

	// When
	req.NoError(client.Notify(context.Background(), MethodJoin, JoinRequest{RoomID: "r1", DisplayName: "alice"}))

	// Then
	var joined JoinedRoom
	in.next(t, MethodJoinedRoom, &joined)
	req.Equal(JoinedRoom{ParticipantID: id, RoomID: "r1", DisplayName: "alice"}, joined)
}

func TestRequestErrors(t *testing.T) {
	offer := PublishOffer{RoomID: "r1", SDP: relay.Description{Type: "offer", SDP: "v=0"}}

	tests := []struct {
		name     string
		method   string
		params   any
		wantCode int64
	}{
		{name: "missing room", method: MethodJoin, params: map[string]string{"displayName": "x"}, wantCode: jsonrpc2.CodeInvalidParams},
		{name: "bad sdp type", method: MethodPublishOffer, params: PublishOffer{RoomID: "r1", SDP: relay.Description{Type: "bogus", SDP: "v=0"}}, wantCode: jsonrpc2.CodeInvalidParams},
		{name: "missing publisher", method: MethodSubscribeCandidate, params: map[string]any{"candidate": map[string]string{"candidate": "c"}}, wantCode: jsonrpc2.CodeInvalidParams},
		{name: "unknown method", method: "teleport", params: map[string]string{}, wantCode: jsonrpc2.CodeMethodNotFound},
		{name: "handler failure", method: MethodPublishOffer, params: offer, wantCode: codeServerError},
	}

	_, _, url := startHub(t)
	client, _ := dial(t, url)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			var result any
			err := client.Call(ctx, tt.method, tt.params, &result)

			var rpcErr *jsonrpc2.Error
			require.ErrorAs(t, err, &rpcErr)
			require.Equal(t, tt.wantCode, rpcErr.Code)
		})
	}
}

func TestAcceptedRequestGetsNullResult(t *testing.T) {
	_, stub, url := startHub(t)
	client, _ := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var result any
	err := client.Call(ctx, MethodSubscribeCandidate,
		SubscribeCandidate{PublisherID: "A", Candidate: relay.Candidate{Candidate: "candidate:1"}}, &result)

	require.NoError(t, err)
	require.Nil(t, result)
	got := <-stub.candidates
	require.Equal(t, "A", got.PublisherID)
	require.Equal(t, "candidate:1", got.Candidate.Candidate)
}

func TestBroadcastSkipsSenderAndOtherRooms(t *testing.T) {
	req := require.New(t)

	// Given A in r1 and C in r2
	_, stub, url := startHub(t)
	a, inA := dial(t, url)
	idA := waitID(t, stub.connected)
	req.NoError(a.Notify(context.Background(), MethodJoin, JoinRequest{RoomID: "r1"}))
	inA.next(t, MethodJoinedRoom, &JoinedRoom{})

	c, inC := dial(t, url)
	waitID(t, stub.connected)
	req.NoError(c.Notify(context.Background(), MethodJoin, JoinRequest{RoomID: "r2"}))
	inC.next(t, MethodJoinedRoom, &JoinedRoom{})

	// When B joins r1
	b, inB := dial(t, url)
	idB := waitID(t, stub.connected)
	req.NoError(b.Notify(context.Background(), MethodJoin, JoinRequest{RoomID: "r1", DisplayName: "bob"}))

	// Then only A hears about it
	var entered ParticipantEntered
	inA.next(t, MethodParticipantEntered, &entered)
	req.Equal(idB, entered.ParticipantID)
	req.NotEqual(idA, entered.ParticipantID)
	inB.next(t, MethodJoinedRoom, &JoinedRoom{})
	inB.empty(t)
	inC.empty(t)
}

func TestDisconnectUnregisters(t *testing.T) {
	req := require.New(t)
	hub, stub, url := startHub(t)
	client, _ := dial(t, url)
	id := waitID(t, stub.connected)
	req.Equal(1, hub.Connections())

	req.NoError(client.Close())

	req.Equal(id, waitID(t, stub.disconnected))
	req.Equal(0, hub.Connections())
	err := hub.Unicast(id, MethodJoinedRoom, JoinedRoom{})
	req.True(fault.Is(err, fault.Transport))
}
