// Package signal carries the signaling protocol over WebSocket connections
// using JSON-RPC 2.0 framing, and groups connections by room.
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/mikeyg42/roomrelay/internal/fault"
)

// codeServerError is the JSON-RPC code for handler failures that are not
// about the request's shape.
const codeServerError = -32000

// Handler receives decoded client messages. Implementations must return
// quickly; messages for one connection are delivered in order on a single
// goroutine.
type Handler interface {
	Connected(participantID, remoteAddr string)
	Disconnected(participantID string)
	Join(participantID string, req JoinRequest) error
	PublishOffer(participantID string, req PublishOffer) error
	PublishCandidate(participantID string, req CandidateMessage) error
	SubscribeOffer(participantID string, req SubscribeOffer) error
	SubscribeCandidate(participantID string, req SubscribeCandidate) error
}

type conn struct {
	id     string
	remote string
	rpc    *jsonrpc2.Conn
}

// Hub tracks live connections and the room group each one belongs to.
type Hub struct {
	log      *zap.Logger
	validate *validator.Validate

	mu     sync.RWMutex
	conns  map[string]*conn
	groups map[string]map[string]struct{}
}

// NewHub returns an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		log:      log.Named("signal"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		conns:    make(map[string]*conn),
		groups:   make(map[string]map[string]struct{}),
	}
}

// Serve runs one client connection until it closes or ctx is cancelled.
// The connection is assigned a fresh participant id.
func (h *Hub) Serve(ctx context.Context, ws *websocket.Conn, remoteAddr string, handler Handler) {
	id := uuid.NewString()
	log := h.log.With(zap.String("participant", id))
	stream := newObjectStream(ws)

	ready := make(chan struct{})
	c := &conn{id: id, remote: remoteAddr}
	c.rpc = jsonrpc2.NewConn(ctx, stream, &router{hub: h, id: id, handler: handler, ready: ready})

	h.mu.Lock()
	h.conns[id] = c
	h.mu.Unlock()

	handler.Connected(id, remoteAddr)
	close(ready)
	log.Info("Client connected", zap.String("remote", remoteAddr))

	done := c.rpc.DisconnectNotify()
	go stream.pinger(done)

	select {
	case <-done:
	case <-ctx.Done():
		_ = c.rpc.Close()
		<-done
	}

	h.unregister(id)
	handler.Disconnected(id)
	log.Info("Client disconnected")
}

// Unicast sends a notification to one participant. Failures are transport
// errors; callers usually log and move on.
func (h *Hub) Unicast(participantID, method string, payload any) error {
	h.mu.RLock()
	c, ok := h.conns[participantID]
	h.mu.RUnlock()
	if !ok {
		return fault.Errorf(fault.Transport, method, "participant %s is not connected", participantID)
	}
	return h.notify(c, method, payload)
}

// Broadcast notifies every member of roomID except exceptID.
func (h *Hub) Broadcast(roomID, exceptID, method string, payload any) {
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.groups[roomID]))
	for id := range h.groups[roomID] {
		if id == exceptID {
			continue
		}
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := h.notify(c, method, payload); err != nil {
			h.log.Debug("Broadcast delivery failed",
				zap.String("room", roomID), zap.String("participant", c.id), zap.Error(err))
		}
	}
}

// JoinGroup adds the participant's connection to roomID's broadcast group.
func (h *Hub) JoinGroup(participantID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[participantID]; !ok {
		return
	}
	members, ok := h.groups[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.groups[roomID] = members
	}
	members[participantID] = struct{}{}
}

// LeaveGroup removes the participant from roomID's broadcast group.
func (h *Hub) LeaveGroup(participantID, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveGroupLocked(participantID, roomID)
}

// Connections returns the number of live connections.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, id)
	for roomID := range h.groups {
		h.leaveGroupLocked(id, roomID)
	}
}

func (h *Hub) leaveGroupLocked(participantID, roomID string) {
	members, ok := h.groups[roomID]
	if !ok {
		return
	}
	delete(members, participantID)
	if len(members) == 0 {
		delete(h.groups, roomID)
	}
}

func (h *Hub) notify(c *conn, method string, payload any) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := c.rpc.Notify(ctx, method, payload); err != nil {
		return fault.New(fault.Transport, method, err)
	}
	return nil
}

// router decodes one connection's messages and hands them to the Handler.
type router struct {
	hub     *Hub
	id      string
	handler Handler
	ready   <-chan struct{}
}

func (r *router) Handle(ctx context.Context, c *jsonrpc2.Conn, req *jsonrpc2.Request) {
	<-r.ready

	err := r.route(req)
	if err != nil {
		r.hub.log.Debug("Message rejected",
			zap.String("participant", r.id), zap.String("method", req.Method), zap.Error(err))
	}
	if req.Notif {
		return
	}

	if err == nil {
		err = c.Reply(ctx, req.ID, nil)
	} else {
		var rpcErr *jsonrpc2.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = &jsonrpc2.Error{Code: codeServerError, Message: err.Error()}
		}
		err = c.ReplyWithError(ctx, req.ID, rpcErr)
	}
	if err != nil {
		r.hub.log.Debug("Reply failed", zap.String("participant", r.id), zap.Error(err))
	}
}

func (r *router) route(req *jsonrpc2.Request) error {
	h, id, handler := r.hub, r.id, r.handler
	switch req.Method {
	case MethodJoin:
		return decodeInto(h, req, func(p JoinRequest) error { return handler.Join(id, p) })
	case MethodPublishOffer:
		return decodeInto(h, req, func(p PublishOffer) error { return handler.PublishOffer(id, p) })
	case MethodPublishCandidate:
		return decodeInto(h, req, func(p CandidateMessage) error { return handler.PublishCandidate(id, p) })
	case MethodSubscribeOffer:
		return decodeInto(h, req, func(p SubscribeOffer) error { return handler.SubscribeOffer(id, p) })
	case MethodSubscribeCandidate:
		return decodeInto(h, req, func(p SubscribeCandidate) error { return handler.SubscribeCandidate(id, p) })
	default:
		return &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "unknown method " + req.Method}
	}
}

func decodeInto[T any](h *Hub, req *jsonrpc2.Request, fn func(T) error) error {
	var params T
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, &params); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	if err := h.validate.Struct(params); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return fn(params)
}
