// Package handler routes decoded JT808 messages to their typed handlers
// and produces the platform responses written back on the same connection.
package handler

import (
	"context"
	"log"
	"net"
	"time"

	"dashlink/internal/jt808"
	"dashlink/internal/registry"
	"dashlink/internal/service"
)

// Catalog is the external table of authorized terminals.
type Catalog interface {
	Exists(ctx context.Context, key string) bool
}

// ConnectionStore mirrors session state into the database and Redis.
type ConnectionStore interface {
	MarkRegistered(ctx context.Context, identifier, phone, authCode, peerIP string, peerPort int) error
	MarkAuthenticated(ctx context.Context, identifier string) error
	TouchHeartbeat(ctx context.Context, identifier string) error
	MarkDisconnected(ctx context.Context, identifier string) error
}

// LocationStore persists deduplicated fixes.
type LocationStore interface {
	Save(ctx context.Context, identifier string, loc *jt808.Location) error
}

// Notifier receives an event for every parsed location fix; dispatch does
// not wait for the fix to be persisted.
type Notifier interface {
	Dispatch(ev *service.LocationEvent)
}

// detachTimeout bounds the database work done off the socket reader.
const detachTimeout = 15 * time.Second

type handlerFunc func(conn net.Conn, msg *jt808.Message) (response []byte, identifier string)

// Router dispatches messages by ID. Handlers return the response frame for
// the connection (nil for none) and the device identifier once one is
// bound, so the server can track the connection for teardown.
type Router struct {
	registry  *registry.Registry
	catalog   Catalog
	conns     ConnectionStore
	locations LocationStore
	notifier  Notifier

	handlers map[uint16]handlerFunc
}

// NewRouter builds a router over the given collaborators.
func NewRouter(reg *registry.Registry, catalog Catalog, conns ConnectionStore, locations LocationStore, notifier Notifier) *Router {
	r := &Router{
		registry:  reg,
		catalog:   catalog,
		conns:     conns,
		locations: locations,
		notifier:  notifier,
	}
	r.handlers = map[uint16]handlerFunc{
		jt808.MsgIDRegistration:   r.handleRegistration,
		jt808.MsgIDAuth:           r.handleAuth,
		jt808.MsgIDHeartbeat:      r.handleHeartbeat,
		jt808.MsgIDLocationReport: r.handleLocation,
		jt808.MsgIDLogout:         r.handleLogout,
	}
	return r
}

// Handle routes one decoded message. Unknown message IDs get a generic
// success ack: the protocol is wide, vendors extend it, and a "not
// supported" result sends some devices into a reconnect loop.
func (r *Router) Handle(conn net.Conn, msg *jt808.Message) (response []byte, identifier string) {
	if msg.MsgID == jt808.MsgIDTerminalResponse {
		// Terminal acks need no reply.
		return nil, r.sessionIdentifier(msg.Phone)
	}

	if h, ok := r.handlers[msg.MsgID]; ok {
		return h(conn, msg)
	}

	log.Printf("[JT808] Unknown message 0x%04X from %s", msg.MsgID, msg.Phone)
	return jt808.BuildGeneralResponse(msg.Phone, msg.SeqNum, msg.MsgID, jt808.ResultSuccess, r.nextSeq(msg.Phone)), r.sessionIdentifier(msg.Phone)
}

// nextSeq allocates the server-side sequence number from the device's
// session, or 0 for devices without one yet.
func (r *Router) nextSeq(key string) uint16 {
	if sess, ok := r.registry.Lookup(key); ok {
		return sess.NextSeq()
	}
	return 0
}

func (r *Router) sessionIdentifier(key string) string {
	if sess, ok := r.registry.Lookup(key); ok {
		return sess.Identifier
	}
	return ""
}

// detach runs fn off the socket reader with its own deadline. Errors are
// the callee's to log; nothing propagates back to frame processing.
func detach(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func peerHostPort(conn net.Conn) (string, int) {
	if conn == nil {
		return "", 0
	}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP.String(), addr.Port
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String(), 0
	}
	return host, 0
}
