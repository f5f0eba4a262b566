package handler

import (
	"context"
	"log"
	"net"

	"dashlink/internal/jt808"
)

// handleHeartbeat processes terminal heartbeat (0x0002): advance the
// session and row timestamps, ack 0x8001. Heartbeats from uncatalogued
// devices are silently dropped.
func (r *Router) handleHeartbeat(conn net.Conn, msg *jt808.Message) ([]byte, string) {
	phone := msg.Phone

	sess, ok := r.registry.Lookup(phone)
	if !ok {
		ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
		authorized := r.catalog.Exists(ctx, phone)
		cancel()
		if !authorized {
			return nil, ""
		}
		// Known device whose session predates a server restart.
		sess = r.registry.Register(phone, phone, "", conn)
	}

	sess.TouchHeartbeat()
	identifier := sess.Identifier
	detach(func(ctx context.Context) {
		if err := r.conns.TouchHeartbeat(ctx, identifier); err != nil {
			log.Printf("[JT808] Heartbeat row update failed for %s: %v", identifier, err)
		}
	})

	return jt808.BuildGeneralResponse(phone, msg.SeqNum, jt808.MsgIDHeartbeat, jt808.ResultSuccess, sess.NextSeq()), identifier
}

// handleLogout processes terminal logout (0x0003): ack, then tear the
// session down the same way a disconnect would.
func (r *Router) handleLogout(conn net.Conn, msg *jt808.Message) ([]byte, string) {
	phone := msg.Phone

	sess, ok := r.registry.Lookup(phone)
	if !ok {
		return jt808.BuildGeneralResponse(phone, msg.SeqNum, jt808.MsgIDLogout, jt808.ResultSuccess, 0), ""
	}

	identifier := sess.Identifier
	resp := jt808.BuildGeneralResponse(phone, msg.SeqNum, jt808.MsgIDLogout, jt808.ResultSuccess, sess.NextSeq())

	// The device closes the socket after the ack; session removal happens
	// in the connection teardown. Only the row flips here.
	log.Printf("[JT808] Logout from %s", identifier)
	detach(func(ctx context.Context) {
		if err := r.conns.MarkDisconnected(ctx, identifier); err != nil {
			log.Printf("[JT808] Disconnect row update failed for %s: %v", identifier, err)
		}
	})

	return resp, identifier
}
