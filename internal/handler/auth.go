package handler

import (
	"context"
	"log"
	"net"

	"dashlink/internal/jt808"
)

// handleAuth processes terminal authentication (0x0102). Any non-empty
// auth code is accepted: devices cache the code across reboots and may
// reconnect without re-registering, so strict matching would strand them.
func (r *Router) handleAuth(conn net.Conn, msg *jt808.Message) ([]byte, string) {
	phone := msg.Phone
	authCode := jt808.ParseAuthCode(msg.Body)

	ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
	authorized := r.catalog.Exists(ctx, phone)
	cancel()
	if !authorized {
		log.Printf("[JT808] Auth from uncatalogued device %s rejected", phone)
		resp := jt808.BuildGeneralResponse(phone, msg.SeqNum, jt808.MsgIDAuth, jt808.ResultFail, 0)
		return resp, ""
	}

	result := jt808.ResultSuccess
	if authCode == "" {
		result = jt808.ResultFail
	}

	sess, ok := r.registry.Lookup(phone)
	if !ok && result == jt808.ResultSuccess {
		// Reconnect with a cached auth code, no fresh registration.
		sess = r.registry.Register(phone, phone, authCode, conn)
	}

	identifier := ""
	seq := uint16(0)
	if sess != nil {
		identifier = sess.Identifier
		seq = sess.NextSeq()
	}

	if result == jt808.ResultSuccess && identifier != "" {
		id := identifier
		detach(func(ctx context.Context) {
			if err := r.conns.MarkAuthenticated(ctx, id); err != nil {
				log.Printf("[JT808] Auth row update failed for %s: %v", id, err)
			}
		})
	}

	log.Printf("[JT808] Auth from %s: code=%q result=%d", phone, authCode, result)
	return jt808.BuildGeneralResponse(phone, msg.SeqNum, jt808.MsgIDAuth, result, seq), identifier
}
