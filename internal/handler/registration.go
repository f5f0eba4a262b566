package handler

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"dashlink/internal/jt808"
	"dashlink/internal/model"
)

// catalogTimeout bounds the synchronous authorization lookup; the response
// depends on it, so it cannot be detached.
const catalogTimeout = 5 * time.Second

// handleRegistration processes terminal registration (0x0100): authorize
// against the catalog, issue an auth code, create or supersede the session,
// mirror the connection row, and answer 0x8100.
func (r *Router) handleRegistration(conn net.Conn, msg *jt808.Message) ([]byte, string) {
	phone := msg.Phone

	ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
	authorized := r.catalog.Exists(ctx, phone)
	cancel()
	if !authorized {
		log.Printf("[JT808] Registration from uncatalogued device %s rejected", phone)
		resp := jt808.BuildRegistrationResponse(phone, msg.SeqNum, jt808.RegResultNoTerminal, "", 0)
		return resp, ""
	}

	reg, err := jt808.ParseRegistration(msg.Body)
	if err != nil {
		// Body too short: drop without a response, the device retries.
		log.Printf("[JT808] Bad registration body from %s: %v", phone, err)
		return nil, ""
	}

	identifier := reg.TerminalID
	if identifier == "" {
		identifier = phone
	}

	authCode := generateAuthCode(phone)
	sess := r.registry.Register(identifier, phone, authCode, conn)
	sess.Manufacturer = reg.Manufacturer
	sess.Model = reg.Model

	peerIP, peerPort := peerHostPort(conn)
	detach(func(ctx context.Context) {
		if err := r.conns.MarkRegistered(ctx, identifier, phone, authCode, peerIP, peerPort); err != nil {
			log.Printf("[JT808] Connection row update failed for %s: %v", identifier, err)
		}
	})

	log.Printf("[JT808] Registered %s (phone=%s manufacturer=%q model=%q)", identifier, phone, reg.Manufacturer, reg.Model)

	resp := jt808.BuildRegistrationResponse(phone, msg.SeqNum, jt808.RegResultSuccess, authCode, sess.NextSeq())
	return resp, identifier
}

// generateAuthCode derives an opaque code from the device and the clock.
// Devices keep whatever we issue, so uniqueness across restarts is not
// required.
func generateAuthCode(phone string) string {
	tail := phone
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return fmt.Sprintf("AUTH%s%s", tail, model.Now().Format("150405"))
}
