package handler

import (
	"context"
	"log"
	"net"

	"dashlink/internal/jt808"
	"dashlink/internal/model"
	"dashlink/internal/service"
)

// handleLocation processes a location report (0x0200): parse, hand the fix
// to the deduplicating store and fire the notification hook, both off the
// reader, then ack. Fixes from uncatalogued devices are silently dropped.
func (r *Router) handleLocation(conn net.Conn, msg *jt808.Message) ([]byte, string) {
	phone := msg.Phone

	sess, ok := r.registry.Lookup(phone)
	if !ok {
		ctx, cancel := context.WithTimeout(context.Background(), catalogTimeout)
		authorized := r.catalog.Exists(ctx, phone)
		cancel()
		if !authorized {
			return nil, ""
		}
		sess = r.registry.Register(phone, phone, "", conn)
	}
	identifier := sess.Identifier

	loc, err := jt808.ParseLocation(msg.Body, model.ProjectZone)
	if err != nil {
		log.Printf("[JT808] Bad location body from %s: %v", identifier, err)
		return nil, identifier
	}

	sess.TouchLocation()

	detach(func(ctx context.Context) {
		service.LogSaveError(identifier, r.locations.Save(ctx, identifier, loc))
	})
	if r.notifier != nil {
		r.notifier.Dispatch(&service.LocationEvent{
			Identifier: identifier,
			Latitude:   loc.Latitude,
			Longitude:  loc.Longitude,
			Speed:      loc.Speed,
			AlarmFlags: loc.AlarmFlags,
		})
	}

	return jt808.BuildGeneralResponse(phone, msg.SeqNum, jt808.MsgIDLocationReport, jt808.ResultSuccess, sess.NextSeq()), identifier
}
