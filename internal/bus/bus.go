// Package bus is the only surface shared between the ingest node and the
// API gateway: NATS subjects carrying fMP4 segments out to subscribers and
// stream commands back in.
package bus

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

const (
	videoSubjectPrefix = "dashcam.video."
	commandSubject     = "dashcam.commands"
	statusSubject      = "dashcam.stream.status"
)

// Video message kinds.
const (
	KindInit    = "init"
	KindSegment = "segment"
)

// Command operations.
const (
	OpStart = "start"
	OpStop  = "stop"
)

// VideoMessage carries one fMP4 piece for a device. Payload is raw segment
// bytes; encoding/json base64-encodes it on the wire.
type VideoMessage struct {
	Kind    string `json:"kind"`
	Channel byte   `json:"channel"`
	Codec   string `json:"codec,omitempty"`
	Payload []byte `json:"payload"`
}

// StreamCommand asks the ingest node to start or stop a live stream.
type StreamCommand struct {
	Op         string `json:"op"`
	Identifier string `json:"identifier"`
	Channel    byte   `json:"channel"`
	StreamType byte   `json:"stream_type"`
	ServerIP   string `json:"server_ip"`
	VideoPort  int    `json:"video_port"`
}

// StreamStatus announces transmuxer state so the gateway can record stream
// bookkeeping without touching ingest internals.
type StreamStatus struct {
	Identifier string `json:"identifier"`
	Channel    byte   `json:"channel"`
	Streaming  bool   `json:"streaming"`
	Codec      string `json:"codec,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	FPS        int    `json:"fps,omitempty"`
}

// Bus wraps the NATS connection with the project's typed subjects.
type Bus struct {
	nc *nats.Conn
}

// New wraps an established NATS connection.
func New(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

// VideoSubject returns the per-device video subject.
func VideoSubject(identifier string) string {
	return videoSubjectPrefix + identifier
}

// PublishVideo broadcasts one segment for a device. Publish failures are
// logged and the segment dropped; live video is never buffered behind a
// broken broker.
func (b *Bus) PublishVideo(identifier string, msg *VideoMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Bus] Failed to marshal video message for %s: %v", identifier, err)
		return
	}
	if err := b.nc.Publish(VideoSubject(identifier), data); err != nil {
		log.Printf("[Bus] Failed to publish %s segment for %s: %v", msg.Kind, identifier, err)
	}
}

// SubscribeVideo delivers every video message for a device to fn until the
// subscription is unsubscribed.
func (b *Bus) SubscribeVideo(identifier string, fn func(*VideoMessage)) (*nats.Subscription, error) {
	return b.nc.Subscribe(VideoSubject(identifier), func(m *nats.Msg) {
		var msg VideoMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Printf("[Bus] Bad video message on %s: %v", m.Subject, err)
			return
		}
		fn(&msg)
	})
}

// PublishCommand sends a stream command toward the ingest node.
func (b *Bus) PublishCommand(cmd *StreamCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return b.nc.Publish(commandSubject, data)
}

// SubscribeCommands delivers stream commands to fn.
func (b *Bus) SubscribeCommands(fn func(*StreamCommand)) (*nats.Subscription, error) {
	return b.nc.Subscribe(commandSubject, func(m *nats.Msg) {
		var cmd StreamCommand
		if err := json.Unmarshal(m.Data, &cmd); err != nil {
			log.Printf("[Bus] Bad stream command: %v", err)
			return
		}
		fn(&cmd)
	})
}

// PublishStreamStatus announces a stream state change.
func (b *Bus) PublishStreamStatus(st *StreamStatus) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	if err := b.nc.Publish(statusSubject, data); err != nil {
		log.Printf("[Bus] Failed to publish stream status for %s: %v", st.Identifier, err)
	}
}

// SubscribeStreamStatus delivers stream state changes to fn.
func (b *Bus) SubscribeStreamStatus(fn func(*StreamStatus)) (*nats.Subscription, error) {
	return b.nc.Subscribe(statusSubject, func(m *nats.Msg) {
		var st StreamStatus
		if err := json.Unmarshal(m.Data, &st); err != nil {
			return
		}
		fn(&st)
	})
}
