// Package server owns the two device-facing TCP listeners: the JT808
// signaling port and the JT1078 video port. Each accepted connection gets
// its own reader goroutine; frame boundary detection happens here and
// decoded messages flow to the router or the video pipeline.
package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"dashlink/internal/bus"
	"dashlink/internal/config"
	"dashlink/internal/handler"
	"dashlink/internal/jt808"
	"dashlink/internal/registry"
)

// signalingReadTimeout closes JT808 connections with no traffic; devices
// heartbeat every 30-60 s.
const signalingReadTimeout = 120 * time.Second

// JT808Server accepts device signaling connections, frames the byte stream
// by 0x7E delimiters, and consumes stream commands from the bus to send AV
// requests back out on device sockets.
type JT808Server struct {
	cfg      *config.Config
	registry *registry.Registry
	router   *handler.Router
	conns    handler.ConnectionStore
	bus      *bus.Bus

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewJT808Server wires the signaling server.
func NewJT808Server(cfg *config.Config, reg *registry.Registry, router *handler.Router, conns handler.ConnectionStore, b *bus.Bus) *JT808Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &JT808Server{
		cfg:      cfg,
		registry: reg,
		router:   router,
		conns:    conns,
		bus:      b,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start binds the listener and launches the accept loop and the command
// consumer.
func (s *JT808Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.JT808Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("[JT808] Server listening on %s", addr)

	if s.bus != nil {
		if err := s.startCommandConsumer(); err != nil {
			return err
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop cancels the accept loop and waits briefly for connection readers.
func (s *JT808Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Printf("[JT808] Shutdown grace period elapsed")
	}
}

func (s *JT808Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Printf("[JT808] Accept error: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.HandleConnection(conn)
		}()
	}
}

// HandleConnection runs the read loop for one device socket. Exported so
// tests can drive it over a pipe.
func (s *JT808Server) HandleConnection(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	log.Printf("[JT808] New connection from %s", peer)

	var identifier string
	defer func() {
		s.teardown(conn, identifier, peer)
	}()

	buffer := make([]byte, 4096)
	var pending []byte

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(signalingReadTimeout))
		n, err := conn.Read(buffer)
		if err != nil {
			if err != io.EOF {
				log.Printf("[JT808] Read error from %s: %v", peer, err)
			}
			return
		}
		pending = append(pending, buffer[:n]...)

		for {
			frame, rest := ExtractFrame(pending)
			pending = rest
			if frame == nil {
				break
			}

			msg, err := jt808.ParseMessage(frame)
			if err != nil {
				log.Printf("[JT808] Parse error from %s: %v", peer, err)
				continue
			}

			response, id := s.router.Handle(conn, msg)
			if id != "" {
				identifier = id
			}
			if response != nil {
				if _, err := writeWithDeadline(conn, response); err != nil {
					log.Printf("[JT808] Write error to %s: %v", peer, err)
					return
				}
			}
		}
	}
}

func (s *JT808Server) teardown(conn net.Conn, identifier, peer string) {
	conn.Close()
	log.Printf("[JT808] Connection closed from %s", peer)

	if identifier == "" {
		return
	}
	sess, ok := s.registry.Lookup(identifier)
	if !ok || !sess.Owns(conn) {
		// Superseded by a newer connection; nothing to tear down.
		return
	}
	s.registry.Remove(identifier, sess)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.conns.MarkDisconnected(ctx, identifier); err != nil {
		log.Printf("[JT808] Disconnect row update failed for %s: %v", identifier, err)
	}
}

// startCommandConsumer subscribes to stream commands from the gateway and
// turns them into 0x9101/0x9102 frames on the device socket.
func (s *JT808Server) startCommandConsumer() error {
	sub, err := s.bus.SubscribeCommands(s.handleStreamCommand)
	if err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	go func() {
		<-s.ctx.Done()
		sub.Unsubscribe()
	}()
	log.Printf("[JT808] Stream command consumer started")
	return nil
}

func (s *JT808Server) handleStreamCommand(cmd *bus.StreamCommand) {
	sess, ok := s.registry.Lookup(cmd.Identifier)
	if !ok {
		log.Printf("[JT808] Stream %s for %s: device not connected", cmd.Op, cmd.Identifier)
		return
	}

	serverIP := cmd.ServerIP
	if serverIP == "" {
		serverIP = s.cfg.PublicIP
	}
	videoPort := cmd.VideoPort
	if videoPort == 0 {
		videoPort = s.cfg.JT1078Port
	}

	var frame []byte
	switch cmd.Op {
	case bus.OpStart:
		frame = jt808.BuildRealtimeAVRequest(sess.Phone, cmd.Channel, serverIP, uint16(videoPort), cmd.StreamType, sess.NextSeq())
	case bus.OpStop:
		frame = jt808.BuildAVControl(sess.Phone, cmd.Channel, jt808.AVControlClose, 0, 0, sess.NextSeq())
	default:
		log.Printf("[JT808] Unknown stream command op %q", cmd.Op)
		return
	}

	if err := sess.Write(frame); err != nil {
		log.Printf("[JT808] Failed to send stream %s to %s: %v", cmd.Op, cmd.Identifier, err)
		return
	}

	if cmd.Op == bus.OpStart {
		sess.SetStreaming(true, cmd.Channel)
	} else {
		sess.SetStreaming(false, 0)
	}
	if s.bus != nil {
		s.bus.PublishStreamStatus(&bus.StreamStatus{
			Identifier: cmd.Identifier,
			Channel:    cmd.Channel,
			Streaming:  cmd.Op == bus.OpStart,
		})
	}
	log.Printf("[JT808] Sent stream %s to %s ch%d", cmd.Op, cmd.Identifier, cmd.Channel)
}

// ExtractFrame scans for one complete 0x7E-delimited frame. A nil frame
// means more data is needed; bytes before the opening flag are discarded.
func ExtractFrame(data []byte) (frame, rest []byte) {
	start := bytes.IndexByte(data, jt808.Flag)
	if start < 0 {
		return nil, nil
	}
	data = data[start:]

	// Devices sometimes run frames back to back as 7E..7E 7E..7E; an
	// empty 7E 7E pair is skipped.
	for len(data) >= 2 && data[1] == jt808.Flag {
		data = data[1:]
	}

	end := bytes.IndexByte(data[1:], jt808.Flag)
	if end < 0 {
		return nil, data
	}
	end += 1
	return data[:end+1], data[end+1:]
}

func writeWithDeadline(conn net.Conn, data []byte) (int, error) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.Write(data)
}
