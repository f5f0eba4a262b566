package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"dashlink/internal/bus"
	"dashlink/internal/config"
	"dashlink/internal/fmp4"
	"dashlink/internal/jt1078"
	"dashlink/internal/registry"
)

// videoReadTimeout is deliberately long: a video connection legitimately
// goes idle between streaming sessions.
const videoReadTimeout = 10 * time.Minute

// JT1078Server accepts device video connections, scans the stream for
// complete packets, reassembles fragmented frames, transmuxes them to fMP4
// and broadcasts the segments on the bus.
type JT1078Server struct {
	cfg      *config.Config
	registry *registry.Registry
	bus      *bus.Bus

	assembler *jt1078.Assembler

	mu      sync.Mutex
	streams map[string]*fmp4.Transmuxer // sim_channel

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewJT1078Server wires the video server.
func NewJT1078Server(cfg *config.Config, reg *registry.Registry, b *bus.Bus) *JT1078Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &JT1078Server{
		cfg:       cfg,
		registry:  reg,
		bus:       b,
		assembler: jt1078.NewAssembler(),
		streams:   make(map[string]*fmp4.Transmuxer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start binds the listener and launches the accept loop.
func (s *JT1078Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.JT1078Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = listener
	log.Printf("[JT1078] Video server listening on %s", addr)

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop cancels the accept loop and waits briefly for connection readers.
func (s *JT1078Server) Stop() {
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
		log.Printf("[JT1078] Shutdown grace period elapsed")
	}
}

func (s *JT1078Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				log.Printf("[JT1078] Accept error: %v", err)
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

// HandleConnection runs the read loop for one video socket. Exported so
// tests can drive it over a pipe.
func (s *JT1078Server) HandleConnection(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	log.Printf("[JT1078] New video connection from %s", peer)

	var currentSIM string
	defer func() {
		conn.Close()
		if currentSIM != "" {
			s.cleanupDevice(currentSIM)
		}
		log.Printf("[JT1078] Video connection closed from %s", peer)
	}()

	buffer := make([]byte, 65536)
	var pending []byte

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(videoReadTimeout))
		n, err := conn.Read(buffer)
		if err != nil {
			if err != io.EOF {
				log.Printf("[JT1078] Read error from %s: %v", peer, err)
			}
			return
		}
		pending = append(pending, buffer[:n]...)

		for {
			raw, rest := jt1078.ExtractPacket(pending)
			pending = rest
			if raw == nil {
				break
			}

			packet, err := jt1078.ParsePacket(raw)
			if err != nil {
				log.Printf("[JT1078] Packet parse error from %s: %v", peer, err)
				continue
			}
			currentSIM = packet.SIM
			s.processPacket(packet)
		}
	}
}

func (s *JT1078Server) processPacket(p *jt1078.Packet) {
	if !p.IsVideo() {
		// Audio and transparent data are not re-multiplexed.
		return
	}

	frame := s.assembler.Process(p)
	if frame == nil {
		return
	}

	t := s.stream(p.SIM, p.Channel)
	for _, seg := range t.Write(frame) {
		if seg.Init {
			s.announceStream(p.SIM, p.Channel, t)
			s.bus.PublishVideo(p.SIM, &bus.VideoMessage{
				Kind:    bus.KindInit,
				Channel: p.Channel,
				Codec:   seg.Codec,
				Payload: seg.Data,
			})
			continue
		}
		s.bus.PublishVideo(p.SIM, &bus.VideoMessage{
			Kind:    bus.KindSegment,
			Channel: p.Channel,
			Payload: seg.Data,
		})
	}
}

func (s *JT1078Server) stream(sim string, channel byte) *fmp4.Transmuxer {
	key := fmt.Sprintf("%s_%d", sim, channel)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.streams[key]
	if !ok {
		t = fmp4.NewTransmuxer()
		s.streams[key] = t
	}
	return t
}

// announceStream records the negotiated stream parameters once the
// transmuxer initializes, so the gateway's bookkeeping sees codec and
// dimensions.
func (s *JT1078Server) announceStream(sim string, channel byte, t *fmp4.Transmuxer) {
	width, height := t.Dimensions()
	s.bus.PublishStreamStatus(&bus.StreamStatus{
		Identifier: sim,
		Channel:    channel,
		Streaming:  true,
		Codec:      t.CodecString(),
		Width:      width,
		Height:     height,
		FPS:        t.FPS(),
	})
}

func (s *JT1078Server) cleanupDevice(sim string) {
	s.assembler.ClearDevice(sim)

	prefix := sim + "_"
	s.mu.Lock()
	for key := range s.streams {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(s.streams, key)
		}
	}
	s.mu.Unlock()

	if sess, ok := s.registry.Lookup(sim); ok {
		sess.SetStreaming(false, 0)
	}
}
