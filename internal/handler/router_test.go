package handler

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"

	"dashlink/internal/jt808"
	"dashlink/internal/registry"
	"dashlink/internal/service"
)

type fakeCatalog struct {
	known map[string]bool
}

func (c *fakeCatalog) Exists(ctx context.Context, key string) bool { return c.known[key] }

type fakeConnStore struct {
	mu            sync.Mutex
	registered    []string
	authenticated []string
	heartbeats    []string
	disconnected  []string
}

func (s *fakeConnStore) MarkRegistered(ctx context.Context, identifier, phone, authCode, peerIP string, peerPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered = append(s.registered, identifier)
	return nil
}

func (s *fakeConnStore) MarkAuthenticated(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = append(s.authenticated, identifier)
	return nil
}

func (s *fakeConnStore) TouchHeartbeat(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats = append(s.heartbeats, identifier)
	return nil
}

func (s *fakeConnStore) MarkDisconnected(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = append(s.disconnected, identifier)
	return nil
}

type fakeLocationStore struct {
	mu    sync.Mutex
	saved []*jt808.Location
}

func (s *fakeLocationStore) Save(ctx context.Context, identifier string, loc *jt808.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, loc)
	return nil
}

func newTestRouter(known ...string) (*Router, *registry.Registry, *fakeConnStore, *fakeLocationStore) {
	catalog := &fakeCatalog{known: make(map[string]bool)}
	for _, k := range known {
		catalog.known[k] = true
	}
	reg := registry.New()
	conns := &fakeConnStore{}
	locations := &fakeLocationStore{}
	router := NewRouter(reg, catalog, conns, locations, service.NewNotificationDispatcher())
	return router, reg, conns, locations
}

func registrationBody(terminalID string) []byte {
	body := make([]byte, 0, 37)
	body = binary.BigEndian.AppendUint16(body, 11)
	body = binary.BigEndian.AppendUint16(body, 44)
	body = append(body, []byte("BSJGP")...)
	model := make([]byte, 20)
	copy(model, "Dashcam Model V1")
	body = append(body, model...)
	terminal := make([]byte, 7)
	copy(terminal, terminalID)
	body = append(body, terminal...)
	body = append(body, 0)
	return body
}

func locationBody() []byte {
	body := make([]byte, 0, 28)
	body = binary.BigEndian.AppendUint32(body, 0)        // alarm
	body = binary.BigEndian.AppendUint32(body, 0x03)     // status
	body = binary.BigEndian.AppendUint32(body, 27717500) // lat
	body = binary.BigEndian.AppendUint32(body, 85324000) // lon
	body = binary.BigEndian.AppendUint16(body, 1320)     // alt
	body = binary.BigEndian.AppendUint16(body, 0)        // speed
	body = binary.BigEndian.AppendUint16(body, 0)        // dir
	body = append(body, jt808.EncodeBCD("250314092653", 6)...)
	return body
}

func parseResponse(t *testing.T, frame []byte) *jt808.Message {
	t.Helper()
	msg, err := jt808.ParseMessage(frame)
	if err != nil {
		t.Fatalf("response did not parse: %v", err)
	}
	return msg
}

// Registration, auth and heartbeat round trip for a catalogued device.
func TestRouterRegistrationAuthHeartbeat(t *testing.T) {
	const phone = "123456789012"
	router, reg, _, _ := newTestRouter(phone)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	// Registration.
	regMsg, _ := jt808.ParseMessage(jt808.BuildMessage(jt808.MsgIDRegistration, phone, 1, registrationBody("JT808ID")))
	resp, identifier := router.Handle(server, regMsg)
	if identifier != "JT808ID" {
		t.Fatalf("identifier = %q, want JT808ID", identifier)
	}
	out := parseResponse(t, resp)
	if out.MsgID != jt808.MsgIDRegistrationResponse {
		t.Fatalf("response id = 0x%04X", out.MsgID)
	}
	if got := binary.BigEndian.Uint16(out.Body[0:2]); got != 1 {
		t.Errorf("response seq = %d, want 1", got)
	}
	if out.Body[2] != jt808.RegResultSuccess {
		t.Errorf("registration result = %d", out.Body[2])
	}
	authCode := string(out.Body[3:])
	if authCode == "" {
		t.Error("no auth code issued")
	}

	sess, ok := reg.Lookup("JT808ID")
	if !ok {
		t.Fatal("session not registered")
	}
	if sess.Manufacturer != "BSJGP" || sess.Model != "Dashcam Model V1" {
		t.Errorf("session metadata: %q %q", sess.Manufacturer, sess.Model)
	}

	// Authentication with the issued code.
	authMsg, _ := jt808.ParseMessage(jt808.BuildMessage(jt808.MsgIDAuth, phone, 2, []byte(authCode)))
	resp, identifier = router.Handle(server, authMsg)
	if identifier != "JT808ID" {
		t.Fatalf("auth identifier = %q", identifier)
	}
	out = parseResponse(t, resp)
	if out.MsgID != jt808.MsgIDPlatformResponse {
		t.Fatalf("auth response id = 0x%04X", out.MsgID)
	}
	if got := binary.BigEndian.Uint16(out.Body[2:4]); got != jt808.MsgIDAuth {
		t.Errorf("auth response references 0x%04X", got)
	}
	if out.Body[4] != jt808.ResultSuccess {
		t.Errorf("auth result = %d", out.Body[4])
	}

	// Heartbeat.
	hbMsg, _ := jt808.ParseMessage(jt808.BuildMessage(jt808.MsgIDHeartbeat, phone, 3, nil))
	resp, _ = router.Handle(server, hbMsg)
	out = parseResponse(t, resp)
	if got := binary.BigEndian.Uint16(out.Body[0:2]); got != 3 {
		t.Errorf("heartbeat response seq = %d, want 3", got)
	}
	if got := binary.BigEndian.Uint16(out.Body[2:4]); got != jt808.MsgIDHeartbeat {
		t.Errorf("heartbeat response references 0x%04X", got)
	}
	if out.Body[4] != jt808.ResultSuccess {
		t.Errorf("heartbeat result = %d", out.Body[4])
	}
}

func TestRouterUncataloguedDevice(t *testing.T) {
	router, _, _, locations := newTestRouter() // empty catalog
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	regMsg, _ := jt808.ParseMessage(jt808.BuildMessage(jt808.MsgIDRegistration, "999999999999", 1, registrationBody("NOPE")))
	resp, identifier := router.Handle(server, regMsg)
	if identifier != "" {
		t.Errorf("identifier bound for unknown device: %q", identifier)
	}
	out := parseResponse(t, resp)
	if out.Body[2] != jt808.RegResultNoTerminal {
		t.Errorf("registration result = %d, want no-terminal", out.Body[2])
	}

	// Heartbeat and location from unknown devices are silently dropped.
	hbMsg, _ := jt808.ParseMessage(jt808.BuildMessage(jt808.MsgIDHeartbeat, "999999999999", 2, nil))
	if resp, _ := router.Handle(server, hbMsg); resp != nil {
		t.Error("heartbeat from unknown device got a response")
	}
	locMsg, _ := jt808.ParseMessage(jt808.BuildMessage(jt808.MsgIDLocationReport, "999999999999", 3, locationBody()))
	if resp, _ := router.Handle(server, locMsg); resp != nil {
		t.Error("location from unknown device got a response")
	}
	locations.mu.Lock()
	saved := len(locations.saved)
	locations.mu.Unlock()
	if saved != 0 {
		t.Errorf("unknown device persisted %d fixes", saved)
	}
}

func TestRouterUnknownMessageAck(t *testing.T) {
	const phone = "123456789012"
	router, _, _, _ := newTestRouter(phone)
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	// A vendor extension the table does not know: generic success ack.
	msg, _ := jt808.ParseMessage(jt808.BuildMessage(0x0F01, phone, 4, []byte{0x01}))
	resp, _ := router.Handle(server, msg)
	out := parseResponse(t, resp)
	if out.MsgID != jt808.MsgIDPlatformResponse {
		t.Fatalf("response id = 0x%04X", out.MsgID)
	}
	if got := binary.BigEndian.Uint16(out.Body[2:4]); got != 0x0F01 {
		t.Errorf("ack references 0x%04X", got)
	}
	if out.Body[4] != jt808.ResultSuccess {
		t.Errorf("result = %d, want success", out.Body[4])
	}
}

func TestRouterTerminalResponseNeedsNoReply(t *testing.T) {
	router, _, _, _ := newTestRouter("123456789012")
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	msg, _ := jt808.ParseMessage(jt808.BuildMessage(jt808.MsgIDTerminalResponse, "123456789012", 1, []byte{0x00, 0x01, 0x91, 0x01, 0x00}))
	if resp, _ := router.Handle(server, msg); resp != nil {
		t.Error("terminal response got a reply")
	}
}
