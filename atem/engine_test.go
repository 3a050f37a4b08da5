package atem

import (
	"errors"
	"reflect"
	"testing"
)

func newTestEngine() *Engine {
	logger := discardLogger()
	return NewEngine(NewPayloadDecoder(logger), logger)
}

func helloPacket(session uint16) Packet {
	return Packet{Header: Header{Flags: FlagHello, PayloadLen: 8, SessionID: session, Magic: MagicHello}}
}

func ackRequestPacket(session, pkg uint16, data []byte) Packet {
	return Packet{
		Header:  Header{Flags: FlagAckRequest, PayloadLen: uint16(len(data)), SessionID: session, PackageID: pkg},
		Payload: data,
	}
}

// establish runs the handshake and returns the engine in PhaseEstablished
func establish(t *testing.T, session uint16) *Engine {
	t.Helper()
	e := newTestEngine()
	e.Connect()
	if _, err := e.Handle(helloPacket(session)); err != nil {
		t.Fatalf("Handle(hello) error = %v", err)
	}
	return e
}

func TestEngineHandshake(t *testing.T) {
	e := newTestEngine()
	if e.Phase() != PhaseDisconnected {
		t.Fatalf("initial phase = %v, want disconnected", e.Phase())
	}

	if cmd := e.Connect(); cmd != (HelloCommand{}) {
		t.Errorf("Connect() = %#v, want HelloCommand", cmd)
	}
	if e.Phase() != PhaseHelloSent {
		t.Errorf("phase after Connect = %v, want hello-sent", e.Phase())
	}

	r, err := e.Handle(helloPacket(0x8001))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if e.Phase() != PhaseEstablished {
		t.Errorf("phase = %v, want established", e.Phase())
	}
	if e.SessionID() != 0x8001 {
		t.Errorf("SessionID() = 0x%04x, want 0x8001", e.SessionID())
	}
	if !r.Connected {
		t.Error("Connected = false on first hello")
	}
	want := []Command{AckCommand{SessionID: 0x8001}}
	if !reflect.DeepEqual(r.Replies, want) {
		t.Errorf("Replies = %#v, want %#v", r.Replies, want)
	}
}

func TestEngineDuplicateHello(t *testing.T) {
	e := establish(t, 0x8001)

	r, err := e.Handle(helloPacket(0x8002))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if r.Connected {
		t.Error("Connected = true on repeated hello")
	}
	if len(r.Replies) != 1 {
		t.Fatalf("Replies = %d, want 1", len(r.Replies))
	}
	if e.SessionID() != 0x8002 {
		t.Errorf("SessionID() = 0x%04x, want the latest 0x8002", e.SessionID())
	}
	if e.Phase() != PhaseEstablished {
		t.Errorf("phase = %v, want established", e.Phase())
	}
}

func TestEngineHelloWhileEstablished(t *testing.T) {
	e := establish(t, 0x8001)

	if cmd := e.Connect(); cmd != (HelloCommand{}) {
		t.Errorf("Connect() = %#v, want HelloCommand", cmd)
	}
	if e.Phase() != PhaseEstablished {
		t.Errorf("phase = %v, want established", e.Phase())
	}
	if _, _, err := e.Generic(GenericCommand{Tag: TagCut, Body: []byte{0, 0, 0, 0}}); err != nil {
		t.Errorf("Generic() error = %v", err)
	}
}

func TestEngineAckRequestWithEvents(t *testing.T) {
	e := establish(t, 0x8001)

	r, err := e.Handle(ackRequestPacket(0x8001, 7, []byte{0, 10, 0, 0, 'K', 'e', 'O', 'n', 1, 2, 1}))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	wantEvents := []Event{KeyerOnAir{ME: 1, Keyer: 2, OnAir: true}}
	if !reflect.DeepEqual(r.Events, wantEvents) {
		t.Errorf("Events = %+v, want %+v", r.Events, wantEvents)
	}
	wantReplies := []Command{AckCommand{SessionID: 0x8001, PackageID: 7}}
	if !reflect.DeepEqual(r.Replies, wantReplies) {
		t.Errorf("Replies = %#v, want %#v", r.Replies, wantReplies)
	}
	if r.InitialBurstComplete {
		t.Error("InitialBurstComplete set on a non-empty packet")
	}
}

func TestEngineInitialBurstLatch(t *testing.T) {
	e := establish(t, 1)

	r, err := e.Handle(ackRequestPacket(1, 10, nil))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !r.InitialBurstComplete || !e.InitialBurstComplete() {
		t.Error("first empty AckRequest did not latch the initial burst")
	}
	if len(r.Replies) != 1 {
		t.Errorf("Replies = %d, want 1", len(r.Replies))
	}

	r, err = e.Handle(ackRequestPacket(1, 11, nil))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if r.InitialBurstComplete {
		t.Error("InitialBurstComplete reported twice")
	}
	if !e.InitialBurstComplete() {
		t.Error("latch cleared")
	}
}

func TestEngineDecodeErrorStillAcks(t *testing.T) {
	e := establish(t, 1)

	data := payload(chunk("VidM", 3, 0, 0, 0), []byte{0, 50, 0, 0, 'P', 'r', 'g', 'I'})
	r, err := e.Handle(ackRequestPacket(1, 4, data))

	if !errors.Is(err, ErrTruncatedChunk) {
		t.Fatalf("Handle() error = %v, want ErrTruncatedChunk", err)
	}
	if IsFatal(err) {
		t.Error("decode error reported as fatal")
	}
	if want := []Event{VideoMode{Mode: 3}}; !reflect.DeepEqual(r.Events, want) {
		t.Errorf("Events = %+v, want %+v", r.Events, want)
	}
	if want := []Command{AckCommand{SessionID: 1, PackageID: 4}}; !reflect.DeepEqual(r.Replies, want) {
		t.Errorf("Replies = %#v, want %#v", r.Replies, want)
	}
	if e.Phase() != PhaseEstablished {
		t.Errorf("phase = %v, want established", e.Phase())
	}
}

func TestEngineAckAndResend(t *testing.T) {
	tests := []struct {
		name       string
		header     Header
		wantAcked  *uint16
		wantResend *uint16
		wantReply  int
	}{
		{
			name:      "ack",
			header:    Header{Flags: FlagAck, SessionID: 1, AckID: 3},
			wantAcked: ptr(3),
		},
		{
			name:       "request next",
			header:     Header{Flags: FlagRequestNext, SessionID: 1, ResendID: 9},
			wantResend: ptr(9),
		},
		{
			name:       "combined",
			header:     Header{Flags: FlagAckRequest | FlagAck | FlagRequestNext, SessionID: 1, AckID: 2, ResendID: 5, PackageID: 8},
			wantAcked:  ptr(2),
			wantResend: ptr(5),
			wantReply:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := establish(t, 1)

			r, err := e.Handle(Packet{Header: tt.header})
			if err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if !reflect.DeepEqual(r.Acked, tt.wantAcked) {
				t.Errorf("Acked = %v, want %v", deref(r.Acked), deref(tt.wantAcked))
			}
			if tt.wantAcked != nil && e.LastAcked() != *tt.wantAcked {
				t.Errorf("LastAcked() = %d, want %d", e.LastAcked(), *tt.wantAcked)
			}
			if !reflect.DeepEqual(r.ResendRequested, tt.wantResend) {
				t.Errorf("ResendRequested = %v, want %v", deref(r.ResendRequested), deref(tt.wantResend))
			}
			if len(r.Replies) != tt.wantReply {
				t.Errorf("Replies = %d, want %d", len(r.Replies), tt.wantReply)
			}
		})
	}
}

func TestEngineProtocolViolation(t *testing.T) {
	for _, flags := range []Flag{0, FlagResend} {
		t.Run(flags.String(), func(t *testing.T) {
			e := establish(t, 1)

			_, err := e.Handle(Packet{Header: Header{Flags: flags, SessionID: 1}})
			if !errors.Is(err, ErrProtocolViolation) {
				t.Fatalf("Handle() error = %v, want ErrProtocolViolation", err)
			}
			var pv *ProtocolViolation
			if !errors.As(err, &pv) || pv.Flags != flags {
				t.Errorf("error = %#v, want *ProtocolViolation with flags %v", err, flags)
			}
			if !IsFatal(err) {
				t.Error("protocol violation not fatal")
			}
			if e.Phase() != PhaseFaulted {
				t.Errorf("phase = %v, want faulted", e.Phase())
			}

			if _, err := e.Handle(helloPacket(1)); !errors.Is(err, ErrConnectionClosed) {
				t.Errorf("Handle() after fault error = %v, want ErrConnectionClosed", err)
			}
		})
	}
}

func TestEngineGenericNumbering(t *testing.T) {
	e := newTestEngine()

	if _, _, err := e.Generic(GenericCommand{Tag: TagCut, Body: []byte{0, 0, 0, 0}}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Generic() before handshake error = %v, want ErrNotConnected", err)
	}

	e.Connect()
	if _, err := e.Handle(helloPacket(0x8001)); err != nil {
		t.Fatal(err)
	}

	// acks do not consume package ids
	if _, err := e.Encode(AckCommand{SessionID: 0x8001}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Handle(ackRequestPacket(0x8001, 1, nil)); err != nil {
		t.Fatal(err)
	}

	for want := uint16(1); want <= 3; want++ {
		buf, id, err := e.Generic(GenericCommand{Tag: TagCut, Body: []byte{0, 0, 0, 0}})
		if err != nil {
			t.Fatalf("Generic() error = %v", err)
		}
		if id != want {
			t.Errorf("package id = %d, want %d", id, want)
		}
		h, err := DecodeHeader(buf)
		if err != nil {
			t.Fatal(err)
		}
		if h.PackageID != want || h.SessionID != 0x8001 {
			t.Errorf("header = %+v, want package %d session 0x8001", h, want)
		}
	}
	if e.LocalPackageID() != 3 {
		t.Errorf("LocalPackageID() = %d, want 3", e.LocalPackageID())
	}
}

func TestEngineAckEncodesAcknowledgedID(t *testing.T) {
	e := establish(t, 0x8001)

	r, err := e.Handle(ackRequestPacket(0x8001, 42, nil))
	if err != nil {
		t.Fatal(err)
	}
	buf, err := e.Encode(r.Replies[0])
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		t.Fatal(err)
	}
	if h.Flags != FlagAck || h.SessionID != 0x8001 || h.AckID != 42 {
		t.Errorf("ack header = %+v, want ack of 42 on session 0x8001", h)
	}
}

func TestEngineShutdown(t *testing.T) {
	e := establish(t, 1)
	e.Shutdown()

	if e.Phase() != PhaseClosed {
		t.Errorf("phase = %v, want closed", e.Phase())
	}
	if _, err := e.Handle(ackRequestPacket(1, 1, nil)); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Handle() after shutdown error = %v, want ErrConnectionClosed", err)
	}
}

func ptr(v uint16) *uint16 { return &v }

func deref(p *uint16) any {
	if p == nil {
		return nil
	}
	return *p
}
