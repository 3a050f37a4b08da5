package atem

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport. Datagrams pushed with deliver are
// returned by TryReceive in order; everything sent is recorded.
type fakeTransport struct {
	mu      sync.Mutex
	inbound [][]byte
	sent    [][]byte
	recvErr error
	closed  bool
	remote  string

	// gate, when set, blocks Send until it is closed; entered is signaled
	// on the first blocked Send
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeTransport) Bind(string) error { return nil }

func (f *fakeTransport) Connect(remote string) error {
	f.mu.Lock()
	f.remote = remote
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Send(data []byte) (int, error) {
	if f.gate != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return len(data), nil
}

func (f *fakeTransport) TryReceive(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.recvErr != nil {
		return 0, f.recvErr
	}
	if len(f.inbound) == 0 {
		return 0, ErrWouldBlock
	}
	n := copy(buf, f.inbound[0])
	f.inbound = f.inbound[1:]
	return n, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) deliver(pkt []byte) {
	f.mu.Lock()
	f.inbound = append(f.inbound, pkt)
	f.mu.Unlock()
}

func (f *fakeTransport) failReceive(err error) {
	f.mu.Lock()
	f.recvErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) packets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// encodePacket builds an inbound datagram
func encodePacket(h Header, data []byte) []byte {
	h.PayloadLen = uint16(len(data))
	buf := h.Encode()
	return append(buf[:], data...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func nextEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return nil
	}
}

func newTestClient(t *testing.T, ft *fakeTransport, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithTransport(ft),
		WithPollInterval(time.Millisecond),
		WithLogger(discardLogger()),
	}, opts...)

	c, err := NewClient(opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// connect starts the client and completes the handshake with session 0x8001
func connect(t *testing.T, c *Client, ft *fakeTransport) {
	t.Helper()
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	ft.deliver(encodePacket(Header{Flags: FlagHello, SessionID: 0x8001}, make([]byte, 8)))
	waitFor(t, "handshake", c.IsConnected)
	if _, ok := nextEvent(t, c).(Connected); !ok {
		t.Fatal("first event is not Connected")
	}
}

func TestNewClientRequiresAddress(t *testing.T) {
	if _, err := NewClient(); err == nil {
		t.Error("NewClient() without address succeeded")
	}
}

func TestClientHandshake(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, WithRemoteAddress("10.0.0.5"))

	if err := c.RunMacro(0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RunMacro() before Connect error = %v, want ErrNotConnected", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}

	waitFor(t, "hello", func() bool { return len(ft.packets()) == 1 })
	if got := ft.packets()[0]; !bytes.Equal(got, BuildHello()) {
		t.Errorf("first packet = %v, want hello", got)
	}
	if ft.remote != "10.0.0.5:9910" {
		t.Errorf("remote = %q, want default port", ft.remote)
	}
	if c.Phase() != PhaseHelloSent {
		t.Errorf("Phase() = %v, want hello-sent", c.Phase())
	}

	ft.deliver(encodePacket(Header{Flags: FlagHello, SessionID: 0x8001}, make([]byte, 8)))
	waitFor(t, "handshake ack", func() bool { return c.Metrics().AcksSent.Value() == 1 })

	h, err := DecodeHeader(ft.packets()[1])
	if err != nil {
		t.Fatal(err)
	}
	if h.Flags != FlagAck || h.SessionID != 0x8001 || h.Magic != MagicAck {
		t.Errorf("ack header = %+v", h)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false after hello")
	}
	if ev, ok := nextEvent(t, c).(Connected); !ok || ev.SessionID != 0x8001 {
		t.Errorf("event = %#v, want Connected{0x8001}", ev)
	}

	snap := c.Metrics().Snapshot()
	if snap.Connections != 1 || snap.HellosReceived != 1 || snap.AcksSent != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestClientEventsAndAcks(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft)
	connect(t, c, ft)

	data := payload(chunk("KeOn", 1, 2, 1, 0), chunk("PrgI", 0, 0, 0, 5))
	ft.deliver(encodePacket(Header{Flags: FlagAckRequest, SessionID: 0x8001, PackageID: 7}, data))
	ft.deliver(encodePacket(Header{Flags: FlagAckRequest, SessionID: 0x8001, PackageID: 8}, nil))

	var got []Event
	waitFor(t, "events", func() bool {
		got = append(got, c.Update()...)
		return len(got) >= 3
	})

	want := []Event{
		KeyerOnAir{ME: 1, Keyer: 2, OnAir: true},
		ProgramInput{Source: 5},
		InitialBurstComplete{},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %#v, want %#v", i, got[i], want[i])
		}
	}

	// hello, handshake ack, ack 7, ack 8
	waitFor(t, "acks", func() bool { return len(ft.packets()) == 4 })
	for i, wantID := range []uint16{7, 8} {
		h, err := DecodeHeader(ft.packets()[2+i])
		if err != nil {
			t.Fatal(err)
		}
		if h.Flags != FlagAck || h.AckID != wantID || h.SessionID != 0x8001 {
			t.Errorf("ack %d header = %+v, want ack of %d", i, h, wantID)
		}
	}
}

func TestClientUpdateBatch(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, WithUpdateBatch(2))
	connect(t, c, ft)

	data := payload(chunk("VidM", 1, 0, 0, 0), chunk("VidM", 2, 0, 0, 0), chunk("VidM", 3, 0, 0, 0))
	ft.deliver(encodePacket(Header{Flags: FlagAckRequest, SessionID: 0x8001, PackageID: 1}, data))
	waitFor(t, "events", func() bool { return len(c.Events()) == 3 })

	if got := c.Update(); len(got) != 2 {
		t.Errorf("Update() returned %d events, want 2", len(got))
	}
	if got := c.Update(); len(got) != 1 {
		t.Errorf("Update() returned %d events, want 1", len(got))
	}
	if got := c.Update(); len(got) != 0 {
		t.Errorf("Update() returned %d events, want 0", len(got))
	}
}

func TestClientRunMacro(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft)
	connect(t, c, ft)

	if err := c.RunMacro(2); err != nil {
		t.Fatalf("RunMacro() error = %v", err)
	}
	waitFor(t, "command", func() bool { return len(ft.packets()) == 3 })

	want := []byte{
		0x08, 24, 0x80, 0x01, 0, 0, 0, 0, 0, 0, 0, 1,
		0, 12, 0, 0, 'M', 'A', 'c', 't',
		0, 2, 0, 0,
	}
	if got := ft.packets()[2]; !bytes.Equal(got, want) {
		t.Errorf("command = %v, want %v", got, want)
	}
	waitFor(t, "pending gauge", func() bool { return c.Metrics().PendingCommands.Value() == 1 })

	ft.deliver(encodePacket(Header{Flags: FlagAck, SessionID: 0x8001, AckID: 1}, nil))
	waitFor(t, "device ack", func() bool { return c.Metrics().AcksReceived.Value() == 1 })

	snap := c.Metrics().Snapshot()
	if snap.PendingCommands != 0 {
		t.Errorf("PendingCommands = %d, want 0", snap.PendingCommands)
	}
	if snap.CommandLatency.Count != 1 {
		t.Errorf("CommandLatency.Count = %d, want 1", snap.CommandLatency.Count)
	}
	if snap.CommandsSent != 1 {
		t.Errorf("CommandsSent = %d, want 1", snap.CommandsSent)
	}
}

func TestClientUnacknowledgedCommandExpires(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, WithAckTimeout(20*time.Millisecond))
	connect(t, c, ft)

	if err := c.RunMacro(1); err != nil {
		t.Fatalf("RunMacro() error = %v", err)
	}
	waitFor(t, "command sent", func() bool { return c.Metrics().CommandsSent.Value() == 1 })
	waitFor(t, "expiry", func() bool { return c.Metrics().CommandsExpired.Value() == 1 })

	snap := c.Metrics().Snapshot()
	if snap.PendingCommands != 0 {
		t.Errorf("PendingCommands = %d, want 0", snap.PendingCommands)
	}

	// a late ack is counted but no longer settles a command
	ft.deliver(encodePacket(Header{Flags: FlagAck, SessionID: 0x8001, AckID: 1}, nil))
	waitFor(t, "late ack", func() bool { return c.Metrics().AcksReceived.Value() == 1 })
	if n := c.Metrics().CommandLatency.Stats().Count; n != 0 {
		t.Errorf("CommandLatency.Count = %d, want 0", n)
	}
}

func TestClientHelloWhileConnected(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft)
	connect(t, c, ft)
	waitFor(t, "handshake ack", func() bool { return c.Metrics().AcksSent.Value() == 1 })

	if err := c.Submit(HelloCommand{}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	waitFor(t, "second hello", func() bool { return c.Metrics().PacketsSent.Value() == 3 })

	if !c.IsConnected() {
		t.Errorf("IsConnected() = false after resending hello, phase %v", c.Phase())
	}
	if err := c.RunMacro(0); err != nil {
		t.Errorf("RunMacro() error = %v", err)
	}
}

func TestClientResendHandler(t *testing.T) {
	ft := &fakeTransport{}
	resends := make(chan uint16, 1)
	c := newTestClient(t, ft, WithResendHandler(func(id uint16) { resends <- id }))
	connect(t, c, ft)

	ft.deliver(encodePacket(Header{Flags: FlagRequestNext, SessionID: 0x8001, ResendID: 5}, nil))

	select {
	case id := <-resends:
		if id != 5 {
			t.Errorf("resend id = %d, want 5", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("resend handler not called")
	}
}

func TestClientMalformedPayloadIsNotFatal(t *testing.T) {
	ft := &fakeTransport{}
	var unhandled []Tag
	var mu sync.Mutex
	c := newTestClient(t, ft, WithUnhandledTagHook(func(tag Tag) {
		mu.Lock()
		unhandled = append(unhandled, tag)
		mu.Unlock()
	}))
	connect(t, c, ft)

	bad := payload(chunk("Zzzz", 0, 0), chunk("VidM", 6, 0, 0, 0), []byte{0, 3, 0, 0})
	ft.deliver(encodePacket(Header{Flags: FlagAckRequest, SessionID: 0x8001, PackageID: 2}, bad))
	ft.deliver([]byte{1, 2, 3})

	if ev, ok := nextEvent(t, c).(VideoMode); !ok || ev.Mode != 6 {
		t.Errorf("event = %#v, want VideoMode{6}", ev)
	}
	waitFor(t, "decode errors", func() bool { return c.Metrics().DecodeErrors.Value() == 2 })

	if !c.IsConnected() {
		t.Error("connection dropped on a decode error")
	}
	if c.Metrics().UnhandledChunks.Value() != 1 {
		t.Errorf("UnhandledChunks = %d, want 1", c.Metrics().UnhandledChunks.Value())
	}
	mu.Lock()
	defer mu.Unlock()
	if len(unhandled) != 1 || unhandled[0] != MustParseTag("Zzzz") {
		t.Errorf("unhandled = %v, want [Zzzz]", unhandled)
	}
}

func TestClientProtocolViolation(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft)
	connect(t, c, ft)

	ft.deliver(encodePacket(Header{Flags: FlagResend, SessionID: 0x8001}, nil))

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}

	if !errors.Is(c.Err(), ErrProtocolViolation) {
		t.Errorf("Err() = %v, want ErrProtocolViolation", c.Err())
	}
	if c.Phase() != PhaseFaulted {
		t.Errorf("Phase() = %v, want faulted", c.Phase())
	}
	if !ft.isClosed() {
		t.Error("transport not closed")
	}

	ev, ok := nextEvent(t, c).(ConnectionLost)
	if !ok || !errors.Is(ev.Err, ErrProtocolViolation) {
		t.Errorf("event = %#v, want ConnectionLost", ev)
	}
	if err := c.RunMacro(1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RunMacro() after fault error = %v, want ErrNotConnected", err)
	}
	if err := c.Submit(ShutdownCommand{}); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Submit() after fault error = %v, want ErrConnectionClosed", err)
	}
}

func TestClientTransportError(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft)
	connect(t, c, ft)

	boom := errors.New("network unreachable")
	ft.failReceive(boom)
	<-c.Done()

	var te *TransportError
	if !errors.As(c.Err(), &te) || te.Op != "receive" || !errors.Is(c.Err(), boom) {
		t.Errorf("Err() = %v, want receive TransportError", c.Err())
	}
	if c.Phase() != PhaseClosed {
		t.Errorf("Phase() = %v, want closed", c.Phase())
	}
}

func TestClientClose(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft)
	connect(t, c, ft)

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if c.Phase() != PhaseClosed {
		t.Errorf("Phase() = %v, want closed", c.Phase())
	}
	if !ft.isClosed() {
		t.Error("transport not closed")
	}
	if c.Err() != nil {
		t.Errorf("Err() = %v after clean close", c.Err())
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if c.Metrics().Disconnects.Value() != 1 {
		t.Errorf("Disconnects = %d, want 1", c.Metrics().Disconnects.Value())
	}
}

func TestClientConnectCanceled(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Connect(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Connect() error = %v, want context.Canceled", err)
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done() not closed after failed Connect")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestClientIntentQueueFull(t *testing.T) {
	ft := &fakeTransport{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	c := newTestClient(t, ft, WithQueueSizes(2, 0))

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	// the connection goroutine is now blocked sending the hello
	<-ft.entered

	cmd := GenericCommand{Tag: TagCut, Body: []byte{0, 0, 0, 0}}
	for i := 0; i < 2; i++ {
		if err := c.Submit(cmd); err != nil {
			t.Fatalf("Submit() %d error = %v", i, err)
		}
	}
	if err := c.Submit(cmd); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Submit() on full queue error = %v, want ErrQueueFull", err)
	}
	if c.Metrics().IntentsDropped.Value() != 1 {
		t.Errorf("IntentsDropped = %d, want 1", c.Metrics().IntentsDropped.Value())
	}

	close(ft.gate)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	// generic commands queued before the handshake are dropped
	if got := c.Metrics().CommandsFailed.Value(); got != 2 {
		t.Errorf("CommandsFailed = %d, want 2", got)
	}
	if got := len(ft.packets()); got != 1 {
		t.Errorf("sent %d packets, want only the hello", got)
	}
}

func TestClientEventQueueOverflow(t *testing.T) {
	ft := &fakeTransport{}
	c := newTestClient(t, ft, WithQueueSizes(0, 1))

	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	ft.deliver(encodePacket(Header{Flags: FlagHello, SessionID: 1}, make([]byte, 8)))
	data := payload(chunk("VidM", 1, 0, 0, 0), chunk("VidM", 2, 0, 0, 0))
	ft.deliver(encodePacket(Header{Flags: FlagAckRequest, SessionID: 1, PackageID: 1}, data))

	waitFor(t, "dropped events", func() bool { return c.Metrics().EventsDropped.Value() == 2 })

	if _, ok := nextEvent(t, c).(Connected); !ok {
		t.Error("queued event is not Connected")
	}
	// the ack is still sent for the overflowing packet
	waitFor(t, "ack", func() bool { return len(ft.packets()) == 3 })
}
