package atem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeo/drivers/atem/atem/internal/transport"
)

// receiveBufferSize fits the largest datagram a switcher sends
const receiveBufferSize = 2048

// Transport is the datagram socket driven by the client. TryReceive must
// return ErrWouldBlock when no datagram is pending.
type Transport interface {
	Bind(localAddr string) error
	Connect(remoteAddr string) error
	Send(data []byte) (int, error)
	TryReceive(buf []byte) (int, error)
	Close() error
}

// ResendHandler is called on the connection goroutine when the device
// asks for a package again. The client keeps no retransmission buffer.
type ResendHandler func(resendID uint16)

// Client is an ATEM switcher client. A single goroutine owns the socket and
// the connection state; callers talk to it through two bounded queues.
type Client struct {
	opts    *clientOptions
	decoder *PayloadDecoder

	intents chan Command
	events  chan Event

	started atomic.Bool
	phase   atomic.Int32

	errMu sync.Mutex
	err   error

	metrics *Metrics
	logger  *slog.Logger

	done chan struct{}

	// owned by the connection goroutine
	transport Transport
	engine    *Engine
	pending   []Command
	sentAt    map[uint16]time.Time
	helloAt   time.Time
}

// NewClient creates a new ATEM client
func NewClient(opts ...Option) (*Client, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.remoteAddress == "" && options.transport == nil {
		return nil, fmt.Errorf("atem: remote address is required")
	}

	c := &Client{
		opts:    options,
		intents: make(chan Command, options.intentQueueSize),
		events:  make(chan Event, options.eventQueueSize),
		metrics: NewMetrics(),
		logger:  options.logger,
		done:    make(chan struct{}),
		sentAt:  make(map[uint16]time.Time),
	}

	c.decoder = NewPayloadDecoder(options.logger)
	c.decoder.OnUnhandled(func(tag Tag) {
		c.metrics.UnhandledChunks.Inc()
		if options.onUnhandled != nil {
			options.onUnhandled(tag)
		}
	})

	c.transport = options.transport
	if c.transport == nil {
		c.transport = transport.NewUDPTransport(options.receiveWait)
	}

	return c, nil
}

// Connect opens the socket, queues the Hello packet and starts the
// connection goroutine. It does not wait for the handshake.
func (c *Client) Connect(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	c.metrics.ConnectAttempts.Inc()

	if err := ctx.Err(); err != nil {
		return c.abort(err)
	}

	if err := c.transport.Bind(c.opts.localAddress); err != nil {
		return c.abort(&TransportError{Op: "bind", Err: err})
	}
	if err := c.transport.Connect(remoteWithPort(c.opts.remoteAddress)); err != nil {
		return c.abort(&TransportError{Op: "connect", Err: err})
	}

	c.engine = NewEngine(c.decoder, c.logger)
	c.intents <- HelloCommand{}

	go c.run()

	c.logger.Info("connecting",
		slog.String("remote", c.opts.remoteAddress),
	)
	return nil
}

// abort records a failure to start; the client cannot be reused
func (c *Client) abort(err error) error {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()

	c.phase.Store(int32(PhaseClosed))
	close(c.done)
	return err
}

func remoteWithPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
}

// Close shuts the connection goroutine down and waits for it to exit
func (c *Client) Close() error {
	if !c.started.Load() {
		return nil
	}

	select {
	case c.intents <- ShutdownCommand{}:
	case <-c.done:
		return nil
	}

	<-c.done
	return nil
}

// Done is closed when the connection goroutine has exited
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that terminated the connection, if any
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Phase returns the handshake phase
func (c *Client) Phase() Phase {
	return Phase(c.phase.Load())
}

// IsConnected returns true once the handshake completed and until the
// connection ends
func (c *Client) IsConnected() bool {
	return c.Phase() == PhaseEstablished
}

// Metrics returns the client metrics
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Events returns the inbound event queue. Update drains the same queue.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Update returns up to the configured batch of pending events without
// blocking. Acks are sent by the connection goroutine, not by Update.
func (c *Client) Update() []Event {
	var out []Event
	for i := 0; i < c.opts.updateBatch; i++ {
		select {
		case ev := <-c.events:
			out = append(out, ev)
		default:
			return out
		}
	}
	return out
}

// Submit queues an outbound intent. It never blocks: a full queue drops the
// intent and returns ErrQueueFull.
func (c *Client) Submit(cmd Command) error {
	if !c.started.Load() {
		return ErrNotConnected
	}
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.intents <- cmd:
		return nil
	default:
		c.metrics.IntentsDropped.Inc()
		c.logger.Warn("intent queue full, dropping command",
			slog.String("command", fmt.Sprintf("%T", cmd)),
		)
		return ErrQueueFull
	}
}

// SendCommand queues a tagged command with a raw body
func (c *Client) SendCommand(tag Tag, body []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if len(body) > MaxCommandBody {
		return fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, len(body))
	}
	b := make([]byte, len(body))
	copy(b, body)
	return c.Submit(GenericCommand{Tag: tag, Body: b})
}

// RunMacro runs the stored macro at index
func (c *Client) RunMacro(index uint8) error {
	tag, body := MacroAction(index)
	return c.SendCommand(tag, body)
}

// run is the connection loop
func (c *Client) run() {
	defer close(c.done)

	buf := make([]byte, receiveBufferSize)

	for {
		stop, err := c.sendOutbound()
		if err != nil {
			c.fail(err)
			return
		}
		if stop {
			c.shutdown()
			return
		}

		if err := c.receive(buf); err != nil {
			c.fail(err)
			return
		}

		time.Sleep(c.opts.pollInterval)
	}
}

// sendOutbound expires unacknowledged commands, flushes the replies the
// engine produced on the previous receive, then sends up to sendsPerTick queued intents. It reports whether
// a shutdown was requested.
func (c *Client) sendOutbound() (bool, error) {
	c.expirePending(time.Now())

	for len(c.pending) > 0 {
		cmd := c.pending[0]
		c.pending = c.pending[1:]
		if err := c.sendCommand(cmd); err != nil {
			return false, err
		}
	}

	for budget := c.opts.sendsPerTick; budget > 0; budget-- {
		select {
		case cmd := <-c.intents:
			if _, ok := cmd.(ShutdownCommand); ok {
				return true, nil
			}
			if err := c.sendCommand(cmd); err != nil {
				return false, err
			}
		default:
			return false, nil
		}
	}

	return false, nil
}

func (c *Client) sendCommand(cmd Command) error {
	var (
		data      []byte
		packageID uint16
		err       error
	)

	switch cmd := cmd.(type) {
	case HelloCommand:
		c.engine.Connect()
		c.setPhase()
		c.helloAt = time.Now()
		data, err = c.engine.Encode(cmd)

	case GenericCommand:
		data, packageID, err = c.engine.Generic(cmd)
		if err != nil {
			c.metrics.CommandsFailed.Inc()
			c.logger.Warn("dropping command",
				slog.String("tag", cmd.Tag.String()),
				slog.String("error", err.Error()),
			)
			return nil
		}

	default:
		data, err = c.engine.Encode(cmd)
	}
	if err != nil {
		return err
	}

	if _, err := c.transport.Send(data); err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	c.metrics.PacketsSent.Inc()
	c.metrics.BytesSent.Add(int64(len(data)))

	switch cmd := cmd.(type) {
	case AckCommand:
		c.metrics.AcksSent.Inc()
	case GenericCommand:
		c.metrics.CommandsSent.Inc()
		c.sentAt[packageID] = time.Now()
		c.metrics.PendingCommands.Set(int64(len(c.sentAt)))
		c.logger.Debug("command sent",
			slog.String("tag", cmd.Tag.String()),
			slog.Uint64("package_id", uint64(packageID)),
		)
	}

	return nil
}

// receive performs one receive attempt and reacts to the packet
func (c *Client) receive(buf []byte) error {
	n, err := c.transport.TryReceive(buf)
	if errors.Is(err, ErrWouldBlock) {
		return nil
	}
	if err != nil {
		return &TransportError{Op: "receive", Err: err}
	}

	c.metrics.PacketsReceived.Inc()
	c.metrics.BytesReceived.Add(int64(n))
	c.metrics.RecordActivity()

	pkt, err := DecodePacket(buf[:n])
	if err != nil {
		c.metrics.DecodeErrors.Inc()
		c.logger.Warn("dropping malformed packet",
			slog.Int("length", n),
			slog.String("error", err.Error()),
		)
		return nil
	}

	c.logger.Debug("packet received", slog.String("header", pkt.Header.String()))

	if pkt.Header.Flags.Has(FlagHello) {
		c.metrics.HellosReceived.Inc()
	}

	r, err := c.engine.Handle(pkt)
	c.setPhase()
	if err != nil {
		if !IsDecodeError(err) {
			return err
		}
		c.metrics.DecodeErrors.Inc()
	}

	c.pending = append(c.pending, r.Replies...)

	if r.Connected {
		c.metrics.Connections.Inc()
		if !c.helloAt.IsZero() {
			c.metrics.HandshakeLatency.Record(time.Since(c.helloAt))
		}
		c.logger.Info("connected",
			slog.Uint64("session_id", uint64(c.engine.SessionID())),
		)
		c.emit(Connected{SessionID: c.engine.SessionID()})
	}

	c.metrics.EventsDecoded.Add(int64(len(r.Events)))
	for _, ev := range r.Events {
		c.emit(ev)
	}

	if r.InitialBurstComplete {
		c.logger.Debug("initial state received")
		c.emit(InitialBurstComplete{})
	}

	if r.Acked != nil {
		c.acknowledge(*r.Acked)
	}

	if r.ResendRequested != nil {
		c.metrics.ResendRequests.Inc()
		if c.opts.resendHandler != nil {
			c.opts.resendHandler(*r.ResendRequested)
		}
	}

	return nil
}

// expirePending stops tracking commands that were not acknowledged within
// the ack timeout
func (c *Client) expirePending(now time.Time) {
	expired := 0
	for id, sent := range c.sentAt {
		if now.Sub(sent) >= c.opts.ackTimeout {
			delete(c.sentAt, id)
			expired++
			c.logger.Debug("command not acknowledged",
				slog.Uint64("package_id", uint64(id)),
			)
		}
	}
	if expired > 0 {
		c.metrics.CommandsExpired.Add(int64(expired))
		c.metrics.PendingCommands.Set(int64(len(c.sentAt)))
	}
}

// acknowledge settles the outstanding command with the given package id
func (c *Client) acknowledge(id uint16) {
	c.metrics.AcksReceived.Inc()

	if sent, ok := c.sentAt[id]; ok {
		c.metrics.CommandLatency.Record(time.Since(sent))
		delete(c.sentAt, id)
	}
	c.metrics.PendingCommands.Set(int64(len(c.sentAt)))
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.metrics.EventsDropped.Inc()
		c.logger.Warn("event queue full, dropping event",
			slog.String("event", EventName(ev)),
		)
	}
}

func (c *Client) setPhase() {
	c.phase.Store(int32(c.engine.Phase()))
}

func (c *Client) shutdown() {
	c.engine.Shutdown()
	c.setPhase()
	c.metrics.Disconnects.Inc()

	if err := c.transport.Close(); err != nil {
		c.logger.Debug("close transport", slog.String("error", err.Error()))
	}
	c.logger.Info("disconnected")
}

func (c *Client) fail(err error) {
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()

	c.logger.Error("connection lost", slog.String("error", err.Error()))

	if c.engine.Phase() != PhaseFaulted {
		c.engine.Shutdown()
	}
	c.setPhase()
	c.metrics.Disconnects.Inc()
	c.emit(ConnectionLost{Err: err})

	if cerr := c.transport.Close(); cerr != nil {
		c.logger.Debug("close transport", slog.String("error", cerr.Error()))
	}
}
