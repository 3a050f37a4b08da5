package atem

import (
	"log/slog"
)

// Reaction is what the engine decided for one inbound packet
type Reaction struct {
	// Events decoded from the payload, in wire order
	Events []Event

	// Replies to send back to the device
	Replies []Command

	// Connected is set on the first transition into PhaseEstablished
	Connected bool

	// InitialBurstComplete is set once, on the first empty AckRequest packet
	InitialBurstComplete bool

	// Acked is the local package id the device acknowledged, if any
	Acked *uint16

	// ResendRequested is the package id the device asked for, if any
	ResendRequested *uint16
}

// Engine is the connection state machine. It performs no I/O and is owned
// by a single goroutine.
type Engine struct {
	phase                Phase
	sessionID            uint16
	localPackageID       uint16
	lastAcked            uint16
	initialBurstComplete bool

	decoder *PayloadDecoder
	logger  *slog.Logger
}

// NewEngine creates an engine in PhaseDisconnected
func NewEngine(decoder *PayloadDecoder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if decoder == nil {
		decoder = NewPayloadDecoder(logger)
	}
	return &Engine{
		phase:   PhaseDisconnected,
		decoder: decoder,
		logger:  logger,
	}
}

// Phase returns the handshake phase
func (e *Engine) Phase() Phase {
	return e.phase
}

// SessionID returns the session id learned from the last Hello response
func (e *Engine) SessionID() uint16 {
	return e.sessionID
}

// LocalPackageID returns the id stamped on the last generic command
func (e *Engine) LocalPackageID() uint16 {
	return e.localPackageID
}

// LastAcked returns the last local package id acknowledged by the device
func (e *Engine) LastAcked() uint16 {
	return e.lastAcked
}

// InitialBurstComplete reports whether the device finished its state dump
func (e *Engine) InitialBurstComplete() bool {
	return e.initialBurstComplete
}

// Connect moves a disconnected engine to PhaseHelloSent and returns the
// Hello intent to send. An established session keeps its phase until the
// device answers.
func (e *Engine) Connect() Command {
	if e.phase == PhaseDisconnected {
		e.phase = PhaseHelloSent
	}
	return HelloCommand{}
}

// Generic stamps the next local package id for a tagged command and
// returns the wire bytes
func (e *Engine) Generic(cmd GenericCommand) ([]byte, uint16, error) {
	if e.phase != PhaseEstablished {
		return nil, 0, ErrNotConnected
	}

	next := e.localPackageID + 1
	buf, err := BuildCommand(e.sessionID, next, cmd.Tag, cmd.Body)
	if err != nil {
		return nil, 0, err
	}

	e.localPackageID = next
	return buf, next, nil
}

// Encode translates a non-generic intent into wire bytes
func (e *Engine) Encode(cmd Command) ([]byte, error) {
	return encodeCommand(cmd, e.sessionID, e.localPackageID)
}

// Shutdown moves the engine to PhaseClosed
func (e *Engine) Shutdown() {
	e.phase = PhaseClosed
}

// Handle reacts to one inbound packet. A *DecodeError is returned together
// with a usable reaction: the packet is still acknowledged and the events
// decoded before the fault are kept. A *ProtocolViolation faults the engine.
func (e *Engine) Handle(pkt Packet) (Reaction, error) {
	var r Reaction
	h := pkt.Header

	if e.phase == PhaseClosed || e.phase == PhaseFaulted {
		return r, ErrConnectionClosed
	}

	if h.Flags.Has(FlagHello) {
		e.sessionID = h.SessionID
		if e.phase != PhaseEstablished {
			e.phase = PhaseEstablished
			r.Connected = true
		}
		r.Replies = append(r.Replies, AckCommand{SessionID: e.sessionID})

		e.logger.Debug("hello received",
			slog.Uint64("session_id", uint64(h.SessionID)),
			slog.Bool("first", r.Connected),
		)
		return r, nil
	}

	handled := false
	var decodeErr error

	if h.Flags.Has(FlagAckRequest) {
		handled = true

		if h.PayloadLen == 0 && !e.initialBurstComplete {
			e.initialBurstComplete = true
			r.InitialBurstComplete = true
		}

		events, err := e.decoder.Decode(pkt.Payload)
		r.Events = events
		if err != nil {
			decodeErr = err
			e.logger.Warn("dropping malformed payload",
				slog.Uint64("package_id", uint64(h.PackageID)),
				slog.String("error", err.Error()),
			)
		}

		r.Replies = append(r.Replies, AckCommand{SessionID: e.sessionID, PackageID: h.PackageID})
	}

	if h.Flags.Has(FlagAck) {
		handled = true
		acked := h.AckID
		e.lastAcked = acked
		r.Acked = &acked
	}

	if h.Flags.Has(FlagRequestNext) {
		handled = true
		resend := h.ResendID
		r.ResendRequested = &resend
		e.logger.Debug("device requested resend",
			slog.Uint64("resend_id", uint64(resend)),
		)
	}

	if !handled {
		e.phase = PhaseFaulted
		return r, &ProtocolViolation{Flags: h.Flags, Header: h}
	}

	return r, decodeErr
}
