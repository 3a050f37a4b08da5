package main

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/hypebeast/go-osc/osc"

	"github.com/edgeo/drivers/atem/atem"
)

// oscBridge serves OSC control messages
type oscBridge struct {
	conn     net.PacketConn
	server   *osc.Server
	switcher *atem.Client
	logger   *slog.Logger
}

func newOSCBridge(addr string, switcher *atem.Client, logger *slog.Logger) (*oscBridge, error) {
	b := &oscBridge{
		switcher: switcher,
		logger:   logger.With(slog.String("module", "osc")),
	}

	d := osc.NewStandardDispatcher()
	handlers := map[string]osc.HandlerFunc{
		"/atem/macro": b.handleMacro,
		"/atem/cut":   b.handleTransition(atem.Cut),
		"/atem/auto":  b.handleTransition(atem.Auto),
	}
	for address, h := range handlers {
		if err := d.AddMsgHandler(address, h); err != nil {
			return nil, fmt.Errorf("add handler %s: %w", address, err)
		}
	}

	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	b.conn = conn
	b.server = &osc.Server{Addr: addr, Dispatcher: d}

	go func() {
		if err := b.server.Serve(conn); err != nil {
			b.logger.Debug("server stopped", slog.String("error", err.Error()))
		}
	}()

	b.logger.Info("listening", slog.String("addr", conn.LocalAddr().String()))
	return b, nil
}

func (b *oscBridge) handleMacro(msg *osc.Message) {
	index, ok := intArgument(msg, 0)
	if !ok || index < 0 || index > 255 {
		b.logger.Warn("invalid macro message", slog.String("message", msg.String()))
		return
	}
	b.report(msg, b.switcher.RunMacro(uint8(index)))
}

func (b *oscBridge) handleTransition(build func(me uint8) (atem.Tag, []byte)) osc.HandlerFunc {
	return func(msg *osc.Message) {
		me, ok := intArgument(msg, 0)
		if !ok {
			me = 0
		}
		if me < 0 || me > 255 {
			b.logger.Warn("invalid mix effect", slog.String("message", msg.String()))
			return
		}
		tag, body := build(uint8(me))
		b.report(msg, b.switcher.SendCommand(tag, body))
	}
}

func (b *oscBridge) report(msg *osc.Message, err error) {
	if err != nil {
		b.logger.Error("command from osc failed",
			slog.String("address", msg.Address),
			slog.String("error", err.Error()),
		)
		return
	}
	b.logger.Debug("command from osc", slog.String("address", msg.Address))
}

// intArgument returns argument i as an int when it is numeric
func intArgument(msg *osc.Message, i int) (int, bool) {
	if i >= len(msg.Arguments) {
		return 0, false
	}
	switch v := msg.Arguments[i].(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float32:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func (b *oscBridge) Close() error {
	return b.conn.Close()
}
