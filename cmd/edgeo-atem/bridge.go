package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/atem/atem"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge a switcher to MQTT, OSC and HTTP",
	Long: `Bridge keeps a connection to a switcher open and exposes it to other
systems. Each side is enabled by giving it an address.

MQTT:
  <prefix>/event/<name>   every decoded event as JSON
  <prefix>/state          retained state snapshot after the initial dump
  <prefix>/macro/run      payload "<index>" runs a macro
  <prefix>/send/<tag>     payload is a hex body sent as a raw command

OSC:
  /atem/macro <int>       run a macro
  /atem/cut [int]         cut on a mix effect
  /atem/auto [int]        auto transition on a mix effect

HTTP:
  GET  /state                  state snapshot
  GET  /macros                 used macro slots
  POST /macros/{index}/run     run a macro
  POST /commands/{tag}         raw command, request body is the command body
  GET  /healthz                200 while connected
  GET  /metrics                Prometheus metrics

Examples:
  edgeo-atem bridge -H 192.168.10.240 --mqtt tcp://localhost:1883
  edgeo-atem bridge -H 192.168.10.240 --osc 127.0.0.1:8765 --http :8080`,

	RunE: runBridge,
}

func init() {
	f := bridgeCmd.Flags()
	f.String("mqtt", "", "MQTT broker URL (e.g., tcp://localhost:1883)")
	f.String("mqtt-prefix", "atem", "MQTT topic prefix")
	f.String("mqtt-client-id", "", "MQTT client id (default: edgeo-atem-<uuid>)")
	f.String("mqtt-user", "", "MQTT username")
	f.String("mqtt-password", "", "MQTT password")
	f.String("osc", "", "OSC listen address (e.g., 127.0.0.1:8765)")
	f.String("http", "", "HTTP listen address (e.g., :8080)")

	viper.BindPFlag("bridge.mqtt.broker", f.Lookup("mqtt"))
	viper.BindPFlag("bridge.mqtt.prefix", f.Lookup("mqtt-prefix"))
	viper.BindPFlag("bridge.mqtt.client_id", f.Lookup("mqtt-client-id"))
	viper.BindPFlag("bridge.mqtt.user", f.Lookup("mqtt-user"))
	viper.BindPFlag("bridge.mqtt.password", f.Lookup("mqtt-password"))
	viper.BindPFlag("bridge.osc", f.Lookup("osc"))
	viper.BindPFlag("bridge.http", f.Lookup("http"))
}

// bridge fans the events of one session out to the enabled sides
type bridge struct {
	*session

	mqtt   *mqttBridge
	osc    *oscBridge
	http   *httpBridge
	logger *slog.Logger
}

func runBridge(cmd *cobra.Command, args []string) error {
	mqttBroker := viper.GetString("bridge.mqtt.broker")
	oscAddr := viper.GetString("bridge.osc")
	httpAddr := viper.GetString("bridge.http")
	if mqttBroker == "" && oscAddr == "" && httpAddr == "" {
		return fmt.Errorf("nothing to bridge: set at least one of --mqtt, --osc, --http")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	b := &bridge{session: s, logger: logger}

	if mqttBroker != "" {
		b.mqtt, err = newMQTTBridge(mqttConfig{
			Broker:   mqttBroker,
			Prefix:   viper.GetString("bridge.mqtt.prefix"),
			ClientID: viper.GetString("bridge.mqtt.client_id"),
			User:     viper.GetString("bridge.mqtt.user"),
			Password: viper.GetString("bridge.mqtt.password"),
		}, s.client, logger)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer b.mqtt.Close()
		b.mqtt.PublishState(s.state.Snapshot())
	}

	if oscAddr != "" {
		b.osc, err = newOSCBridge(oscAddr, s.client, logger)
		if err != nil {
			return fmt.Errorf("osc: %w", err)
		}
		defer b.osc.Close()
	}

	if httpAddr != "" {
		b.http = newHTTPBridge(httpAddr, s, logger)
		if err := b.http.Start(); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		defer b.http.Close()
	}

	logger.Info("bridge running",
		slog.String("switcher", viper.GetString("host")),
		slog.String("mqtt", mqttBroker),
		slog.String("osc", oscAddr),
		slog.String("http", httpAddr),
	)

	return b.run(ctx)
}

// run applies events to the state and forwards them until ctx is done or
// the switcher connection ends
func (b *bridge) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge stopping")
			return nil

		case ev := <-b.client.Events():
			b.state.Apply(ev)

			if b.mqtt != nil {
				b.mqtt.PublishEvent(ev)
			}

			if lost, ok := ev.(atem.ConnectionLost); ok {
				return fmt.Errorf("connection lost: %w", lost.Err)
			}
		}
	}
}
