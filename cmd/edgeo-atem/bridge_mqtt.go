package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/edgeo/drivers/atem/atem"
)

type mqttConfig struct {
	Broker         string
	Prefix         string
	ClientID       string
	User           string
	Password       string
	ConnectTimeout time.Duration
}

// mqttBridge publishes events and turns incoming messages into commands
type mqttBridge struct {
	client   mqtt.Client
	prefix   string
	switcher *atem.Client
	logger   *slog.Logger
}

func newMQTTBridge(cfg mqttConfig, switcher *atem.Client, logger *slog.Logger) (*mqttBridge, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "edgeo-atem-" + uuid.NewString()
	}

	b := &mqttBridge{
		prefix:   strings.TrimSuffix(cfg.Prefix, "/"),
		switcher: switcher,
		logger:   logger.With(slog.String("module", "mqtt")),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.User).
		SetPassword(cfg.Password).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(b.onConnectionLost).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(30 * time.Second)

	b.client = mqtt.NewClient(opts)

	if err := connectOrAbort(b.client, cfg.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}

	return b, nil
}

// connectOrAbort waits for the first connection. On failure it disconnects
// so the client stops retrying in the background.
func connectOrAbort(c mqtt.Client, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		c.Disconnect(0)
		return fmt.Errorf("timeout after %s", timeout)
	}
	if err := token.Error(); err != nil {
		c.Disconnect(0)
		return err
	}
	return nil
}

// onConnect subscribes on every (re)connect since the session is not persistent
func (b *mqttBridge) onConnect(c mqtt.Client) {
	b.logger.Info("client connected to broker")

	subs := map[string]byte{
		b.prefix + "/macro/run": 1,
		b.prefix + "/send/+":    1,
	}
	token := c.SubscribeMultiple(subs, b.onMessage)
	go func() {
		if token.WaitTimeout(10*time.Second) && token.Error() != nil {
			b.logger.Error("subscribe failed", slog.String("error", token.Error().Error()))
		}
	}()
}

func (b *mqttBridge) onConnectionLost(_ mqtt.Client, err error) {
	b.logger.Warn("broker connection lost", slog.String("error", err.Error()))
}

func (b *mqttBridge) onMessage(_ mqtt.Client, msg mqtt.Message) {
	topic := strings.TrimPrefix(msg.Topic(), b.prefix+"/")
	payload := strings.TrimSpace(string(msg.Payload()))

	b.logger.Debug("received message", slog.String("topic", msg.Topic()), slog.String("payload", payload))

	var err error
	switch {
	case topic == "macro/run":
		var index uint8
		if index, err = parseMacroIndex(payload); err == nil {
			err = b.switcher.RunMacro(index)
		}

	case strings.HasPrefix(topic, "send/"):
		var tag atem.Tag
		if tag, err = atem.ParseTag(strings.TrimPrefix(topic, "send/")); err != nil {
			break
		}
		var body []byte
		if body, err = parseHexBody(payload); err == nil {
			err = b.switcher.SendCommand(tag, body)
		}

	default:
		return
	}

	if err != nil {
		b.logger.Error("command from mqtt failed",
			slog.String("topic", msg.Topic()),
			slog.String("error", err.Error()),
		)
	}
}

// PublishEvent publishes ev as JSON to <prefix>/event/<name>
func (b *mqttBridge) PublishEvent(ev atem.Event) {
	rec := newEventRecord(time.Now(), ev)
	b.publish(b.prefix+"/event/"+rec.Event, false, rec)
}

// PublishState publishes a retained state snapshot to <prefix>/state
func (b *mqttBridge) PublishState(snap atem.StateSnapshot) {
	b.publish(b.prefix+"/state", true, snap)
}

func (b *mqttBridge) publish(topic string, retained bool, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("encode message", slog.String("topic", topic), slog.String("error", err.Error()))
		return
	}

	token := b.client.Publish(topic, 0, retained, data)
	go func() {
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			b.logger.Warn("publish failed",
				slog.String("topic", topic),
				slog.String("error", token.Error().Error()),
			)
		}
	}()
}

func (b *mqttBridge) Close() {
	if b.client.IsConnected() {
		b.client.Disconnect(500)
	}
}
