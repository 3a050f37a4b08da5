package main

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// closedPort returns a local TCP address with nothing listening on it
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestConnectOrAbortStopsRetrying(t *testing.T) {
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + closedPort(t)).
		SetClientID("edgeo-atem-test").
		SetConnectRetry(true).
		SetConnectRetryInterval(10 * time.Millisecond).
		SetConnectTimeout(50 * time.Millisecond)
	c := mqtt.NewClient(opts)

	if err := connectOrAbort(c, 100*time.Millisecond); err == nil {
		t.Fatal("connectOrAbort() error = nil, want timeout")
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("client still retrying after a failed connect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewMQTTBridgeUnreachableBroker(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := newMQTTBridge(mqttConfig{
		Broker:         "tcp://" + closedPort(t),
		Prefix:         "atem",
		ConnectTimeout: 100 * time.Millisecond,
	}, nil, logger)
	if err == nil {
		t.Fatal("newMQTTBridge() error = nil, want connect failure")
	}
}
