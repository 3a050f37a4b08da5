// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package atem

import (
	"log/slog"
	"time"
)

// clientOptions holds configuration for the ATEM client
type clientOptions struct {
	// Network configuration
	remoteAddress string
	localAddress  string
	transport     Transport

	// Polling loop
	pollInterval time.Duration
	receiveWait  time.Duration
	sendsPerTick int
	ackTimeout   time.Duration

	// Queues
	intentQueueSize int
	eventQueueSize  int
	updateBatch     int

	// Hooks
	resendHandler ResendHandler
	onUnhandled   func(Tag)

	// Logging
	logger *slog.Logger
}

// defaultOptions returns the default client options
func defaultOptions() *clientOptions {
	return &clientOptions{
		pollInterval:    20 * time.Millisecond,
		receiveWait:     time.Millisecond,
		sendsPerTick:    1,
		ackTimeout:      5 * time.Second,
		intentQueueSize: 64,
		eventQueueSize:  1024,
		updateBatch:     10,
		logger:          slog.Default(),
	}
}

// Option is a functional option for configuring the client
type Option func(*clientOptions)

// WithRemoteAddress sets the switcher address. A missing port defaults to DefaultPort.
func WithRemoteAddress(addr string) Option {
	return func(o *clientOptions) {
		o.remoteAddress = addr
	}
}

// WithLocalAddress sets the local address to bind to
func WithLocalAddress(addr string) Option {
	return func(o *clientOptions) {
		o.localAddress = addr
	}
}

// WithTransport replaces the UDP transport
func WithTransport(t Transport) Option {
	return func(o *clientOptions) {
		o.transport = t
	}
}

// WithPollInterval sets the sleep between two iterations of the connection loop
func WithPollInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithReceiveWait sets how long one receive attempt waits for a datagram
func WithReceiveWait(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.receiveWait = d
		}
	}
}

// WithSendsPerTick sets how many outbound packets one loop iteration may send
func WithSendsPerTick(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.sendsPerTick = n
		}
	}
}

// WithAckTimeout sets how long a sent command waits for the device's
// acknowledgment before it is no longer tracked as pending
func WithAckTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.ackTimeout = d
		}
	}
}

// WithQueueSizes sets the capacity of the intent and event queues
func WithQueueSizes(intents, events int) Option {
	return func(o *clientOptions) {
		if intents > 0 {
			o.intentQueueSize = intents
		}
		if events > 0 {
			o.eventQueueSize = events
		}
	}
}

// WithUpdateBatch sets the maximum number of events returned by one Update call
func WithUpdateBatch(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.updateBatch = n
		}
	}
}

// WithResendHandler sets the handler called when the device requests a resend
func WithResendHandler(h ResendHandler) Option {
	return func(o *clientOptions) {
		o.resendHandler = h
	}
}

// WithUnhandledTagHook sets a function called for every unknown payload tag.
// It runs on the connection goroutine and must not block.
func WithUnhandledTagHook(fn func(Tag)) Option {
	return func(o *clientOptions) {
		o.onUnhandled = fn
	}
}

// WithLogger sets the logger for the client
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
