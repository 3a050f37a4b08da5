package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgeo/drivers/atem/atem"
)

// httpBridge serves the REST API and the Prometheus endpoint
type httpBridge struct {
	addr    string
	session *session
	server  *http.Server
	logger  *slog.Logger
}

func newHTTPBridge(addr string, s *session, logger *slog.Logger) *httpBridge {
	b := &httpBridge{
		addr:    addr,
		session: s,
		logger:  logger.With(slog.String("module", "http")),
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(newMetricsCollector(s.client))

	b.server = &http.Server{
		Addr:              addr,
		Handler:           b.routes(registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return b
}

func (b *httpBridge) routes(registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/state", b.getState)
	r.Get("/macros", b.getMacros)
	r.Post("/macros/{index}/run", b.runMacro)
	r.Post("/commands/{tag}", b.sendCommand)
	r.Get("/healthz", b.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

// Start listens on the configured address and serves in the background
func (b *httpBridge) Start() error {
	ln, err := net.Listen("tcp", b.addr)
	if err != nil {
		return err
	}

	go func() {
		if err := b.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("server stopped", slog.String("error", err.Error()))
		}
	}()

	b.logger.Info("listening", slog.String("addr", ln.Addr().String()))
	return nil
}

func (b *httpBridge) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return b.server.Shutdown(ctx)
}

func (b *httpBridge) getState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.session.state.Snapshot())
}

func (b *httpBridge) getMacros(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.session.state.Macros())
}

func (b *httpBridge) runMacro(w http.ResponseWriter, r *http.Request) {
	index, err := parseMacroIndex(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	b.submit(w, b.session.client.RunMacro(index))
}

func (b *httpBridge) sendCommand(w http.ResponseWriter, r *http.Request) {
	tag, err := atem.ParseTag(chi.URLParam(r, "tag"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, atem.MaxCommandBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	b.submit(w, b.session.client.SendCommand(tag, body))
}

// submit maps the result of queueing a command to a response
func (b *httpBridge) submit(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	case errors.Is(err, atem.ErrBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, atem.ErrQueueFull):
		writeError(w, http.StatusTooManyRequests, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

func (b *httpBridge) healthz(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	if !b.session.client.IsConnected() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"phase": b.session.client.Phase().String()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// metricsCollector exports the client metrics snapshot
type metricsCollector struct {
	client *atem.Client

	counters  []counterMetric
	pending   *prometheus.Desc
	connected *prometheus.Desc
	uptime    *prometheus.Desc
	command   *prometheus.Desc
	handshake *prometheus.Desc
}

type counterMetric struct {
	desc  *prometheus.Desc
	value func(atem.MetricsSnapshot) int64
}

func newMetricsCollector(client *atem.Client) *metricsCollector {
	counter := func(name, help string, value func(atem.MetricsSnapshot) int64) counterMetric {
		return counterMetric{
			desc:  prometheus.NewDesc(prometheus.BuildFQName("atem", "", name), help, nil, nil),
			value: value,
		}
	}

	return &metricsCollector{
		client: client,
		counters: []counterMetric{
			counter("connect_attempts_total", "Connection attempts.", func(s atem.MetricsSnapshot) int64 { return s.ConnectAttempts }),
			counter("connections_total", "Completed handshakes.", func(s atem.MetricsSnapshot) int64 { return s.Connections }),
			counter("disconnects_total", "Connection terminations.", func(s atem.MetricsSnapshot) int64 { return s.Disconnects }),
			counter("packets_sent_total", "Datagrams sent.", func(s atem.MetricsSnapshot) int64 { return s.PacketsSent }),
			counter("packets_received_total", "Datagrams received.", func(s atem.MetricsSnapshot) int64 { return s.PacketsReceived }),
			counter("bytes_sent_total", "Bytes sent.", func(s atem.MetricsSnapshot) int64 { return s.BytesSent }),
			counter("bytes_received_total", "Bytes received.", func(s atem.MetricsSnapshot) int64 { return s.BytesReceived }),
			counter("acks_sent_total", "Acknowledgments sent.", func(s atem.MetricsSnapshot) int64 { return s.AcksSent }),
			counter("acks_received_total", "Acknowledgments received.", func(s atem.MetricsSnapshot) int64 { return s.AcksReceived }),
			counter("resend_requests_total", "Resend requests from the switcher.", func(s atem.MetricsSnapshot) int64 { return s.ResendRequests }),
			counter("commands_sent_total", "Commands sent.", func(s atem.MetricsSnapshot) int64 { return s.CommandsSent }),
			counter("commands_failed_total", "Commands dropped before sending.", func(s atem.MetricsSnapshot) int64 { return s.CommandsFailed }),
			counter("commands_expired_total", "Commands never acknowledged.", func(s atem.MetricsSnapshot) int64 { return s.CommandsExpired }),
			counter("events_decoded_total", "Events decoded.", func(s atem.MetricsSnapshot) int64 { return s.EventsDecoded }),
			counter("decode_errors_total", "Malformed packets and payloads.", func(s atem.MetricsSnapshot) int64 { return s.DecodeErrors }),
			counter("unhandled_chunks_total", "Chunks with an unknown tag.", func(s atem.MetricsSnapshot) int64 { return s.UnhandledChunks }),
			counter("events_dropped_total", "Events dropped on a full queue.", func(s atem.MetricsSnapshot) int64 { return s.EventsDropped }),
			counter("intents_dropped_total", "Commands rejected on a full queue.", func(s atem.MetricsSnapshot) int64 { return s.IntentsDropped }),
		},
		pending:   prometheus.NewDesc("atem_pending_commands", "Commands waiting for an acknowledgment.", nil, nil),
		connected: prometheus.NewDesc("atem_connected", "1 while the handshake is established.", nil, nil),
		uptime:    prometheus.NewDesc("atem_uptime_seconds", "Time since the client was created.", nil, nil),
		command:   prometheus.NewDesc("atem_command_latency_seconds", "Time from sending a command to its acknowledgment.", nil, nil),
		handshake: prometheus.NewDesc("atem_handshake_latency_seconds", "Time from hello to the switcher's response.", nil, nil),
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.counters {
		ch <- m.desc
	}
	ch <- c.pending
	ch <- c.connected
	ch <- c.uptime
	ch <- c.command
	ch <- c.handshake
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.client.Metrics().Snapshot()

	for _, m := range c.counters {
		ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(m.value(snap)))
	}

	connected := 0.0
	if c.client.IsConnected() {
		connected = 1
	}
	ch <- prometheus.MustNewConstMetric(c.pending, prometheus.GaugeValue, float64(snap.PendingCommands))
	ch <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, snap.Uptime.Seconds())
	ch <- latencyHistogram(c.command, snap.CommandLatency)
	ch <- latencyHistogram(c.handshake, snap.HandshakeLatency)
}

func latencyHistogram(desc *prometheus.Desc, s atem.LatencyStats) prometheus.Metric {
	return prometheus.MustNewConstHistogram(desc, uint64(s.Count), s.Sum.Seconds(), s.Cumulative())
}
