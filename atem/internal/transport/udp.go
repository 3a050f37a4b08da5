// Package transport provides the datagram transport for ATEM communication
package transport

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"
)

// ErrWouldBlock is returned by TryReceive when no datagram is pending
var ErrWouldBlock = errors.New("atem: receive would block")

// ErrNotOpen is returned when the socket has not been bound
var ErrNotOpen = errors.New("atem: transport not open")

// UDPTransport is a connected UDP socket with a non-blocking receive
type UDPTransport struct {
	conn         *net.UDPConn
	local        *net.UDPAddr
	remote       *net.UDPAddr
	mu           sync.RWMutex
	receiveWait  time.Duration
	writeTimeout time.Duration
	closed       bool
}

// NewUDPTransport creates a new UDP transport. receiveWait bounds how long
// TryReceive waits for a datagram before reporting ErrWouldBlock.
func NewUDPTransport(receiveWait time.Duration) *UDPTransport {
	if receiveWait <= 0 {
		receiveWait = time.Millisecond
	}
	return &UDPTransport{
		receiveWait:  receiveWait,
		writeTimeout: 3 * time.Second,
	}
}

// Bind records the local address to send from. An empty address picks an
// ephemeral port.
func (t *UDPTransport) Bind(localAddr string) error {
	if localAddr == "" {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp4", localAddr)
	if err != nil {
		return fmt.Errorf("resolve local address: %w", err)
	}

	t.mu.Lock()
	t.local = addr
	t.mu.Unlock()
	return nil
}

// Connect opens the socket towards remoteAddr
func (t *UDPTransport) Connect(remoteAddr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	remote, err := net.ResolveUDPAddr("udp4", remoteAddr)
	if err != nil {
		return fmt.Errorf("resolve remote address: %w", err)
	}

	conn, err := net.DialUDP("udp4", t.local, remote)
	if err != nil {
		return fmt.Errorf("dial UDP: %w", err)
	}

	t.conn = conn
	t.remote = remote
	t.closed = false
	return nil
}

// Close closes the UDP connection
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil || t.closed {
		return nil
	}

	t.closed = true
	return t.conn.Close()
}

// LocalAddr returns the local address
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// Send writes one datagram to the connected peer
func (t *UDPTransport) Send(data []byte) (int, error) {
	t.mu.RLock()
	conn := t.conn
	writeTimeout := t.writeTimeout
	t.mu.RUnlock()

	if conn == nil {
		return 0, ErrNotOpen
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, fmt.Errorf("set write deadline: %w", err)
	}

	n, err := conn.Write(data)
	if err != nil {
		return n, fmt.Errorf("write UDP: %w", err)
	}
	if n != len(data) {
		return n, fmt.Errorf("partial write: %d of %d bytes", n, len(data))
	}

	return n, nil
}

// TryReceive reads one pending datagram into buf. It returns ErrWouldBlock
// when nothing arrives within the receive wait.
func (t *UDPTransport) TryReceive(buf []byte) (int, error) {
	t.mu.RLock()
	conn := t.conn
	wait := t.receiveWait
	t.mu.RUnlock()

	if conn == nil {
		return 0, ErrNotOpen
	}

	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}

	n, err := conn.Read(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, ErrWouldBlock
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, ErrWouldBlock
		}
		return n, err
	}

	return n, nil
}

// IsClosed returns true if the transport is closed
func (t *UDPTransport) IsClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}
