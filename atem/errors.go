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
	"errors"
	"fmt"

	"github.com/edgeo/drivers/atem/atem/internal/transport"
)

// Sentinel errors
var (
	ErrShortPacket       = errors.New("atem: packet shorter than header")
	ErrUndersizedLength  = errors.New("atem: length field smaller than header")
	ErrTruncatedChunk    = errors.New("atem: chunk extends past end of payload")
	ErrMalformedChunk    = errors.New("atem: chunk size smaller than chunk header")
	ErrProtocolViolation = errors.New("atem: protocol violation")
	ErrNotConnected      = errors.New("atem: not connected")
	ErrAlreadyConnected  = errors.New("atem: already connected")
	ErrConnectionClosed  = errors.New("atem: connection closed")
	ErrQueueFull         = errors.New("atem: queue full")
	ErrInvalidTag        = errors.New("atem: tag must be 4 bytes")
	ErrBodyTooLarge      = errors.New("atem: command body too large")

	// ErrWouldBlock is returned by Transport.TryReceive when no datagram is pending
	ErrWouldBlock = transport.ErrWouldBlock
)

// DecodeErrorKind classifies a recoverable decoding failure
type DecodeErrorKind uint8

const (
	DecodeShortPacket DecodeErrorKind = iota
	DecodeUndersizedLength
	DecodeTruncatedChunk
	DecodeMalformedChunk
)

func (k DecodeErrorKind) String() string {
	switch k {
	case DecodeShortPacket:
		return "short-packet"
	case DecodeUndersizedLength:
		return "undersized-length"
	case DecodeTruncatedChunk:
		return "truncated-chunk"
	case DecodeMalformedChunk:
		return "malformed-chunk"
	default:
		return fmt.Sprintf("decode-error(%d)", k)
	}
}

func (k DecodeErrorKind) sentinel() error {
	switch k {
	case DecodeShortPacket:
		return ErrShortPacket
	case DecodeUndersizedLength:
		return ErrUndersizedLength
	case DecodeTruncatedChunk:
		return ErrTruncatedChunk
	default:
		return ErrMalformedChunk
	}
}

// DecodeError describes a malformed header or payload. It only ever costs
// the packet it was found in.
type DecodeError struct {
	Kind   DecodeErrorKind
	Offset int
	Size   int
	Tag    Tag
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case DecodeTruncatedChunk, DecodeMalformedChunk:
		return fmt.Sprintf("atem decode: %s at offset %d (size=%d)", e.Kind, e.Offset, e.Size)
	default:
		return fmt.Sprintf("atem decode: %s (length=%d)", e.Kind, e.Size)
	}
}

func (e *DecodeError) Is(target error) bool {
	if target == e.Kind.sentinel() {
		return true
	}
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

func (e *DecodeError) Unwrap() error {
	return e.Kind.sentinel()
}

// ProtocolViolation is returned when a packet carries no flag the engine can act on
type ProtocolViolation struct {
	Flags  Flag
	Header Header
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("atem: protocol violation: unexpected flags %s (session=%d, package=%d)",
		e.Flags, e.Header.SessionID, e.Header.PackageID)
}

func (e *ProtocolViolation) Unwrap() error {
	return ErrProtocolViolation
}

// TransportError wraps a socket failure other than would-block
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("atem transport: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsDecodeError returns true if the error is a recoverable decoding failure
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsFatal returns true if the error terminates the connection
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrConnectionClosed) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te)
}
