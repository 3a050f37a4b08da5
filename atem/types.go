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

// Package atem provides a client for the UDP control protocol spoken by
// ATEM video production switchers.
package atem

import (
	"fmt"
	"strings"
)

// DefaultPort is the UDP port ATEM switchers listen on
const DefaultPort = 9910

// HeaderSize is the size of the packet header in bytes
const HeaderSize = 12

// ChunkHeaderSize is the size of the size/reserved/tag prefix of a payload chunk
const ChunkHeaderSize = 8

// MaxPayloadLength is the largest payload the 10-bit length field can describe
const MaxPayloadLength = 0x3ff - HeaderSize

// Header byte 9 constants. Their meaning is unknown; devices expect them.
const (
	MagicHello byte = 0x3a
	MagicAck   byte = 0x03
)

// Flag is the 5-bit command bitmask carried in the top of header byte 0.
// Several flags may be set on one packet.
type Flag uint8

const (
	FlagAckRequest  Flag = 0x01
	FlagHello       Flag = 0x02
	FlagResend      Flag = 0x04
	FlagRequestNext Flag = 0x08
	FlagAck         Flag = 0x10
)

// Has reports whether every bit of x is set in f
func (f Flag) Has(x Flag) bool {
	return f&x == x
}

func (f Flag) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		flag Flag
		name string
	}{
		{FlagAckRequest, "ack-request"},
		{FlagHello, "hello"},
		{FlagResend, "resend"},
		{FlagRequestNext, "request-next"},
		{FlagAck, "ack"},
	}
	var parts []string
	rest := f
	for _, n := range names {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// Tag is the 4-byte identifier of a payload chunk, conventionally ASCII
type Tag [4]byte

// ParseTag converts a four character string into a Tag
func ParseTag(s string) (Tag, error) {
	var t Tag
	if len(s) != len(t) {
		return t, fmt.Errorf("%w: %q", ErrInvalidTag, s)
	}
	copy(t[:], s)
	return t, nil
}

// MustParseTag is like ParseTag but panics on error
func MustParseTag(s string) Tag {
	t, err := ParseTag(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Tag) String() string {
	for _, b := range t {
		if b < 0x20 || b > 0x7e {
			return fmt.Sprintf("%x", t[:])
		}
	}
	return string(t[:])
}

// Well-known tags
var (
	TagKeyerOnAir       = MustParseTag("KeOn")
	TagTallyByIndex     = MustParseTag("TlIn")
	TagInputProperties  = MustParseTag("InPr")
	TagProgramInput     = MustParseTag("PrgI")
	TagPreviewInput     = MustParseTag("PrvI")
	TagAuxSource        = MustParseTag("AuxS")
	TagDownstreamKeyer  = MustParseTag("DskS")
	TagColorGenerator   = MustParseTag("ColV")
	TagMacroProperties  = MustParseTag("MPrp")
	TagVersion          = MustParseTag("_ver")
	TagProductID        = MustParseTag("_pin")
	TagTopology         = MustParseTag("_top")
	TagTallyConfig      = MustParseTag("_TlC")
	TagMacroPoolConfig  = MustParseTag("_MAC")
	TagVideoMode        = MustParseTag("VidM")
	TagMacroRunStatus   = MustParseTag("MRPr")
	TagInitComplete     = MustParseTag("InCm")
	TagMacroAction      = MustParseTag("MAct")
	TagChangeProgram    = MustParseTag("CPgI")
	TagChangePreview    = MustParseTag("CPvI")
	TagCut              = MustParseTag("DCut")
	TagAuto             = MustParseTag("DAut")
)

// Phase is the handshake phase of a connection
type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseHelloSent
	PhaseEstablished
	PhaseFaulted
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseHelloSent:
		return "hello-sent"
	case PhaseEstablished:
		return "established"
	case PhaseFaulted:
		return "faulted"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Command is an outbound intent handled by the connection actor
type Command interface {
	isCommand()
}

// HelloCommand opens the handshake
type HelloCommand struct{}

// AckCommand acknowledges a packet received from the device.
// PackageID is the remote package being acknowledged, zero for Hello.
type AckCommand struct {
	SessionID uint16
	PackageID uint16
}

// GenericCommand carries a tagged device command with a raw body
type GenericCommand struct {
	Tag  Tag
	Body []byte
}

// ShutdownCommand terminates the connection actor
type ShutdownCommand struct{}

func (HelloCommand) isCommand()    {}
func (AckCommand) isCommand()      {}
func (GenericCommand) isCommand()  {}
func (ShutdownCommand) isCommand() {}
