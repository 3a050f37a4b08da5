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
	"encoding/binary"
	"fmt"
)

// helloBodySize is the length of the Hello payload
const helloBodySize = 8

// MaxCommandBody is the largest body a generic command can carry
const MaxCommandBody = MaxPayloadLength - ChunkHeaderSize

// BuildHello builds the 20-byte Hello packet that opens a session
func BuildHello() []byte {
	h := Header{
		Flags:      FlagHello,
		PayloadLen: helloBodySize,
		Magic:      MagicHello,
	}

	buf := make([]byte, HeaderSize+helloBodySize)
	h.put(buf)
	buf[HeaderSize] = 0x01
	return buf
}

// BuildAck builds a 12-byte acknowledgment
func BuildAck(sessionID, packageID, ackID uint16) []byte {
	h := Header{
		Flags:     FlagAck,
		SessionID: sessionID,
		AckID:     ackID,
		PackageID: packageID,
		Magic:     MagicAck,
	}

	buf := make([]byte, HeaderSize)
	h.put(buf)
	return buf
}

// BuildGenericCommand builds a reliable tagged command packet with a zeroed
// body of bodyLen bytes. It returns the packet and the body slice within it
// for the caller to fill.
func BuildGenericCommand(sessionID, packageID uint16, tag Tag, bodyLen int) ([]byte, []byte, error) {
	if bodyLen < 0 || bodyLen > MaxCommandBody {
		return nil, nil, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, bodyLen)
	}

	chunkLen := ChunkHeaderSize + bodyLen
	h := Header{
		Flags:      FlagAckRequest,
		PayloadLen: uint16(chunkLen),
		SessionID:  sessionID,
		PackageID:  packageID,
	}

	buf := make([]byte, HeaderSize+chunkLen)
	h.put(buf)

	inner := buf[HeaderSize:]
	binary.BigEndian.PutUint16(inner[0:2], uint16(chunkLen))
	copy(inner[4:8], tag[:])

	return buf, inner[ChunkHeaderSize:], nil
}

// BuildCommand builds a reliable tagged command packet carrying body
func BuildCommand(sessionID, packageID uint16, tag Tag, body []byte) ([]byte, error) {
	buf, dst, err := BuildGenericCommand(sessionID, packageID, tag, len(body))
	if err != nil {
		return nil, err
	}
	copy(dst, body)
	return buf, nil
}

// MacroAction returns the tag and body that run the macro at index
func MacroAction(index uint8) (Tag, []byte) {
	return TagMacroAction, []byte{0, index, 0, 0}
}

// ChangeProgramInput returns the tag and body that cut source to program on me
func ChangeProgramInput(me uint8, source uint16) (Tag, []byte) {
	body := []byte{me, 0, 0, 0}
	binary.BigEndian.PutUint16(body[2:], source)
	return TagChangeProgram, body
}

// ChangePreviewInput returns the tag and body that select source on preview of me
func ChangePreviewInput(me uint8, source uint16) (Tag, []byte) {
	body := []byte{me, 0, 0, 0}
	binary.BigEndian.PutUint16(body[2:], source)
	return TagChangePreview, body
}

// Cut returns the tag and body of a cut transition on me
func Cut(me uint8) (Tag, []byte) {
	return TagCut, []byte{me, 0, 0, 0}
}

// Auto returns the tag and body of an auto transition on me
func Auto(me uint8) (Tag, []byte) {
	return TagAuto, []byte{me, 0, 0, 0}
}

// encodeCommand turns an intent into wire bytes
func encodeCommand(cmd Command, sessionID, packageID uint16) ([]byte, error) {
	switch c := cmd.(type) {
	case HelloCommand:
		return BuildHello(), nil
	case AckCommand:
		// the acknowledged remote package goes into the ack id field
		return BuildAck(c.SessionID, 0, c.PackageID), nil
	case GenericCommand:
		return BuildCommand(sessionID, packageID, c.Tag, c.Body)
	default:
		return nil, fmt.Errorf("atem: cannot encode %T", cmd)
	}
}
