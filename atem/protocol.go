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

// Header is the fixed 12-byte packet header.
//
//	byte 0     flags<<3 | length bits 9..8
//	byte 1     length bits 7..0 (payload + header)
//	bytes 2-3  session id
//	bytes 4-5  ack id
//	bytes 6-7  resend id
//	byte 8     unused
//	byte 9     magic
//	bytes 10-11 package id
type Header struct {
	Flags      Flag
	PayloadLen uint16
	SessionID  uint16
	AckID      uint16
	ResendID   uint16
	Magic      byte
	PackageID  uint16
}

// DecodeHeader decodes a packet header from the first 12 bytes of data
func DecodeHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, &DecodeError{Kind: DecodeShortPacket, Size: len(data)}
	}

	total := int(data[0]&0x03)<<8 | int(data[1])
	if total < HeaderSize {
		return Header{}, &DecodeError{Kind: DecodeUndersizedLength, Size: total}
	}

	return Header{
		Flags:      Flag(data[0] >> 3),
		PayloadLen: uint16(total - HeaderSize),
		SessionID:  binary.BigEndian.Uint16(data[2:4]),
		AckID:      binary.BigEndian.Uint16(data[4:6]),
		ResendID:   binary.BigEndian.Uint16(data[6:8]),
		Magic:      data[9],
		PackageID:  binary.BigEndian.Uint16(data[10:12]),
	}, nil
}

// Encode encodes the header. Flags are written as given.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	h.put(buf[:])
	return buf
}

func (h Header) put(buf []byte) {
	total := h.PayloadLen + HeaderSize
	buf[0] = byte(h.Flags)<<3 | byte(total>>8)&0x03
	buf[1] = byte(total)
	binary.BigEndian.PutUint16(buf[2:4], h.SessionID)
	binary.BigEndian.PutUint16(buf[4:6], h.AckID)
	binary.BigEndian.PutUint16(buf[6:8], h.ResendID)
	buf[8] = 0
	buf[9] = h.Magic
	binary.BigEndian.PutUint16(buf[10:12], h.PackageID)
}

func (h Header) String() string {
	return fmt.Sprintf("flags=%s len=%d session=0x%04x ack=%d resend=%d package=%d",
		h.Flags, h.PayloadLen, h.SessionID, h.AckID, h.ResendID, h.PackageID)
}

// Packet is a decoded datagram
type Packet struct {
	Header  Header
	Payload []byte
}

// DecodePacket splits a datagram into header and payload. The payload is
// bounded by the header length; bytes beyond it are ignored, a shorter
// datagram yields whatever payload bytes it carries.
func DecodePacket(data []byte) (Packet, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return Packet{}, err
	}

	end := HeaderSize + int(h.PayloadLen)
	if end > len(data) {
		end = len(data)
	}

	payload := make([]byte, end-HeaderSize)
	copy(payload, data[HeaderSize:end])

	return Packet{Header: h, Payload: payload}, nil
}
