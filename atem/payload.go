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
	"bytes"
	"encoding/binary"
	"log/slog"
)

// PayloadDecoder splits a payload into TLV chunks and decodes the ones it
// knows into events. It keeps no state between calls.
type PayloadDecoder struct {
	logger      *slog.Logger
	onUnhandled func(Tag)
}

// NewPayloadDecoder creates a payload decoder logging to logger
func NewPayloadDecoder(logger *slog.Logger) *PayloadDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PayloadDecoder{logger: logger}
}

// OnUnhandled registers fn to be called for every tag that is neither
// decoded nor on the ignore list
func (d *PayloadDecoder) OnUnhandled(fn func(Tag)) {
	d.onUnhandled = fn
}

// Decode decodes the chunks of payload. On error the events decoded before
// the faulty chunk are returned alongside it.
func (d *PayloadDecoder) Decode(payload []byte) ([]Event, error) {
	var events []Event

	offset := 0
	for len(payload)-offset >= 2 {
		size := int(binary.BigEndian.Uint16(payload[offset:]))
		if size == 0 {
			break
		}
		if size < ChunkHeaderSize {
			return events, &DecodeError{Kind: DecodeMalformedChunk, Offset: offset, Size: size}
		}
		if offset+size > len(payload) {
			return events, &DecodeError{Kind: DecodeTruncatedChunk, Offset: offset, Size: size}
		}

		var tag Tag
		copy(tag[:], payload[offset+4:offset+8])

		decode, known := chunkDecoders[tag]
		switch {
		case known:
			f := &fields{
				buf: payload[offset+ChunkHeaderSize:],
				n:   size - ChunkHeaderSize,
			}
			ev := decode(f)
			if f.short {
				return events, &DecodeError{Kind: DecodeTruncatedChunk, Offset: offset, Size: size, Tag: tag}
			}
			events = append(events, ev)

		case ignoredTags[tag]:

		default:
			d.logger.Warn("unhandled tag",
				slog.String("tag", tag.String()),
				slog.Int("size", size),
				slog.Int("offset", offset),
			)
			if d.onUnhandled != nil {
				d.onUnhandled(tag)
			}
		}

		offset += size
	}

	return events, nil
}

// fields reads record fields. Offsets are relative to the first data byte
// of the chunk. Fixed-offset scalars and strings are bounded by the end of
// the payload, not by the declared chunk size, since fixed layouts may run
// into trailing padding. Lengths read from the record itself are bounded by
// the declared size.
type fields struct {
	buf   []byte
	n     int
	short bool
}

// has reports whether off lies inside the declared chunk data
func (f *fields) has(off int) bool {
	return off < f.n && off < len(f.buf)
}

func (f *fields) u8(off int) uint8 {
	if off >= len(f.buf) {
		f.short = true
		return 0
	}
	return f.buf[off]
}

func (f *fields) flag(off int) bool {
	return f.u8(off) != 0
}

func (f *fields) u16(off int) uint16 {
	if off+2 > len(f.buf) {
		f.short = true
		return 0
	}
	return binary.BigEndian.Uint16(f.buf[off:])
}

func (f *fields) bytes(off, n int) []byte {
	if off+n > len(f.buf) {
		f.short = true
		return nil
	}
	out := make([]byte, n)
	copy(out, f.buf[off:off+n])
	return out
}

// span reads n bytes whose length comes from the record. The bytes must lie
// inside the declared chunk data.
func (f *fields) span(off, n int) []byte {
	if n < 0 || off+n > f.n {
		f.short = true
		return nil
	}
	return f.bytes(off, n)
}

// str reads a NUL padded string of at most n bytes
func (f *fields) str(off, n int) string {
	return cstring(f.bytes(off, n))
}

// rest returns a copy of the chunk data from off to the declared chunk end
func (f *fields) rest(off int) []byte {
	end := f.n
	if end > len(f.buf) {
		end = len(f.buf)
	}
	if off >= end {
		return nil
	}
	out := make([]byte, end-off)
	copy(out, f.buf[off:end])
	return out
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

type chunkDecoder func(f *fields) Event

var chunkDecoders = map[Tag]chunkDecoder{
	TagKeyerOnAir: func(f *fields) Event {
		return KeyerOnAir{ME: f.u8(0), Keyer: f.u8(1), OnAir: f.flag(2)}
	},
	TagTallyByIndex: func(f *fields) Event {
		count := int(f.u16(0))
		raw := f.span(2, count)
		sources := make([]TallyState, len(raw))
		for i, b := range raw {
			sources[i] = TallyState(b)
		}
		return TallyByIndex{Sources: sources}
	},
	TagInputProperties: func(f *fields) Event {
		return InputProperties{
			Index:     f.u16(0),
			LongName:  f.str(2, 20),
			ShortName: f.str(22, 4),
			Flags:     f.rest(26),
		}
	},
	TagProgramInput: func(f *fields) Event {
		return ProgramInput{ME: f.u8(0), Source: f.u16(2)}
	},
	TagPreviewInput: func(f *fields) Event {
		return PreviewInput{ME: f.u8(0), Source: f.u16(2)}
	},
	TagAuxSource: func(f *fields) Event {
		return AuxSource{Aux: f.u8(0), Source: f.u16(2)}
	},
	TagDownstreamKeyer: func(f *fields) Event {
		return DownstreamKeyerState{
			Keyer:             f.u8(0),
			OnAir:             f.flag(1),
			InTransition:      f.flag(2),
			AutoTransitioning: f.flag(3),
			FramesRemaining:   f.u8(4),
		}
	},
	TagColorGenerator: func(f *fields) Event {
		return ColorGenerator{
			Index:      f.u8(0),
			Hue:        float64(f.u16(2)) / 10,
			Saturation: float64(f.u16(4)) / 1000,
			Luma:       float64(f.u16(6)) / 1000,
		}
	},
	TagMacroProperties: func(f *fields) Event {
		nameLen := int(f.u16(4))
		descLen := int(f.u16(6))
		return MacroProperties{
			Index:             f.u16(0),
			Used:              f.flag(2),
			HasUnsupportedOps: f.flag(3),
			Name:              string(f.span(8, nameLen)),
			Description:       string(f.span(8+nameLen, descLen)),
		}
	},
	TagVersion: func(f *fields) Event {
		return ProtocolVersion{Major: f.u16(0), Minor: f.u16(2)}
	},
	TagProductID: func(f *fields) Event {
		return ProductID{Name: cstring(f.rest(0))}
	},
	TagTopology: func(f *fields) Event {
		var t Topology
		counts := []*uint8{
			&t.MEs, &t.Sources, &t.ColorGenerators, &t.AuxBusses,
			&t.DownstreamKeyers, &t.Stingers, &t.DVEs, &t.SuperSources,
		}
		for i, c := range counts {
			if !f.has(i) {
				break
			}
			*c = f.u8(i)
		}
		return t
	},
	TagTallyConfig: func(f *fields) Event {
		return TallyChannelConfig{Channels: f.u8(4)}
	},
	TagMacroPoolConfig: func(f *fields) Event {
		return MacroPoolConfig{Macros: f.u8(0)}
	},
	TagVideoMode: func(f *fields) Event {
		return VideoMode{Mode: f.u8(0)}
	},
	TagMacroRunStatus: func(f *fields) Event {
		status := f.u8(0)
		return MacroRunStatus{
			Running: status&0x01 != 0,
			Waiting: status&0x02 != 0,
			Loop:    f.flag(1),
			Index:   f.u16(2),
		}
	},
	TagInitComplete: func(f *fields) Event {
		return InitComplete{Raw: f.rest(0)}
	},
}

// ignoredTags are sent by the device but not modeled
var ignoredTags = func() map[Tag]bool {
	names := []string{
		// device configuration
		"_FAC", "_MeC", "_mpl", "_MvC", "_SSC", "_AMC", "_VMC", "_DVE", "_FEC",
		"Powr", "Time", "TcLk", "TCCc", "LKST", "LKOB", "Warn",
		"VMC1", "AiVM", "DcOt", "SaMw", "TlSr", "TlFc", "CCdo", "CCdP", "CCst",
		"V3sl", "PLCK", "MAPO",
		// transitions
		"TrSS", "TrPr", "TrPs", "TMxP", "TDpP", "TWpP", "TDvP", "TStP", "FtbP", "FtbS",
		// upstream keyers
		"KeBP", "KeLm", "KACk", "KACC", "KePt", "KeDV", "KeFS", "KKFP", "KeBS", "KeBo",
		// downstream keyers
		"DskB", "DskP",
		// media players and pool
		"MPCE", "MPfe", "MPSp", "MPCS", "MPAS", "MPrf", "RXMS", "RXCP", "RXSS", "RXCC",
		// audio mixer
		"AMIP", "AMMO", "AMmO", "AMLv", "AMTl", "AMHP", "AMPP", "AEBP",
		// fairlight
		"FASP", "FAMP", "FAIP", "FMHP", "FDLv", "FMTl", "FAMS", "FAEQ", "FAMC",
		"AICP", "AILP", "AIXP", "AMBP", "AMLP", "AMOD",
		// streaming and recording
		"StRS", "StrR", "SRST", "SRSU", "RTMS", "SRSS", "RMSu", "RMRD", "STAB",
		"SRSD", "RTMR", "SAth", "SRsq", "SLow", "SSDS",
		// multiviewer
		"MvPr", "MvIn", "VuMC", "VuMo", "MvVM",
		// super source
		"SSrc", "SSBP", "SSBd", "SSCs",
		// macros
		"MRcS",
		// color generator
		"CClV",
	}
	m := make(map[Tag]bool, len(names))
	for _, n := range names {
		m[MustParseTag(n)] = true
	}
	return m
}()
