package atem

import "strconv"

// Event is a typed outcome of decoding one payload chunk, or a connection
// signal raised by the client.
type Event interface {
	EventTag() Tag
}

// KeyerOnAir reports an upstream keyer going on or off air (KeOn)
type KeyerOnAir struct {
	ME    uint8 `json:"me"`
	Keyer uint8 `json:"keyer"`
	OnAir bool  `json:"on_air"`
}

// TallyState is the tally bitfield of one source
type TallyState uint8

const (
	TallyProgram TallyState = 0x01
	TallyPreview TallyState = 0x02
)

func (t TallyState) Program() bool { return t&TallyProgram != 0 }
func (t TallyState) Preview() bool { return t&TallyPreview != 0 }

// MarshalJSON encodes the bitfield as a number so tally slices do not
// become base64 strings
func (t TallyState) MarshalJSON() ([]byte, error) {
	return strconv.AppendUint(nil, uint64(t), 10), nil
}

// TallyByIndex carries the tally state of every source (TlIn)
type TallyByIndex struct {
	Sources []TallyState `json:"sources"`
}

// InputProperties describes one input (InPr)
type InputProperties struct {
	Index     uint16 `json:"index"`
	LongName  string `json:"long_name"`
	ShortName string `json:"short_name"`
	Flags     []byte `json:"flags,omitempty"`
}

// ProgramInput is the source on a mix effect's program bus (PrgI)
type ProgramInput struct {
	ME     uint8  `json:"me"`
	Source uint16 `json:"source"`
}

// PreviewInput is the source on a mix effect's preview bus (PrvI)
type PreviewInput struct {
	ME     uint8  `json:"me"`
	Source uint16 `json:"source"`
}

// AuxSource is the source routed to an auxiliary output (AuxS)
type AuxSource struct {
	Aux    uint8  `json:"aux"`
	Source uint16 `json:"source"`
}

// DownstreamKeyerState is the state of a downstream keyer (DskS)
type DownstreamKeyerState struct {
	Keyer             uint8 `json:"keyer"`
	OnAir             bool  `json:"on_air"`
	InTransition      bool  `json:"in_transition"`
	AutoTransitioning bool  `json:"auto_transitioning"`
	FramesRemaining   uint8 `json:"frames_remaining"`
}

// ColorGenerator is the HSL value of a color generator (ColV).
// Hue is in degrees, saturation and luma in 0..1.
type ColorGenerator struct {
	Index      uint8   `json:"index"`
	Hue        float64 `json:"hue"`
	Saturation float64 `json:"saturation"`
	Luma       float64 `json:"luma"`
}

// MacroProperties describes a macro slot (MPrp)
type MacroProperties struct {
	Index             uint16 `json:"index"`
	Used              bool   `json:"used"`
	HasUnsupportedOps bool   `json:"has_unsupported_ops"`
	Name              string `json:"name"`
	Description       string `json:"description"`
}

// ProtocolVersion is the firmware protocol version (_ver)
type ProtocolVersion struct {
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
}

// ProductID is the product name (_pin)
type ProductID struct {
	Name string `json:"name"`
}

// Topology holds the resource counts of the device (_top)
type Topology struct {
	MEs              uint8 `json:"mes"`
	Sources          uint8 `json:"sources"`
	ColorGenerators  uint8 `json:"color_generators"`
	AuxBusses        uint8 `json:"aux_busses"`
	DownstreamKeyers uint8 `json:"downstream_keyers"`
	Stingers         uint8 `json:"stingers"`
	DVEs             uint8 `json:"dves"`
	SuperSources     uint8 `json:"super_sources"`
}

// TallyChannelConfig is the number of tally channels (_TlC)
type TallyChannelConfig struct {
	Channels uint8 `json:"channels"`
}

// MacroPoolConfig is the number of macro slots (_MAC)
type MacroPoolConfig struct {
	Macros uint8 `json:"macros"`
}

// VideoMode is the current video standard identifier (VidM)
type VideoMode struct {
	Mode uint8 `json:"mode"`
}

// MacroRunStatus reports macro playback (MRPr)
type MacroRunStatus struct {
	Running bool   `json:"running"`
	Waiting bool   `json:"waiting"`
	Loop    bool   `json:"loop"`
	Index   uint16 `json:"index"`
}

// InitComplete echoes the device's init/config record (InCm)
type InitComplete struct {
	Raw []byte `json:"raw"`
}

// Connected is raised once when the Hello handshake completes
type Connected struct {
	SessionID uint16 `json:"session_id"`
}

// InitialBurstComplete is raised once after the device finished sending its state
type InitialBurstComplete struct{}

// ConnectionLost is raised when the connection actor terminates on an error
type ConnectionLost struct {
	Err error `json:"-"`
}

var (
	tagConnected            = Tag{'+', 'c', 'o', 'n'}
	tagInitialBurstComplete = Tag{'+', 'i', 'n', 'i'}
	tagConnectionLost       = Tag{'+', 'l', 'o', 's'}
)

func (KeyerOnAir) EventTag() Tag           { return TagKeyerOnAir }
func (TallyByIndex) EventTag() Tag         { return TagTallyByIndex }
func (InputProperties) EventTag() Tag      { return TagInputProperties }
func (ProgramInput) EventTag() Tag         { return TagProgramInput }
func (PreviewInput) EventTag() Tag         { return TagPreviewInput }
func (AuxSource) EventTag() Tag            { return TagAuxSource }
func (DownstreamKeyerState) EventTag() Tag { return TagDownstreamKeyer }
func (ColorGenerator) EventTag() Tag       { return TagColorGenerator }
func (MacroProperties) EventTag() Tag      { return TagMacroProperties }
func (ProtocolVersion) EventTag() Tag      { return TagVersion }
func (ProductID) EventTag() Tag            { return TagProductID }
func (Topology) EventTag() Tag             { return TagTopology }
func (TallyChannelConfig) EventTag() Tag   { return TagTallyConfig }
func (MacroPoolConfig) EventTag() Tag      { return TagMacroPoolConfig }
func (VideoMode) EventTag() Tag            { return TagVideoMode }
func (MacroRunStatus) EventTag() Tag       { return TagMacroRunStatus }
func (InitComplete) EventTag() Tag         { return TagInitComplete }
func (Connected) EventTag() Tag            { return tagConnected }
func (InitialBurstComplete) EventTag() Tag { return tagInitialBurstComplete }
func (ConnectionLost) EventTag() Tag       { return tagConnectionLost }

// EventName returns a short name for logs and topic paths
func EventName(ev Event) string {
	switch ev.(type) {
	case Connected:
		return "connected"
	case InitialBurstComplete:
		return "initial-burst-complete"
	case ConnectionLost:
		return "connection-lost"
	default:
		return ev.EventTag().String()
	}
}
