package atem

import (
	"sort"
	"sync"
)

// DeviceState aggregates the typed events of one connection. It is safe for
// concurrent use: the application applies events drained with Update while
// other goroutines read snapshots.
type DeviceState struct {
	mu sync.RWMutex

	connected    bool
	sessionID    uint16
	initialized  bool
	version      ProtocolVersion
	product      string
	topology     Topology
	videoMode    uint8
	tally        []TallyState
	tallyConfig  uint8
	macroSlots   uint8
	inputs       map[uint16]InputProperties
	program      map[uint8]uint16
	preview      map[uint8]uint16
	aux          map[uint8]uint16
	keyers       map[keyerKey]bool
	dsk          map[uint8]DownstreamKeyerState
	colors       map[uint8]ColorGenerator
	macros       map[uint16]MacroProperties
	macroRunning MacroRunStatus
}

type keyerKey struct {
	me, keyer uint8
}

// NewDeviceState creates an empty state
func NewDeviceState() *DeviceState {
	return &DeviceState{
		inputs:  make(map[uint16]InputProperties),
		program: make(map[uint8]uint16),
		preview: make(map[uint8]uint16),
		aux:     make(map[uint8]uint16),
		keyers:  make(map[keyerKey]bool),
		dsk:     make(map[uint8]DownstreamKeyerState),
		colors:  make(map[uint8]ColorGenerator),
		macros:  make(map[uint16]MacroProperties),
	}
}

// Apply folds one event into the state. Events it does not track are ignored.
func (s *DeviceState) Apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case Connected:
		s.connected = true
		s.sessionID = e.SessionID
	case ConnectionLost:
		s.connected = false
	case InitialBurstComplete:
		s.initialized = true
	case ProtocolVersion:
		s.version = e
	case ProductID:
		s.product = e.Name
	case Topology:
		s.topology = e
	case VideoMode:
		s.videoMode = e.Mode
	case TallyByIndex:
		s.tally = append(s.tally[:0], e.Sources...)
	case TallyChannelConfig:
		s.tallyConfig = e.Channels
	case MacroPoolConfig:
		s.macroSlots = e.Macros
	case InputProperties:
		s.inputs[e.Index] = e
	case ProgramInput:
		s.program[e.ME] = e.Source
	case PreviewInput:
		s.preview[e.ME] = e.Source
	case AuxSource:
		s.aux[e.Aux] = e.Source
	case KeyerOnAir:
		s.keyers[keyerKey{e.ME, e.Keyer}] = e.OnAir
	case DownstreamKeyerState:
		s.dsk[e.Keyer] = e
	case ColorGenerator:
		s.colors[e.Index] = e
	case MacroProperties:
		s.macros[e.Index] = e
	case MacroRunStatus:
		s.macroRunning = e
	}
}

// Initialized reports whether the initial state dump has been received
func (s *DeviceState) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Input returns the properties of one input
func (s *DeviceState) Input(index uint16) (InputProperties, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.inputs[index]
	return in, ok
}

// Program returns the program source of a mix effect
func (s *DeviceState) Program(me uint8) (uint16, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.program[me]
	return src, ok
}

// Macros returns the used macro slots ordered by index
func (s *DeviceState) Macros() []MacroProperties {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]MacroProperties, 0, len(s.macros))
	for _, m := range s.macros {
		if m.Used {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// StateSnapshot is a point-in-time copy of DeviceState
type StateSnapshot struct {
	Connected      bool                   `json:"connected"`
	SessionID      uint16                 `json:"session_id"`
	Initialized    bool                   `json:"initialized"`
	Version        ProtocolVersion        `json:"version"`
	Product        string                 `json:"product"`
	Topology       Topology               `json:"topology"`
	VideoMode      uint8                  `json:"video_mode"`
	TallyChannels  uint8                  `json:"tally_channels"`
	MacroSlots     uint8                  `json:"macro_slots"`
	Tally          []TallyState           `json:"tally,omitempty"`
	Inputs         []InputProperties      `json:"inputs,omitempty"`
	Program        map[uint8]uint16       `json:"program,omitempty"`
	Preview        map[uint8]uint16       `json:"preview,omitempty"`
	Aux            map[uint8]uint16       `json:"aux,omitempty"`
	KeyersOnAir    []KeyerOnAir           `json:"keyers_on_air,omitempty"`
	DownstreamKeys []DownstreamKeyerState `json:"downstream_keyers,omitempty"`
	ColorGens      []ColorGenerator       `json:"color_generators,omitempty"`
	Macros         []MacroProperties      `json:"macros,omitempty"`
	MacroRun       MacroRunStatus         `json:"macro_run"`
}

// Snapshot returns a copy of the state with slices ordered by index
func (s *DeviceState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StateSnapshot{
		Connected:     s.connected,
		SessionID:     s.sessionID,
		Initialized:   s.initialized,
		Version:       s.version,
		Product:       s.product,
		Topology:      s.topology,
		VideoMode:     s.videoMode,
		TallyChannels: s.tallyConfig,
		MacroSlots:    s.macroSlots,
		Tally:         append([]TallyState(nil), s.tally...),
		Program:       copyBus(s.program),
		Preview:       copyBus(s.preview),
		Aux:           copyBus(s.aux),
		MacroRun:      s.macroRunning,
	}

	for _, in := range s.inputs {
		snap.Inputs = append(snap.Inputs, in)
	}
	sort.Slice(snap.Inputs, func(i, j int) bool { return snap.Inputs[i].Index < snap.Inputs[j].Index })

	for k, on := range s.keyers {
		snap.KeyersOnAir = append(snap.KeyersOnAir, KeyerOnAir{ME: k.me, Keyer: k.keyer, OnAir: on})
	}
	sort.Slice(snap.KeyersOnAir, func(i, j int) bool {
		a, b := snap.KeyersOnAir[i], snap.KeyersOnAir[j]
		if a.ME != b.ME {
			return a.ME < b.ME
		}
		return a.Keyer < b.Keyer
	})

	for _, d := range s.dsk {
		snap.DownstreamKeys = append(snap.DownstreamKeys, d)
	}
	sort.Slice(snap.DownstreamKeys, func(i, j int) bool { return snap.DownstreamKeys[i].Keyer < snap.DownstreamKeys[j].Keyer })

	for _, c := range s.colors {
		snap.ColorGens = append(snap.ColorGens, c)
	}
	sort.Slice(snap.ColorGens, func(i, j int) bool { return snap.ColorGens[i].Index < snap.ColorGens[j].Index })

	for _, m := range s.macros {
		snap.Macros = append(snap.Macros, m)
	}
	sort.Slice(snap.Macros, func(i, j int) bool { return snap.Macros[i].Index < snap.Macros[j].Index })

	return snap
}

func copyBus(m map[uint8]uint16) map[uint8]uint16 {
	if len(m) == 0 {
		return nil
	}
	out := make(map[uint8]uint16, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
