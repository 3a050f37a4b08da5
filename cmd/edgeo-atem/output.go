package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/edgeo/drivers/atem/atem"
)

// OutputFormat represents output format types
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

// Formatter handles output formatting
type Formatter struct {
	format OutputFormat
	writer io.Writer
}

// NewFormatter creates a new formatter
func NewFormatter(format string) *Formatter {
	return &Formatter{
		format: OutputFormat(format),
		writer: os.Stdout,
	}
}

// SetWriter sets the output writer
func (f *Formatter) SetWriter(w io.Writer) {
	f.writer = w
}

// IsJSON reports whether JSON output was requested
func (f *Formatter) IsJSON() bool {
	return f.format == FormatJSON
}

// Printf formats and prints output
func (f *Formatter) Printf(format string, args ...interface{}) {
	fmt.Fprintf(f.writer, format, args...)
}

// Println prints a line
func (f *Formatter) Println(args ...interface{}) {
	fmt.Fprintln(f.writer, args...)
}

// PrintJSON prints v as indented JSON
func (f *Formatter) PrintJSON(v interface{}) error {
	enc := json.NewEncoder(f.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintTable prints data in table format
func (f *Formatter) PrintTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	for i, h := range headers {
		fmt.Fprintf(f.writer, "%-*s ", widths[i], h)
	}
	fmt.Fprintln(f.writer)

	for i := range headers {
		fmt.Fprint(f.writer, strings.Repeat("-", widths[i]), " ")
	}
	fmt.Fprintln(f.writer)

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				fmt.Fprintf(f.writer, "%-*s ", widths[i], cell)
			}
		}
		fmt.Fprintln(f.writer)
	}
}

// PrintKeyValue prints key-value pairs in the given order
func (f *Formatter) PrintKeyValue(pairs map[string]interface{}, order []string) {
	maxKeyLen := 0
	for _, key := range order {
		if len(key) > maxKeyLen {
			maxKeyLen = len(key)
		}
	}

	for _, key := range order {
		if val, ok := pairs[key]; ok {
			fmt.Fprintf(f.writer, "%-*s: %v\n", maxKeyLen, key, val)
		}
	}
}

// eventRecord is the JSON shape of a streamed event
type eventRecord struct {
	Time  time.Time  `json:"time"`
	Event string     `json:"event"`
	Data  atem.Event `json:"data,omitempty"`
	Error string     `json:"error,omitempty"`
}

func newEventRecord(t time.Time, ev atem.Event) eventRecord {
	rec := eventRecord{Time: t, Event: atem.EventName(ev), Data: ev}
	if lost, ok := ev.(atem.ConnectionLost); ok && lost.Err != nil {
		rec.Error = lost.Err.Error()
	}
	return rec
}

// PrintEvent prints one event as a JSON line or a single text line
func (f *Formatter) PrintEvent(t time.Time, ev atem.Event) {
	if f.IsJSON() {
		data, err := json.Marshal(newEventRecord(t, ev))
		if err != nil {
			fmt.Fprintf(os.Stderr, "encode event: %v\n", err)
			return
		}
		fmt.Fprintln(f.writer, string(data))
		return
	}

	fmt.Fprintf(f.writer, "[%s] %-22s %s\n", t.Format("15:04:05.000"), atem.EventName(ev), describeEvent(ev))
}

// describeEvent renders the fields of an event for table output
func describeEvent(ev atem.Event) string {
	switch e := ev.(type) {
	case atem.Connected:
		return fmt.Sprintf("session=0x%04x", e.SessionID)
	case atem.ConnectionLost:
		return fmt.Sprintf("error=%v", e.Err)
	case atem.InitialBurstComplete:
		return ""
	case atem.KeyerOnAir:
		return fmt.Sprintf("me=%d keyer=%d on_air=%v", e.ME, e.Keyer, e.OnAir)
	case atem.ProgramInput:
		return fmt.Sprintf("me=%d source=%d", e.ME, e.Source)
	case atem.PreviewInput:
		return fmt.Sprintf("me=%d source=%d", e.ME, e.Source)
	case atem.AuxSource:
		return fmt.Sprintf("aux=%d source=%d", e.Aux, e.Source)
	case atem.TallyByIndex:
		return "tally=" + formatTally(e.Sources)
	case atem.InputProperties:
		return fmt.Sprintf("index=%d name=%q short=%q", e.Index, e.LongName, e.ShortName)
	case atem.MacroProperties:
		return fmt.Sprintf("index=%d used=%v name=%q", e.Index, e.Used, e.Name)
	case atem.MacroRunStatus:
		return fmt.Sprintf("index=%d running=%v waiting=%v loop=%v", e.Index, e.Running, e.Waiting, e.Loop)
	case atem.ColorGenerator:
		return fmt.Sprintf("index=%d hue=%.1f sat=%.3f luma=%.3f", e.Index, e.Hue, e.Saturation, e.Luma)
	case atem.ProtocolVersion:
		return fmt.Sprintf("%d.%d", e.Major, e.Minor)
	case atem.ProductID:
		return e.Name
	case atem.InitComplete:
		return fmt.Sprintf("% x", e.Raw)
	default:
		return fmt.Sprintf("%+v", ev)
	}
}

// formatTally renders tally states as P (program), V (preview), B (both) or -
func formatTally(sources []atem.TallyState) string {
	var b strings.Builder
	for _, s := range sources {
		switch {
		case s.Program() && s.Preview():
			b.WriteByte('B')
		case s.Program():
			b.WriteByte('P')
		case s.Preview():
			b.WriteByte('V')
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
