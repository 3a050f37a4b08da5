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

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/atem/atem"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive switcher session",
	Long: `Interactive mode provides a REPL for exploring and driving a switcher.

Commands:
  state                   - Show product, topology and buses
  inputs                  - List inputs
  macros                  - List stored macros
  macro <index>           - Run a macro
  program <me> <source>   - Put a source on program
  preview <me> <source>   - Put a source on preview
  cut [me]                - Cut transition
  auto [me]               - Auto transition
  send <tag> [hex-body]   - Send a raw command
  metrics                 - Show client metrics
  help                    - Show help
  exit                    - Exit interactive mode

Examples:
  atem> inputs
  atem> preview 0 2
  atem> auto
  atem> macro 3`,

	RunE: runInteractive,
}

func runInteractive(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.Close()

	// keep the state current while the prompt waits for input
	go func() {
		for {
			select {
			case ev := <-s.client.Events():
				s.state.Apply(ev)
				if lost, ok := ev.(atem.ConnectionLost); ok {
					fmt.Printf("\nConnection lost: %v\n", lost.Err)
				}
			case <-s.client.Done():
				return
			}
		}
	}()

	fmt.Printf("ATEM Interactive Shell (%s)\n", s.state.Snapshot().Product)
	fmt.Println("Type 'help' for available commands, 'exit' to quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("atem> ")

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])

		switch command {
		case "exit", "quit", "q":
			fmt.Println("Goodbye!")
			return nil

		case "help", "?":
			printInteractiveHelp()

		case "state":
			runInteractiveState(s)

		case "inputs":
			runInteractiveInputs(s)

		case "macros":
			runInteractiveMacros(s)

		case "macro":
			if len(parts) < 2 {
				fmt.Println("Usage: macro <index>")
				continue
			}
			index, err := parseMacroIndex(parts[1])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			reportSubmit(s.client.RunMacro(index))

		case "program", "preview":
			if len(parts) < 3 {
				fmt.Printf("Usage: %s <me> <source>\n", command)
				continue
			}
			me, err1 := strconv.ParseUint(parts[1], 10, 8)
			src, err2 := strconv.ParseUint(parts[2], 10, 16)
			if err1 != nil || err2 != nil {
				fmt.Println("Invalid mix effect or source")
				continue
			}
			tag, body := atem.ChangeProgramInput(uint8(me), uint16(src))
			if command == "preview" {
				tag, body = atem.ChangePreviewInput(uint8(me), uint16(src))
			}
			reportSubmit(s.client.SendCommand(tag, body))

		case "cut", "auto":
			me := uint64(0)
			if len(parts) >= 2 {
				var err error
				if me, err = strconv.ParseUint(parts[1], 10, 8); err != nil {
					fmt.Println("Invalid mix effect")
					continue
				}
			}
			tag, body := atem.Cut(uint8(me))
			if command == "auto" {
				tag, body = atem.Auto(uint8(me))
			}
			reportSubmit(s.client.SendCommand(tag, body))

		case "send":
			if len(parts) < 2 {
				fmt.Println("Usage: send <tag> [hex-body]")
				continue
			}
			tag, err := atem.ParseTag(parts[1])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			body, err := parseHexBody(strings.Join(parts[2:], ""))
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			reportSubmit(s.client.SendCommand(tag, body))

		case "metrics":
			runInteractiveMetrics(s.client)

		default:
			fmt.Printf("Unknown command: %s (type 'help' for available commands)\n", command)
		}
	}

	return nil
}

func printInteractiveHelp() {
	fmt.Println(`
Available commands:
  state                   Show product, topology and buses
  inputs                  List inputs
  macros                  List stored macros
  macro <index>           Run the macro stored at index
  program <me> <source>   Put a source on the program bus
  preview <me> <source>   Put a source on the preview bus
  cut [me]                Cut transition (default ME 0)
  auto [me]               Auto transition (default ME 0)
  send <tag> [hex-body]   Send a raw tagged command
  metrics                 Show client metrics
  help                    Show this help message
  exit                    Exit interactive mode

Sources are input indexes as listed by 'inputs'.`)
}

func reportSubmit(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("OK")
}

func runInteractiveState(s *session) {
	snap := s.state.Snapshot()

	fmt.Printf("\n%s (protocol %d.%d)\n", snap.Product, snap.Version.Major, snap.Version.Minor)
	fmt.Printf("  MEs: %d  Sources: %d  Aux: %d  DSKs: %d\n",
		snap.Topology.MEs, snap.Topology.Sources, snap.Topology.AuxBusses, snap.Topology.DownstreamKeyers)
	for me := uint8(0); me < snap.Topology.MEs; me++ {
		fmt.Printf("  ME %d  program=%d preview=%d\n", me, snap.Program[me], snap.Preview[me])
	}
	for aux := uint8(0); aux < snap.Topology.AuxBusses; aux++ {
		fmt.Printf("  Aux %d source=%d\n", aux, snap.Aux[aux])
	}
	for _, k := range snap.KeyersOnAir {
		fmt.Printf("  Keyer %d/%d on air=%v\n", k.ME, k.Keyer, k.OnAir)
	}
	for _, d := range snap.DownstreamKeys {
		fmt.Printf("  DSK %d on air=%v\n", d.Keyer, d.OnAir)
	}
	if len(snap.Tally) > 0 {
		fmt.Printf("  Tally: %s\n", formatTally(snap.Tally))
	}
	if snap.MacroRun.Running {
		fmt.Printf("  Macro %d running\n", snap.MacroRun.Index)
	}
	fmt.Println()
}

func runInteractiveInputs(s *session) {
	snap := s.state.Snapshot()
	if len(snap.Inputs) == 0 {
		fmt.Println("No inputs reported")
		return
	}

	fmt.Println()
	for _, in := range snap.Inputs {
		fmt.Printf("  %5d  %-4s  %s\n", in.Index, in.ShortName, in.LongName)
	}
	fmt.Println()
}

func runInteractiveMacros(s *session) {
	macros := s.state.Macros()
	if len(macros) == 0 {
		fmt.Println("No macros stored")
		return
	}

	fmt.Println()
	for _, m := range macros {
		fmt.Printf("  %3d  %s\n", m.Index, m.Name)
	}
	fmt.Println()
}

func runInteractiveMetrics(client *atem.Client) {
	m := client.Metrics().Snapshot()

	fmt.Println("\nClient Metrics:")
	fmt.Printf("  Uptime:              %s\n", m.Uptime.Round(time.Second))
	fmt.Printf("  Packets Sent:        %d\n", m.PacketsSent)
	fmt.Printf("  Packets Received:    %d\n", m.PacketsReceived)
	fmt.Printf("  Acks Sent:           %d\n", m.AcksSent)
	fmt.Printf("  Acks Received:       %d\n", m.AcksReceived)
	fmt.Printf("  Commands Sent:       %d\n", m.CommandsSent)
	fmt.Printf("  Commands Pending:    %d\n", m.PendingCommands)
	fmt.Printf("  Commands Expired:    %d\n", m.CommandsExpired)
	fmt.Printf("  Events Decoded:      %d\n", m.EventsDecoded)
	fmt.Printf("  Decode Errors:       %d\n", m.DecodeErrors)
	fmt.Printf("  Unhandled Chunks:    %d\n", m.UnhandledChunks)
	fmt.Printf("  Resend Requests:     %d\n", m.ResendRequests)
	fmt.Printf("  Bytes Sent:          %d\n", m.BytesSent)
	fmt.Printf("  Bytes Received:      %d\n", m.BytesReceived)

	if m.CommandLatency.Count > 0 {
		fmt.Printf("  Avg Latency:         %s\n", m.CommandLatency.Avg.Round(time.Microsecond))
		fmt.Printf("  Min Latency:         %s\n", m.CommandLatency.Min.Round(time.Microsecond))
		fmt.Printf("  Max Latency:         %s\n", m.CommandLatency.Max.Round(time.Microsecond))
	}
	fmt.Println()
}
