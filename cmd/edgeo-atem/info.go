package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/atem/atem"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display switcher information",
	Long: `Info connects, waits for the initial state dump and prints the product,
protocol version, topology and input list of a switcher.

Examples:
  # Get switcher info
  edgeo-atem info -H 192.168.10.240

  # Get info in JSON format
  edgeo-atem info -H 192.168.10.240 -o json`,

	RunE: runInfo,
}

// infoResult is the JSON shape of the info command
type infoResult struct {
	Host      string                 `json:"host"`
	Timestamp time.Time              `json:"timestamp"`
	Product   string                 `json:"product"`
	Version   atem.ProtocolVersion   `json:"version"`
	Topology  atem.Topology          `json:"topology"`
	VideoMode uint8                  `json:"video_mode"`
	Program   map[uint8]uint16       `json:"program,omitempty"`
	Preview   map[uint8]uint16       `json:"preview,omitempty"`
	Inputs    []atem.InputProperties `json:"inputs"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.Close()

	snap := s.state.Snapshot()
	out := NewFormatter(viper.GetString("output"))

	if out.IsJSON() {
		return out.PrintJSON(infoResult{
			Host:      viper.GetString("host"),
			Timestamp: time.Now(),
			Product:   snap.Product,
			Version:   snap.Version,
			Topology:  snap.Topology,
			VideoMode: snap.VideoMode,
			Program:   snap.Program,
			Preview:   snap.Preview,
			Inputs:    snap.Inputs,
		})
	}

	out.Printf("\n=== %s ===\n\n", viper.GetString("host"))

	t := snap.Topology
	out.PrintKeyValue(map[string]interface{}{
		"Product":           snap.Product,
		"Protocol Version":  fmt.Sprintf("%d.%d", snap.Version.Major, snap.Version.Minor),
		"Video Mode":        snap.VideoMode,
		"Mix Effects":       t.MEs,
		"Sources":           t.Sources,
		"Color Generators":  t.ColorGenerators,
		"Aux Busses":        t.AuxBusses,
		"Downstream Keyers": t.DownstreamKeyers,
		"Stingers":          t.Stingers,
		"DVEs":              t.DVEs,
		"SuperSources":      t.SuperSources,
		"Macro Slots":       snap.MacroSlots,
		"Tally Channels":    snap.TallyChannels,
	}, []string{
		"Product", "Protocol Version", "Video Mode",
		"Mix Effects", "Sources", "Color Generators", "Aux Busses",
		"Downstream Keyers", "Stingers", "DVEs", "SuperSources",
		"Macro Slots", "Tally Channels",
	})

	for me := uint8(0); me < t.MEs; me++ {
		out.Printf("ME %d: program=%d preview=%d\n", me, snap.Program[me], snap.Preview[me])
	}

	if len(snap.Inputs) > 0 {
		out.Println()
		rows := make([][]string, 0, len(snap.Inputs))
		for _, in := range snap.Inputs {
			rows = append(rows, []string{fmt.Sprint(in.Index), in.ShortName, in.LongName})
		}
		out.PrintTable([]string{"INDEX", "SHORT", "NAME"}, rows)
	}

	out.Println()
	return nil
}
