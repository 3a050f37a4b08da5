package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var macroCmd = &cobra.Command{
	Use:   "macro",
	Short: "List and run stored macros",
}

var macroListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the used macro slots",
	Long: `List connects, waits for the initial state dump and prints every used
macro slot.

Examples:
  edgeo-atem macro list -H 192.168.10.240
  edgeo-atem macro list -H 192.168.10.240 -o json`,

	RunE: runMacroList,
}

var macroRunCmd = &cobra.Command{
	Use:   "run <index>",
	Short: "Run the macro stored at index",
	Long: `Run starts the macro stored in the given slot (0-based).

Examples:
  edgeo-atem macro run 0 -H 192.168.10.240`,

	Args: cobra.ExactArgs(1),
	RunE: runMacroRun,
}

func init() {
	macroCmd.AddCommand(macroListCmd)
	macroCmd.AddCommand(macroRunCmd)
}

func runMacroList(cmd *cobra.Command, args []string) error {
	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.Close()

	macros := s.state.Macros()
	out := NewFormatter(viper.GetString("output"))

	if out.IsJSON() {
		return out.PrintJSON(macros)
	}

	if len(macros) == 0 {
		out.Println("No macros stored")
		return nil
	}

	rows := make([][]string, 0, len(macros))
	for _, m := range macros {
		rows = append(rows, []string{fmt.Sprint(m.Index), m.Name, m.Description})
	}
	out.PrintTable([]string{"INDEX", "NAME", "DESCRIPTION"}, rows)
	return nil
}

func runMacroRun(cmd *cobra.Command, args []string) error {
	index, err := parseMacroIndex(args[0])
	if err != nil {
		return err
	}

	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.client.RunMacro(index); err != nil {
		return fmt.Errorf("run macro: %w", err)
	}
	if err := waitAcked(s.client, sendWait); err != nil {
		return err
	}

	fmt.Printf("Macro %d started\n", index)
	return nil
}

func parseMacroIndex(s string) (uint8, error) {
	n, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid macro index %q: %w", s, err)
	}
	return uint8(n), nil
}
