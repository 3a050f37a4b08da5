package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/atem/atem"
)

var (
	watchTags     []string
	watchSkipDump bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream switcher events",
	Long: `Watch connects to a switcher and prints every decoded event as it
arrives, starting with the initial state dump.

Examples:
  # Stream all events
  edgeo-atem watch -H 192.168.10.240

  # Only program and preview changes, as JSON lines
  edgeo-atem watch -H 192.168.10.240 --tags PrgI,PrvI -o json

  # Skip the initial state dump
  edgeo-atem watch -H 192.168.10.240 --changes-only`,

	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringSliceVar(&watchTags, "tags", nil, "Only print events with these tags (e.g., PrgI,TlIn)")
	watchCmd.Flags().BoolVar(&watchSkipDump, "changes-only", false, "Do not print events of the initial state dump")
}

func runWatch(cmd *cobra.Command, args []string) error {
	filter := make(map[atem.Tag]bool)
	for _, s := range watchTags {
		tag, err := atem.ParseTag(s)
		if err != nil {
			return fmt.Errorf("invalid tag: %w", err)
		}
		filter[tag] = true
	}

	client, err := createClient()
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	// Handle interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nStopping watch...")
		cancel()
	}()

	out := NewFormatter(viper.GetString("output"))
	if !out.IsJSON() {
		fmt.Printf("Watching %s\n", viper.GetString("host"))
		fmt.Println("Press Ctrl+C to stop")
		fmt.Println()
	}

	burstDone := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-client.Events():
			switch e := ev.(type) {
			case atem.InitialBurstComplete:
				burstDone = true
			case atem.ConnectionLost:
				out.PrintEvent(time.Now(), ev)
				return fmt.Errorf("connection lost: %w", e.Err)
			}

			if watchSkipDump && !burstDone {
				continue
			}
			if len(filter) > 0 && !filter[ev.EventTag()] {
				continue
			}
			out.PrintEvent(time.Now(), ev)
		}
	}
}
