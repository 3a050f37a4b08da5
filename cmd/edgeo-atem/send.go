package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/atem/atem"
)

var sendWait time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <tag> [hex-body]",
	Short: "Send a raw tagged command",
	Long: `Send builds a reliable command packet from a four character tag and a
hex encoded body and sends it once the handshake completed.

Spaces and colons in the body are ignored.

Examples:
  # Cut on mix effect 0
  edgeo-atem send DCut 00000000 -H 192.168.10.240

  # Put input 2 on program of mix effect 0
  edgeo-atem send CPgI "00 00 00 02" -H 192.168.10.240`,

	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().DurationVar(&sendWait, "wait", time.Second, "Time to wait for the switcher to acknowledge")
}

func runSend(cmd *cobra.Command, args []string) error {
	tag, err := atem.ParseTag(args[0])
	if err != nil {
		return err
	}

	var body []byte
	if len(args) == 2 {
		body, err = parseHexBody(args[1])
		if err != nil {
			return fmt.Errorf("invalid body: %w", err)
		}
	}

	s, err := openSession(context.Background())
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.client.SendCommand(tag, body); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if err := waitAcked(s.client, sendWait); err != nil {
		return err
	}

	fmt.Printf("Sent %s (%d bytes body)\n", tag, len(body))
	return nil
}

func parseHexBody(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	return hex.DecodeString(s)
}

// waitAcked waits until every command sent so far has been acknowledged
func waitAcked(client *atem.Client, wait time.Duration) error {
	m := client.Metrics()
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if m.CommandsSent.Value() > 0 && m.PendingCommands.Value() == 0 {
			return nil
		}
		if m.CommandsFailed.Value() > 0 {
			return fmt.Errorf("command dropped before it was sent")
		}
		select {
		case <-client.Done():
			return fmt.Errorf("connection closed: %w", client.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
	return fmt.Errorf("no acknowledgment within %s", wait)
}
