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
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/atem/atem"
)

var (
	scanTimeout     time.Duration
	scanConcurrency int
)

var scanCmd = &cobra.Command{
	Use:   "scan <cidr>",
	Short: "Probe a subnet for ATEM switchers",
	Long: `Scan sends a Hello to every address of a subnet and reports the hosts
that complete the handshake, with their product name when it arrives in time.

Examples:
  # Probe a /24
  edgeo-atem scan 192.168.10.0/24

  # Probe with a longer per-host timeout
  edgeo-atem scan 10.0.0.0/28 --scan-timeout 3s`,

	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", time.Second, "Per-host handshake timeout")
	scanCmd.Flags().IntVar(&scanConcurrency, "concurrency", 32, "Hosts probed in parallel")
}

// scanResult describes a host that answered the handshake
type scanResult struct {
	Address string               `json:"address"`
	Product string               `json:"product,omitempty"`
	Version atem.ProtocolVersion `json:"version"`
	Latency time.Duration        `json:"latency"`
}

func runScan(cmd *cobra.Command, args []string) error {
	prefix, err := netip.ParsePrefix(args[0])
	if err != nil {
		return fmt.Errorf("invalid subnet: %w", err)
	}
	prefix = prefix.Masked()
	if !prefix.Addr().Is4() || prefix.Bits() < 16 {
		return fmt.Errorf("subnet must be IPv4 and /16 or smaller")
	}

	out := NewFormatter(viper.GetString("output"))
	if !out.IsJSON() {
		fmt.Printf("Probing %s...\n", prefix)
	}

	var (
		mu      sync.Mutex
		results []scanResult
		wg      sync.WaitGroup
	)
	sem := make(chan struct{}, max(scanConcurrency, 1))

	for addr := prefix.Addr(); prefix.Contains(addr); addr = addr.Next() {
		wg.Add(1)
		sem <- struct{}{}
		go func(addr netip.Addr) {
			defer wg.Done()
			defer func() { <-sem }()

			if res, ok := probe(addr.String()); ok {
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}(addr)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		a, _ := netip.ParseAddr(results[i].Address)
		b, _ := netip.ParseAddr(results[j].Address)
		return a.Less(b)
	})

	if out.IsJSON() {
		return out.PrintJSON(results)
	}

	if len(results) == 0 {
		fmt.Println("No switchers found")
		return nil
	}

	fmt.Printf("\nFound %d switcher(s):\n\n", len(results))
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{
			r.Address,
			r.Product,
			fmt.Sprintf("%d.%d", r.Version.Major, r.Version.Minor),
			r.Latency.Round(time.Microsecond).String(),
		})
	}
	out.PrintTable([]string{"ADDRESS", "PRODUCT", "PROTOCOL", "LATENCY"}, rows)
	return nil
}

// probe runs a handshake against host and collects identification events
func probe(host string) (scanResult, bool) {
	probeLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if viper.GetBool("verbose") {
		probeLogger = logger
	}

	client, err := atem.NewClient(
		atem.WithRemoteAddress(net.JoinHostPort(host, fmt.Sprint(viper.GetInt("port")))),
		atem.WithPollInterval(5*time.Millisecond),
		atem.WithLogger(probeLogger),
	)
	if err != nil {
		return scanResult{}, false
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return scanResult{}, false
	}

	res := scanResult{Address: host}
	answered := false
	for {
		select {
		case ev := <-client.Events():
			switch e := ev.(type) {
			case atem.Connected:
				answered = true
				if stats := client.Metrics().HandshakeLatency.Stats(); stats.Count > 0 {
					res.Latency = stats.Max
				}
			case atem.ProtocolVersion:
				res.Version = e
			case atem.ProductID:
				res.Product = e.Name
				return res, true
			case atem.InitialBurstComplete, atem.ConnectionLost:
				return res, answered
			}
		case <-ctx.Done():
			return res, answered
		}
	}
}
