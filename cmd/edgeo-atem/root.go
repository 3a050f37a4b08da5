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
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/atem/atem"
)

var (
	cfgFile      string
	host         string
	port         int
	timeout      time.Duration
	pollInterval time.Duration
	outputFmt    string
	verbose      bool
	localAddress string

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-atem",
	Short: "A command-line client for ATEM video switchers",
	Long: `edgeo-atem is a command-line tool for controlling ATEM video switchers
over their UDP control protocol.

It streams state-change events, prints device information, runs stored
macros, sends raw commands and bridges the switcher to MQTT, OSC and HTTP.

Examples:
  # Stream events from a switcher
  edgeo-atem watch -H 192.168.10.240

  # Show product, topology and inputs
  edgeo-atem info -H 192.168.10.240

  # Run macro 3
  edgeo-atem macro run 3 -H 192.168.10.240

  # Bridge events to an MQTT broker
  edgeo-atem bridge -H 192.168.10.240 --mqtt tcp://localhost:1883`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Setup logger
		logLevel := slog.LevelInfo
		if viper.GetBool("verbose") {
			logLevel = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))

		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeo-atem.yaml)")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "", "Switcher IP address")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", atem.DefaultPort, "Switcher UDP port")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 5*time.Second, "Handshake and initial state timeout")
	rootCmd.PersistentFlags().DurationVar(&pollInterval, "poll-interval", 20*time.Millisecond, "Connection loop interval")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&localAddress, "local", "", "Local address to bind to (e.g., 0.0.0.0:0)")

	// Bind flags to viper
	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("poll-interval", rootCmd.PersistentFlags().Lookup("poll-interval"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("local", rootCmd.PersistentFlags().Lookup("local"))

	// Add subcommands
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(macroCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".edgeo-atem")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ATEM")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// createClient creates an ATEM client with current configuration
func createClient() (*atem.Client, error) {
	target := viper.GetString("host")
	if target == "" {
		return nil, fmt.Errorf("switcher address is required (-H or --host)")
	}

	opts := []atem.Option{
		atem.WithRemoteAddress(net.JoinHostPort(target, strconv.Itoa(viper.GetInt("port")))),
		atem.WithPollInterval(viper.GetDuration("poll-interval")),
		atem.WithLogger(logger),
	}

	if local := viper.GetString("local"); local != "" {
		opts = append(opts, atem.WithLocalAddress(local))
	}

	return atem.NewClient(opts...)
}

// session is a connected client together with the state built from its events
type session struct {
	client *atem.Client
	state  *atem.DeviceState
}

// openSession connects and waits until the switcher finished sending its
// initial state or the timeout expires
func openSession(ctx context.Context) (*session, error) {
	client, err := createClient()
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	s := &session{client: client, state: atem.NewDeviceState()}

	waitCtx, cancel := context.WithTimeout(ctx, viper.GetDuration("timeout"))
	defer cancel()

	for {
		select {
		case ev := <-client.Events():
			s.state.Apply(ev)
			switch e := ev.(type) {
			case atem.InitialBurstComplete:
				return s, nil
			case atem.ConnectionLost:
				client.Close()
				return nil, fmt.Errorf("connection lost: %w", e.Err)
			}
		case <-waitCtx.Done():
			client.Close()
			if s.state.Snapshot().Connected {
				return nil, fmt.Errorf("initial state not received within %s", viper.GetDuration("timeout"))
			}
			return nil, fmt.Errorf("no response from %s within %s", viper.GetString("host"), viper.GetDuration("timeout"))
		}
	}
}

// drain applies pending events without blocking
func (s *session) drain() {
	for _, ev := range s.client.Update() {
		s.state.Apply(ev)
	}
}

func (s *session) Close() error {
	return s.client.Close()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("edgeo-atem version 1.0.0")
	},
}
