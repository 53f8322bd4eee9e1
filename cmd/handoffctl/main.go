// Package main provides the handoffctl binary: a terminal client for the
// hand-off broker, usable both as the visitor widget and the agent console.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const appName = "handoffctl"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts clientOptions

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Terminal client for the support hand-off broker",
		Long: `handoffctl talks to a running handoffd broker over WebSocket
(with an automatic long-poll fallback).

Two interactive modes exist:

  visitor  chat with the bot and request a human hand-off
  agent    watch the hand-off queue, accept requests, chat in rooms`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.brokerURL, "broker", "ws://localhost:8080", "Broker base URL")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(visitorCmd(&opts))
	cmd.AddCommand(agentCmd(&opts))
	cmd.AddCommand(hashTokenCmd())

	return cmd
}

type clientOptions struct {
	brokerURL string
	logLevel  string
}
