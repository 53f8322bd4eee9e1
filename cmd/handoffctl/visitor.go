package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"handoff/internal/session"
	"handoff/internal/visitor"

	"github.com/spf13/cobra"
)

func visitorCmd(opts *clientOptions) *cobra.Command {
	var (
		name  string
		token string
	)

	cmd := &cobra.Command{
		Use:   "visitor",
		Short: "Chat as a visitor and request a human hand-off",
		Long: `Opens a visitor chat session against the broker. Messages you type are
answered by the support bot until an agent joins.

Commands inside the session:

  /handoff   ask for a human agent
  /quit      leave`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVisitor(cmd, opts, name, token)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Display name announced with the hand-off request")
	cmd.Flags().StringVar(&token, "token", "", "Optional bearer token attached to the connection")

	return cmd
}

func runVisitor(cmd *cobra.Command, opts *clientOptions, name, token string) error {
	log := newClientLogger(opts.logLevel)

	ctl := visitor.New(log, session.Context{
		BrokerURL:    opts.brokerURL,
		UserName:     name,
		VisitorToken: token,
	})
	defer ctl.Close()

	if err := ctl.Connect(cmd.Context()); err != nil {
		return err
	}

	fmt.Printf("connected, room %s\n", ctl.RoomID())
	fmt.Println("type to chat, /handoff for a human agent, /quit to leave")

	printer := &transcriptPrinter{snapshot: ctl.Transcript}
	stop := make(chan struct{})
	defer close(stop)
	go printer.tail(stop)

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/handoff":
			ctl.RequestHandoff()
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(os.Stderr, "unknown command %q\n", line)
		default:
			ctl.SendText(line)
		}
	}

	return sc.Err()
}
