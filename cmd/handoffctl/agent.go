package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"handoff/internal/agent"
	"handoff/internal/session"

	"github.com/spf13/cobra"
)

func agentCmd(opts *clientOptions) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Watch the hand-off queue and chat in accepted rooms",
		Long: `Opens an agent console against the broker. The broker must know the
token's hash via its agent directory, otherwise the connection is treated
as a visitor and the console refuses to start.

Commands inside the session:

  /queue            list pending hand-off requests
  /accept <roomId>  accept a request and join its room
  /quit             leave

Plain lines go to the currently active room.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd, opts, token)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Agent bearer token")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func runAgent(cmd *cobra.Command, opts *clientOptions, token string) error {
	log := newClientLogger(opts.logLevel)

	con := agent.New(log, session.Context{
		BrokerURL:  opts.brokerURL,
		AgentToken: token,
	})
	defer con.Close()

	if err := con.Connect(cmd.Context()); err != nil {
		return err
	}

	fmt.Println("connected, watching the hand-off queue")
	fmt.Println("/queue lists requests, /accept <roomId> joins, /quit leaves")

	printer := &transcriptPrinter{snapshot: con.Transcript}
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
		case line == "/queue":
			printQueue(con)
		case strings.HasPrefix(line, "/accept "):
			roomID := strings.TrimSpace(strings.TrimPrefix(line, "/accept "))
			if err := con.AcceptHandoff(roomID); err != nil {
				fmt.Fprintf(os.Stderr, "accept failed: %v\n", err)
				continue
			}
			fmt.Printf("joined room %s\n", roomID)
		case strings.HasPrefix(line, "/"):
			fmt.Fprintf(os.Stderr, "unknown command %q\n", line)
		default:
			if con.ActiveRoom() == "" {
				fmt.Fprintln(os.Stderr, "no active room; /accept one first")
				continue
			}
			con.SendToRoom(line)
		}
	}

	return sc.Err()
}

func printQueue(con *agent.Console) {
	pending := con.PendingQueue()
	if len(pending) == 0 {
		fmt.Println("queue empty")
		return
	}
	for _, q := range pending {
		fmt.Printf("  %s  %s\n", q.RoomID, q.UserName)
	}
}
