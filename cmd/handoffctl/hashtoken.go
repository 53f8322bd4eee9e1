package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"handoff/internal/auth"

	"github.com/spf13/cobra"
)

func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token",
		Short: "Hash an agent token for the broker's agent directory",
		Long: `Reads a token from stdin and prints its Argon2id hash. Put the hash in
the agents file the broker loads via HANDOFF_AGENTS_FILE:

  agents:
    - name: dana
      token_hash: $argon2id$...`,
		RunE: func(_ *cobra.Command, _ []string) error {
			sc := bufio.NewScanner(os.Stdin)
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return err
				}
				return fmt.Errorf("no token on stdin")
			}

			token := strings.TrimSpace(sc.Text())
			if token == "" {
				return fmt.Errorf("empty token")
			}

			hash, err := auth.HashToken(token, auth.DefaultParams())
			if err != nil {
				return err
			}

			fmt.Println(hash)
			return nil
		},
	}
}
