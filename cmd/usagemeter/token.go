package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/artpar/usagemeter/adapters/hasher"
	"github.com/spf13/cobra"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Print the bcrypt hash of an admin token for admin.token_hash",
	Long: `Print the bcrypt hash of an admin token. The token is read from stdin
when not given as an argument.

Examples:
  usagemeter hash-token s3cret
  echo -n s3cret | usagemeter hash-token`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashToken,
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}

func runHashToken(cmd *cobra.Command, args []string) error {
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}

	hash, err := hasher.NewBcrypt(0).Hash(token)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), hash)
	return nil
}
