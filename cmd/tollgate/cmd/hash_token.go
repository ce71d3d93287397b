package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alexedwards/argon2id"
	"github.com/spf13/cobra"
)

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [api-token]",
	Short: "Generate an argon2id hash for the HTTP API token",
	Long: `Generate an argon2id hash of an API bearer token for use in config.

The output can be used directly as server.api_token_hash, so the
token itself never has to be written to the config file.

Example:
  tollgate hash-token "my-secret-token"
  # Output: $argon2id$v=19$m=65536,t=1,p=...

Security note: the token will appear in shell history. Pipe it on
stdin instead:
  printf '%s' "$TOLLGATE_TOKEN" | tollgate hash-token`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := readToken(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		hash, err := hashToken(token, argon2id.DefaultParams)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}

// readToken takes the token from args, or the first line of in.
func readToken(in io.Reader, args []string) (string, error) {
	var token string
	if len(args) == 1 {
		token = args[0]
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read token: %w", err)
		}
		token = strings.TrimRight(line, "\r\n")
	}
	if token == "" {
		return "", errors.New("empty token")
	}
	return token, nil
}

func hashToken(token string, params *argon2id.Params) (string, error) {
	hash, err := argon2id.CreateHash(token, params)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return hash, nil
}
