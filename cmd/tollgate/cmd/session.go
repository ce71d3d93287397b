package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tollgate-labs/tollgate/internal/adapter/outbound/state"
	"github.com/tollgate-labs/tollgate/internal/domain/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Show the last session snapshot",
	Long: `Print the last session snapshot recorded in the state file, including
sessions of processes that already exited.

Requires store.session: file.`,
	RunE: runSession,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Session != "file" {
		return fmt.Errorf("store.session is %q; snapshots are only kept across runs with \"file\"", cfg.Store.Session)
	}
	logger := newLogger(cfg)
	store := state.NewFileStateStore(cfg.Store.StatePath, logger)
	return printLastSession(cmd, store, cfg.ClearNode.AssetDecimals)
}

func printLastSession(cmd *cobra.Command, store *state.FileStateStore, decimals int32) error {
	sess, err := store.Last(cmd.Context())
	if errors.Is(err, session.ErrSessionNotFound) {
		fmt.Fprintf(cmd.ErrOrStderr(), "no session recorded in %s\n", store.Path())
		return nil
	}
	if err != nil {
		return err
	}
	return writeSession(cmd.OutOrStdout(), sess, decimals)
}

func writeSession(out io.Writer, sess *session.Session, decimals int32) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*session.Session
		Balance string `json:"balance"`
	}{sess, sess.Balance(decimals).String()})
}
