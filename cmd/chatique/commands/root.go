package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chatique/internal/app"
	"chatique/internal/domain"
)

var (
	home       string
	passphrase string
	relayURL   string
	userID     int64
	dhBits     int
	verbose    bool

	wire *app.Wire
)

func Execute() error {
	root := &cobra.Command{
		Use:   "chatique",
		Short: "End-to-end key agreement client for chatique",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			if userID <= 0 {
				return fmt.Errorf("--user-id required")
			}
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".chatique")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}

			logger := zap.NewNop()
			if verbose {
				var err error
				if logger, err = zap.NewDevelopment(); err != nil {
					return err
				}
			}

			var err error
			wire, err = app.NewWire(app.Config{
				Home:       home,
				RelayURL:   relayURL,
				UserID:     domain.UserID(userID),
				Passphrase: passphrase,
				DHBits:     dhBits,
				Logger:     logger,
			})
			if err != nil {
				return err
			}
			return wire.Session.Init()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.chatique)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting stored keys")
	root.PersistentFlags().StringVar(&relayURL, "relay", "http://127.0.0.1:8080", "relay base URL")
	root.PersistentFlags().Int64Var(&userID, "user-id", 0, "your relay user id")
	root.PersistentFlags().IntVar(&dhBits, "dh-bits", app.DefaultDHBits, "DH modulus size (use >= 2048 outside demos)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log protocol progress")

	root.AddCommand(listenCmd(), startChatCmd(), requestKeyCmd(), keyCmd(), versionCmd(), logoutCmd())
	return root.Execute()
}

// waitFlag is shared by the commands that stay online long enough for
// handshakes to complete.
func waitFlag(cmd *cobra.Command, wait *time.Duration, def time.Duration) {
	cmd.Flags().DurationVar(wait, "wait", def, "how long to stay online for handshake traffic")
}

func parseMembers(raw []int64) []domain.UserID {
	out := make([]domain.UserID, 0, len(raw))
	for _, id := range raw {
		out = append(out, domain.UserID(id))
	}
	return out
}
