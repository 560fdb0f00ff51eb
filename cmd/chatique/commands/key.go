package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatique/internal/crypto"
	"chatique/internal/domain"
)

// key <channel>: print a stored key without going online.
func keyCmd() *cobra.Command {
	var version int64
	cmd := &cobra.Command{
		Use:   "key <channel>",
		Short: "Print a channel's symmetric key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := domain.ChannelID(args[0])

			var (
				key domain.SymmetricKey
				ok  bool
			)
			if cmd.Flags().Changed("version") {
				key, ok = wire.Session.RemoteKeyAt(channel, domain.KeyVersion(version))
			} else {
				key, ok = wire.Session.RemoteKey(channel)
			}
			if !ok {
				fmt.Printf("channel %s: no key\n", channel)
				return nil
			}
			fmt.Printf("%s\n", crypto.B64(key.Material))
			return nil
		},
	}
	cmd.Flags().Int64Var(&version, "version", 0, "explicit key version (default: current)")
	return cmd
}

// version <channel>: print the current key version.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version <channel>",
		Short: "Print a channel's current key version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := domain.ChannelID(args[0])
			fmt.Printf("%d\n", wire.Session.KeyVersion(channel))
			return nil
		},
	}
}
