package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chatique/internal/domain"
)

// request-key <channel>: ask other group members for the shared key, one
// candidate at a time.
func requestKeyCmd() *cobra.Command {
	var (
		members []int64
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "request-key <channel>",
		Short: "Request the group key from other members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := domain.ChannelID(args[0])
			if len(members) == 0 {
				return fmt.Errorf("--members required")
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := wire.Session.Start(ctx); err != nil {
				return err
			}
			defer wire.Session.Shutdown()

			wire.Session.RequestKeySharing(channel, parseMembers(members))

			deadline := time.After(wait)
			for {
				select {
				case <-deadline:
					fmt.Printf("channel %s: no key obtained\n", channel)
					return nil
				case ch := <-wire.Session.Available():
					if ch != channel {
						continue
					}
					if _, ok := wire.Session.RemoteKeyAt(channel, domain.GroupKeyVersion); ok {
						fmt.Printf("channel %s: group key installed\n", channel)
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().Int64SliceVar(&members, "members", nil, "other member ids to ask")
	waitFlag(cmd, &wait, 15*time.Second)
	return cmd
}
