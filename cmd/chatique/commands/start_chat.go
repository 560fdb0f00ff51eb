package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chatique/internal/crypto"
	"chatique/internal/domain"
)

// start-chat <channel>: run the initiator flow for a new chat. More than
// one member makes it a group and starts the admin fan-out.
func startChatCmd() *cobra.Command {
	var (
		members []int64
		online  []int64
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "start-chat <channel>",
		Short: "Begin key agreement for a new 1:1 or group chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channel := domain.ChannelID(args[0])
			if len(members) == 0 {
				return fmt.Errorf("--members required")
			}
			if len(online) == 0 {
				online = members
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if err := wire.Session.Start(ctx); err != nil {
				return err
			}
			defer wire.Session.Shutdown()

			wire.Session.StartClientFlow(ctx, channel, parseMembers(online), parseMembers(members))

			// Stay online long enough for responses to arrive.
			time.Sleep(wait)

			if key, ok := wire.Session.RemoteKey(channel); ok {
				fmt.Printf("channel %s: key established, version %d, key %s\n",
					channel, wire.Session.KeyVersion(channel), crypto.B64(key.Material))
				return nil
			}
			fmt.Printf("channel %s: no key yet; peers may still be offline\n", channel)
			return nil
		},
	}
	cmd.Flags().Int64SliceVar(&members, "members", nil, "all target member ids")
	cmd.Flags().Int64SliceVar(&online, "online", nil, "member ids currently online (default: all members)")
	waitFlag(cmd, &wait, 6*time.Second)
	return cmd
}
