package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// listen: run the session until interrupted, answering handshakes and
// printing channels as their keys become available.
func listenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Stay online and answer key-agreement traffic",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := wire.Session.Start(ctx); err != nil {
				return err
			}
			defer wire.Session.Shutdown()

			fmt.Println("listening; ctrl-c to stop")
			for {
				select {
				case <-ctx.Done():
					return nil
				case ch := <-wire.Session.Available():
					fmt.Printf("key available for channel %s (version %d)\n", ch, wire.Session.KeyVersion(ch))
				}
			}
		},
	}
}
