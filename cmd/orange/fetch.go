package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/transport"
)

func newFetchCommand() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "fetch <id>",
		Short: "Print the value behind a reference as JSON",
		Long: `Fetch the value of a reference from a running server and print it as
JSON. The server address comes from --server or ORANGE_SERVER.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := contextWithTimeout(cmd, timeout)
			defer cancel()

			t := transport.NewHTTP(addr)
			defer t.Close()

			data, err := t.Fetch(ctx, command.Reference(args[0]))
			if err != nil {
				return err
			}
			v, err := codec.UnmarshalValue(data)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Errorf("value of %s is not representable as JSON: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "server", "", "server address as host[:port]")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the value")
	return cmd
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}
