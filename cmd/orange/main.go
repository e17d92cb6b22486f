// Command orange runs the object-proxy executor and its tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("orange.cli")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "orange",
		Short: "Run Go objects remotely behind proxies",
		Long: `orange hosts Go objects in an executor process and lets clients drive
them through proxies over HTTP, Connect, gRPC or NATS.

Usage examples:

	orange serve --port 9465
	orange serve --nats nats://127.0.0.1:4222
	orange fetch 6f1c2a9e-0d4b-4f7e-9a57-3c1b8e2d4f60
	orange gen strings --include Builder --out ./orange_strings
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newFetchCommand(), newGenCommand())
	return root
}
