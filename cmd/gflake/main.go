// gflake generates and inspects Snowflake ids from the command line.
//
// Usage:
//
//	gflake [global options] <command> [command options]
//
// Commands:
//
//	next      generate ids
//	decode    split ids into their fields
//	layout    print the bit layout and its limits
//
// The generator is configured from --config (YAML or JSON), then the
// GFLAKE_DATA_CENTER and GFLAKE_WORKER environment variables, then the
// --data-center and --worker flags. With --zk-servers or --mysql-dsn the node
// ids are read from the registry instead.
//
// Exit codes:
//
//	0: success
//	1: generation or registry failure
//	2: invalid arguments or configuration
//
// Examples:
//
//	gflake next -n 5
//	gflake -c gflake.yaml next -n 100000 --workers 8 --format base36
//	gflake --zk-servers zk1:2181 --service orders next
//	gflake decode 1288834974657
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

// Version is set with -ldflags "-X main.Version=..."
var Version = "0.1.0-dev"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func createApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "gflake",
		Usage:     "generate and inspect Snowflake ids",
		Version:   Version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     globalFlags(),
		Commands: []*cli.Command{
			createNextCommand(),
			createDecodeCommand(),
			createLayoutCommand(),
		},
		ExitErrHandler: func(_ context.Context, cmd *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(cmd.Root().ErrWriter, err)
			}
		},
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := createApp(stdout, stderr).Run(ctx, args); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "invalid arguments: %v\n", usageErr)
			return 2
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
