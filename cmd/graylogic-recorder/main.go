// Gray Logic Recorder - state history for Gray Logic Core
//
// The recorder subscribes to every entity state change published by core,
// stores each one durably in order, and answers point-in-time and range
// history queries.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/gray-logic-recorder/internal/cli"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Args[1:])
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}

// run executes the CLI with args, separated from main for testability.
func run(ctx context.Context, args []string) error {
	root := cli.NewRootCommand(fmt.Sprintf("%s (%s)", version, commit))
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
