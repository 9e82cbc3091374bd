package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roeyazroel/issuedesk/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := cli.Execute(ctx, cli.Options{Version: VersionInfo()}, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
