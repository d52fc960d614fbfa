package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/iaforte/cloud-transcript/cmd/cloudtranscript/commands"
	"github.com/iaforte/cloud-transcript/pkg/logging"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRoot(version).ExecuteContext(ctx); err != nil {
		logging.NewLogger(ctx).Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}
