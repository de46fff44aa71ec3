package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/shelf-crawler/cmd/crawler/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	commands.ExecuteContext(ctx)
}
