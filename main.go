package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd.Execute(ctx)
}
