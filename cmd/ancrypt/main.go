package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ancrypt/ancrypt/internal/cli"
	"github.com/ancrypt/ancrypt/internal/util"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(util.ExitError)
		}
	}()

	if err := cli.HardenProcess(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to disable core dumps: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Execute(ctx)
	stop()
	util.HandleError(err, "")
}
