package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/daybook-app/daybook/pkg/daybook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := daybook.Main(ctx, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}
