package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"

	"github.com/synthlabs/synth-ledger/auditor"
	"github.com/synthlabs/synth-ledger/common/logging"
)

func main() {
	name := "synth-ledger-auditor"
	// Initialize logger.
	logging.Initialize(name)
	defer logging.Finalize()
	logger := logging.NewLoggerTag(name)

	// postgres://synth@localhost:5432/synth?sslmode=disable
	args := new(auditor.Config)
	arg.MustParse(args)
	logger.Info("using config %+v", args)

	a, err := auditor.NewAuditor(args, logger)
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancelFunc := context.WithCancel(context.Background())
	go func() {
		a.Run(ctx)
	}()
	wait(cancelFunc)
}

func wait(stop context.CancelFunc) {
	var exitSignal = make(chan os.Signal, 1)
	signal.Notify(exitSignal, syscall.SIGTERM)
	signal.Notify(exitSignal, syscall.SIGINT)
	<-exitSignal
	stop()
}
