package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tarcisiodg/musterctl/internal/localstate"
	"github.com/tarcisiodg/musterctl/internal/logging"
	"github.com/tarcisiodg/musterctl/internal/scanner"
	"github.com/tarcisiodg/musterctl/internal/service"
	"github.com/tarcisiodg/musterctl/internal/store/sqlitestore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "musterctl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "musterctl.toml", "path to the device config")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, err := loadRuntimeConfig(*configPath)
	if err != nil {
		return err
	}

	st, err := sqlitestore.Open(cfg.StorePath, 0)
	if err != nil {
		return err
	}
	defer st.Close()

	local, err := localstate.Open(cfg.LocalStatePath)
	if err != nil {
		return err
	}
	defer local.Close()

	src := scanner.NewReaderSource(os.Stdin)
	defer src.Close()

	svc, err := service.New(cfg.Service, st,
		service.WithLocalState(local),
		service.WithScanner(src),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return svc.Run(ctx)
}
