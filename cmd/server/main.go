package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"plaindex/pkg/api"
	"plaindex/pkg/config"
	"plaindex/pkg/core"
	"plaindex/pkg/network"
)

const shutdownTimeout = 5 * time.Second

// preload collects -build name=path flags.
type preload []core.BuildRequest

func (p *preload) String() string { return fmt.Sprint(len(*p)) }

func (p *preload) Set(v string) error {
	name, path, ok := strings.Cut(v, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("want name=dataset, got %q", v)
	}
	*p = append(*p, core.BuildRequest{Name: name, Dataset: path})
	return nil
}

func main() {
	configPath := flag.String("config", "", "config file (default: search configs/plaindex.yaml, plaindex.yaml)")
	var builds preload
	flag.Var(&builds, "build", "build an index at startup, as name=dataset (repeatable)")
	flag.Parse()

	if err := run(*configPath, builds); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, builds preload) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := core.NewEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer engine.Close()

	for _, req := range builds {
		info, err := engine.Build(ctx, req)
		if err != nil {
			return fmt.Errorf("build %s: %w", req.Name, err)
		}
		logger.Info("index ready", "index", info.Name, "keys", info.Keys, "segments", info.Segments)
	}

	httpSrv := api.NewServer(engine, cfg.Server, logger)
	tcpSrv := network.NewTCPServer(engine, logger).
		WithRateLimit(cfg.Server.RateLimitQPS, cfg.Server.RateLimitBurst)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Start(cfg.Server.Addr) })
	g.Go(func() error {
		if err := tcpSrv.Start(cfg.Server.TCPAddr); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		herr := httpSrv.Shutdown(sctx)
		terr := tcpSrv.Close()
		if errors.Is(terr, net.ErrClosed) {
			terr = nil
		}
		return errors.Join(herr, terr)
	})
	return g.Wait()
}
