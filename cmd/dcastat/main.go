package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mtlprog/dcastat/internal/api"
	"github.com/mtlprog/dcastat/internal/config"
	"github.com/mtlprog/dcastat/internal/dashboard"
	"github.com/mtlprog/dcastat/internal/export"
	"github.com/mtlprog/dcastat/internal/metrics"
	"github.com/mtlprog/dcastat/internal/price"
	"github.com/mtlprog/dcastat/internal/ratelimit"
	"github.com/mtlprog/dcastat/internal/solana"
	"github.com/mtlprog/dcastat/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "dcastat",
		Usage: "DCA order book statistics for tracked Solana tokens",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "load environment variables from `FILE` when it exists"},
		},
		Before: func(c *cli.Context) error {
			return config.LoadDotEnv(c.String("env-file"))
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "poll continuously and serve the HTTP API",
				Action: serve,
			},
			{
				Name:   "snapshot",
				Usage:  "build one snapshot and print it as JSON",
				Action: printSnapshot,
			},
			{
				Name:  "export",
				Usage: "build one snapshot and write it as an xlsx workbook",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "dcastat.xlsx", Usage: "output `FILE`"},
				},
				Action: exportSnapshot,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("dcastat: %v", err)
	}
}

// pipeline is the wired snapshot pipeline shared by all commands.
type pipeline struct {
	cfg      config.Config
	builder  *dashboard.Builder
	store    *dashboard.Store
	recorder *metrics.Recorder
	poller   *worker.Poller
}

func newPipeline(cfg config.Config) (*pipeline, error) {
	registry := cfg.Registry()
	if len(registry.Tokens()) == 0 {
		return nil, fmt.Errorf("no tracked tokens configured (TRACKED_TOKENS)")
	}

	rpc := solana.NewClient(cfg.SolanaRPCURL, cfg.RPCTimeout, cfg.RPCRetryMax, cfg.RPCRetryBaseDelay,
		ratelimit.New(cfg.RPCRateLimit, 1))
	accounts := solana.NewAccountSource(rpc, cfg.DCAProgramID)
	lookup := solana.NewTransactionLookup(rpc)

	priceClient := price.NewClient(cfg.PriceAPIURL, registry.Quote().Mint, cfg.RPCTimeout,
		cfg.PriceRetryDelay, cfg.PriceRetryMax, ratelimit.New(cfg.PriceRateLimit, 1))
	priceSvc := price.NewService(priceClient, cfg.PriceCacheTTL)

	builder, err := dashboard.NewBuilder(accounts, priceSvc, lookup, registry, dashboard.Config{
		LookupWorkers: cfg.LookupWorkers,
		LookupTimeout: cfg.LookupTimeout,
	})
	if err != nil {
		return nil, err
	}

	store := dashboard.NewStore(cfg.HistoryLimit)
	recorder := metrics.NewRecorder()
	poller := worker.NewPoller(builder, store, recorder, worker.RealClock(), worker.Config{
		Interval:     cfg.PollInterval,
		RetryDelay:   cfg.RetryDelay,
		RetryMax:     cfg.RetryMax,
		FetchTimeout: cfg.FetchTimeout,
	})

	return &pipeline{cfg: cfg, builder: builder, store: store, recorder: recorder, poller: poller}, nil
}

func serve(c *cli.Context) error {
	ctx := c.Context
	p, err := newPipeline(config.Load())
	if err != nil {
		return err
	}
	defer p.builder.Close()

	go p.poller.Run(ctx)

	if p.cfg.AdminAPIKey == "" {
		slog.Warn("ADMIN_API_KEY not set, refresh endpoint is unprotected")
	}

	srv := api.NewServer(p.cfg.HTTPPort, api.NewHandler(p.store, p.poller), p.recorder.Handler(), p.cfg.AdminAPIKey)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on :%s", p.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("HTTP server: %w", err)
	}
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}

// pollOnce runs a single poll with retries and returns the published snapshot.
func pollOnce(c *cli.Context) (*pipeline, error) {
	p, err := newPipeline(config.Load())
	if err != nil {
		return nil, err
	}
	if err := p.poller.Poll(c.Context); err != nil {
		p.builder.Close()
		return nil, err
	}
	return p, nil
}

func printSnapshot(c *cli.Context) error {
	p, err := pollOnce(c)
	if err != nil {
		return err
	}
	defer p.builder.Close()

	snap, _ := p.store.Latest()
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func exportSnapshot(c *cli.Context) error {
	p, err := pollOnce(c)
	if err != nil {
		return err
	}
	defer p.builder.Close()

	out := c.String("out")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating %s: %w", out, err)
	}

	snap, _ := p.store.Latest()
	if err := export.WriteXLSX(f, snap); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", out, err)
	}

	slog.Info("export written", "file", out, "positions", len(snap.Positions), "tokens", len(snap.Summary))
	return nil
}
