package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	perrors "github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VeltarosLabs/powledger/internal/api"
	"github.com/VeltarosLabs/powledger/internal/blockchain"
	"github.com/VeltarosLabs/powledger/internal/config"
	"github.com/VeltarosLabs/powledger/internal/consensus"
	vcrypto "github.com/VeltarosLabs/powledger/internal/crypto"
	"github.com/VeltarosLabs/powledger/internal/ledger"
	"github.com/VeltarosLabs/powledger/internal/logging"
	"github.com/VeltarosLabs/powledger/pkg/version"
)

const shutdownTimeout = 8 * time.Second

func main() {
	app := &cli.App{
		Name:    "powledger-node",
		Usage:   "Run a proof-of-work ledger node with an HTTP API",
		Version: version.Get().String(),
		Flags:   config.NodeFlags(),
		Action:  run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return perrors.Wrap(err, "load configuration")
	}

	log, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return perrors.Wrap(err, "initialize logger")
	}
	defer func() { _ = logging.Sync(log) }()

	alg, err := vcrypto.ParseAlgorithm(cfg.Chain.HashAlgorithm)
	if err != nil {
		return err
	}
	hasher := blockchain.NewHasher(alg)
	chain := blockchain.New(blockchain.NewValidator(hasher, cfg.Chain.Difficulty, log.Named("validator")))
	engine := consensus.NewPoW(hasher, cfg.Chain.Difficulty, log.Named("miner"))
	svc := ledger.New(chain, engine, log.Named("ledger"), ledger.WithQueueSize(cfg.Chain.QueueSize))

	srv := api.NewServer(svc, log.Named("api"), api.Options{
		MineTimeout:    cfg.Chain.MineTimeout,
		MaxBodyBytes:   cfg.API.MaxBodyBytes,
		APIKey:         cfg.API.APIKey,
		AllowedOrigins: cfg.API.AllowedOrigins,
		MineRate:       cfg.API.MineRate,
		MineBurst:      cfg.API.MineBurst,
	})

	httpSrv := &http.Server{
		Addr:              cfg.API.ListenAddr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       cfg.API.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svc.Run(gctx)
	})

	g.Go(func() error {
		log.Info("api listening",
			zap.String("addr", httpSrv.Addr),
			zap.Int("difficulty", cfg.Chain.Difficulty),
			zap.String("hash", alg.String()),
			zap.String("version", version.Version),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return perrors.Wrap(err, "api server")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("node stopped with error", zap.Error(err))
		return err
	}
	log.Info("shutdown complete", zap.Uint64("height", chain.Height()), zap.Int("length", chain.Len()))
	return nil
}
