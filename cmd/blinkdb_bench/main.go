package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sushant-115/blinkdb/config"
	"github.com/sushant-115/blinkdb/core/indexing/blink"
	"github.com/sushant-115/blinkdb/pkg/connection"
	"github.com/sushant-115/blinkdb/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	target := flag.String("target", "", "override bench.target (\"inproc\" or host:port)")
	ops := flag.Int("ops", 0, "override bench.operations")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
	}
	if *target != "" {
		cfg.Bench.Target = *target
	}
	if *ops > 0 {
		cfg.Bench.Operations = *ops
	}

	zlog, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("FATAL: Logger initialization failed: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store Store
	if cfg.Bench.Target == inprocTarget {
		tree, err := blink.NewOrdered[string, string](cfg.Tree.MinOrder,
			blink.WithLogger(logger.Named(zlog, cfg.Logger, "blink")),
			blink.WithLatchTimeout(cfg.Tree.LatchTimeout))
		if err != nil {
			zlog.Fatal("tree initialization failed", zap.Error(err))
		}
		store = &treeStore{tree: tree}
	} else {
		pool := connection.NewConnectionPoolManager(cfg.Bench.PoolSize, 5*time.Second)
		defer pool.Close()
		store = &remoteStore{pool: pool, addr: cfg.Bench.Target}
	}

	rep, err := Run(ctx, cfg.Bench, store, logger.Named(zlog, cfg.Logger, "bench"))
	if err != nil {
		zlog.Fatal("benchmark failed", zap.Error(err))
	}
	rep.log(zlog)
}
