package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sushant-115/blinkdb/api/lineproto"
	"github.com/sushant-115/blinkdb/config"
	"github.com/sushant-115/blinkdb/config/certs"
	"github.com/sushant-115/blinkdb/core/indexing/blink"
	internaltelemetry "github.com/sushant-115/blinkdb/internal/telemetry"
	"github.com/sushant-115/blinkdb/pkg/logger"
	"github.com/sushant-115/blinkdb/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	listenAddr := flag.String("listen", "", "override server.listen_addr")
	genCerts := flag.String("gen-certs", "", "write a CA plus server and client certificates into this directory and exit")
	certHost := flag.String("cert-host", "localhost", "server certificate host name for -gen-certs")
	flag.Parse()

	if *genCerts != "" {
		if err := certs.Generate(*genCerts, *certHost, 365*24*time.Hour); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		log.Printf("certificates written to %s", *genCerts)
		return
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	zlog, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("FATAL: Logger initialization failed: %v", err)
	}
	defer zlog.Sync()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, zlog *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zlog.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	treeMetrics, err := internaltelemetry.NewTreeMetrics(tel.Meter)
	if err != nil {
		return err
	}
	tree, err := blink.NewOrdered[string, string](cfg.Tree.MinOrder,
		blink.WithLogger(logger.Named(zlog, cfg.Logger, "blink")),
		blink.WithObserver(treeMetrics),
		blink.WithLatchTimeout(cfg.Tree.LatchTimeout),
	)
	if err != nil {
		return err
	}
	treeMetrics.RecordHeight(tree.Height())

	server := lineproto.NewServer(tree, cfg.Server,
		lineproto.WithLogger(logger.Named(zlog, cfg.Logger, "lineproto")),
		lineproto.WithTracer(tel.Tracer),
		lineproto.WithMeter(tel.Meter),
	)

	ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
	if err != nil {
		return err
	}
	if tlsCfg := cfg.Server.TLS; tlsCfg.Enabled() {
		serverTLS, err := certs.LoadServerTLSConfig(tlsCfg.ClientCAFile, tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			ln.Close()
			return err
		}
		ln = tls.NewListener(ln, serverTLS)
	}
	zlog.Info("blinkdb server starting",
		zap.String("addr", ln.Addr().String()),
		zap.Int("min_order", cfg.Tree.MinOrder),
		zap.Bool("tls", cfg.Server.TLS.Enabled()),
		zap.Bool("mtls", cfg.Server.TLS.ClientCAFile != ""),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))

	err = server.Serve(ctx, ln)
	zlog.Info("blinkdb server stopped", zap.Int("keys", tree.Len()), zap.Int("height", tree.Height()))
	return err
}
