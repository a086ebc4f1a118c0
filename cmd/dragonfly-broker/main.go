// Command dragonfly-broker is the composition root for package broker: it
// loads a policy file, wires up logging/metrics/audit per flags, and runs
// the broker until an interrupt or SIGTERM (spec.md §1's "example CLIs are
// out of scope" excludes the reference chat-room examples, not a minimal
// runnable entrypoint for the library itself).
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LordBaryhobal/dragonfly/audit"
	"github.com/LordBaryhobal/dragonfly/authz"
	"github.com/LordBaryhobal/dragonfly/authzcache"
	"github.com/LordBaryhobal/dragonfly/broker"
	"github.com/LordBaryhobal/dragonfly/config"
	"github.com/LordBaryhobal/dragonfly/metrics"
	"github.com/LordBaryhobal/dragonfly/pkg/logger"
	"github.com/LordBaryhobal/dragonfly/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	addr := flag.String("addr", broker.DefaultAddress, "listen address")
	configPath := flag.String("config", "", "path to the policy config file (optional: no file means no users, require_auth=false)")
	metricsAddr := flag.String("metrics-addr", "", "address to serve /metrics on (empty disables metrics)")
	auditPath := flag.String("audit-path", "", "pebble database path for the audit trail (empty disables auditing)")
	redisCacheAddr := flag.String("authz-cache-redis", "", "Redis address for a shared authorization decision cache (empty uses an in-process cache)")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := logger.NewSlogLogger(level, os.Stderr)

	var cfg *config.Config
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath, log)
		if err != nil {
			log.Error("dragonfly-broker: failed to load config", "path", *configPath, "error", err)
			return 1
		}
	} else {
		cfg = &config.Config{}
	}

	policy, err := authz.New(cfg)
	if err != nil {
		log.Error("dragonfly-broker: failed to compile policy", "error", err)
		return 1
	}

	var cacheBackend store.Store[bool]
	if *redisCacheAddr != "" {
		backend, err := store.NewRedisStore[bool](store.RedisStoreConfig{
			Addr:   *redisCacheAddr,
			Prefix: "dragonfly:authz:",
		})
		if err != nil {
			log.Error("dragonfly-broker: failed to connect authz cache redis", "error", err)
			return 1
		}
		cacheBackend = backend
	} else {
		cacheBackend = store.NewMemoryStore[bool]()
	}
	cache := authzcache.New(policy, cacheBackend, log)

	m := metrics.New()

	var auditLog interface {
		Close() error
	}
	opts := broker.Options{
		Address:    *addr,
		Authorizer: cache,
		Logger:     log,
		Metrics:    m,
	}
	if *auditPath != "" {
		a, err := newAuditLog(*auditPath)
		if err != nil {
			log.Error("dragonfly-broker: failed to open audit log", "path", *auditPath, "error", err)
			return 1
		}
		opts.Audit = a
		auditLog = a
		defer auditLog.Close()
	}

	b := broker.New(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		log.Error("dragonfly-broker: failed to start", "error", err)
		return 1
	}

	var metricsSrv *http.Server
	if *metricsAddr != "" {
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: m.Handler()}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("dragonfly-broker: metrics server failed", "error", err)
			}
		}()
		log.Info("dragonfly-broker: metrics listening", "addr", *metricsAddr)
	}

	log.Info("dragonfly-broker: running", "addr", b.Addr())
	<-ctx.Done()
	log.Info("dragonfly-broker: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if err := b.Stop(shutdownCtx); err != nil {
		log.Error("dragonfly-broker: shutdown error", "error", err)
		return 1
	}
	return 0
}

func newAuditLog(path string) (audit.Log, error) {
	return audit.Open(path)
}
