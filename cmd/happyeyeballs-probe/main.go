// Command happyeyeballs-probe dials one or more destinations with the
// Happy Eyeballs dialer on a repeating schedule and serves the resulting
// Prometheus metrics over HTTP, for ad hoc connectivity diagnostics against
// a dual-stack target.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/PayRpc/happyeyeballs"
	"github.com/PayRpc/happyeyeballs/internal/metrics"
)

func main() {
	var (
		targets  = flag.String("targets", "", "comma-separated host:port destinations to probe")
		interval = flag.Duration("interval", 30*time.Second, "steady-state delay between probe rounds per target")
		timeout  = flag.Duration("timeout", 5*time.Second, "per-dial timeout")
		addr     = flag.String("addr", ":9090", "address to serve /metrics on")
		envFile  = flag.String("env", "", "optional .env file to load into the environment after flags are parsed")
	)
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "happyeyeballs-probe: loading %s: %v\n", *envFile, err)
			os.Exit(1)
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "happyeyeballs-probe: building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	hosts := splitTargets(*targets)
	if len(hosts) == 0 {
		logger.Fatal("no targets given; pass -targets host:port[,host:port...]")
	}

	collectors := metrics.Default()
	reg := prometheus.NewRegistry()
	collectors.MustRegister(reg)

	dialer := happyeyeballs.NewDialer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", zap.String("addr", *addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, host := range hosts {
		host := host
		g.Go(func() error {
			probeLoop(gctx, logger, dialer, host, *timeout, *interval)
			return nil
		})
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		logger.Info("shutting down")
	case <-gctx.Done():
	}

	cancel()
	_ = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", zap.Error(err))
	}
}

// probeLoop repeatedly dials target, spacing rounds by interval on success
// and backing off (via cenkalti/backoff) between retries after a failure,
// so a target that's down doesn't get hammered at the steady-state rate.
func probeLoop(ctx context.Context, logger *zap.Logger, dialer *happyeyeballs.Dialer, target string, timeout, interval time.Duration) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = interval
	bo.MaxElapsedTime = 0 // retry indefinitely; ctx cancellation is the only stop signal

	for {
		start := time.Now()
		conn, err := dialer.DialContext(ctx, target, timeout, "")
		if err != nil {
			wait := bo.NextBackOff()
			logger.Warn("probe failed", zap.String("target", target), zap.Error(err), zap.Duration("retry_in", wait))
			if !sleep(ctx, wait) {
				return
			}
			continue
		}
		conn.Close()
		bo.Reset()
		logger.Info("probe succeeded", zap.String("target", target), zap.Duration("elapsed", time.Since(start)))
		if !sleep(ctx, interval) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func splitTargets(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
