package main

// Reel is a local media-processing job server.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"reel/internal/api"
	"reel/internal/jobs"
	"reel/internal/processors"
	"reel/internal/registry"
	"reel/internal/store"
	"reel/internal/workers"
)

// Config holds runtime configuration for the reel server. Values can be
// provided via environment variables and/or flags. Flags take precedence
// over environment variables.
type Config struct {
	HTTPAddr     string        // REEL_HTTP_ADDR
	DataDir      string        // REEL_DATA_DIR
	BinDir       string        // REEL_BIN_DIR
	PoolSize     int           // REEL_POOL_SIZE (0 = auto)
	ReapInterval time.Duration // REEL_REAP_INTERVAL
	ReapMaxAge   time.Duration // REEL_REAP_MAX_AGE
	SSETimeout   time.Duration // REEL_SSE_TIMEOUT
	LogLevel     string        // REEL_LOG_LEVEL: info|debug
}

func defaultConfig() Config {
	return Config{
		HTTPAddr:     "127.0.0.1:8787",
		DataDir:      "./var/reel",
		BinDir:       "",
		PoolSize:     0,
		ReapInterval: 10 * time.Minute,
		ReapMaxAge:   time.Hour,
		SSETimeout:   60 * time.Second,
		LogLevel:     "info",
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// parseConfig builds the Config from env + flags. Flags override
// environment variables.
func parseConfig() Config {
	def := defaultConfig()

	// Seed from env
	cfg := Config{
		HTTPAddr:     getenv("REEL_HTTP_ADDR", def.HTTPAddr),
		DataDir:      getenv("REEL_DATA_DIR", def.DataDir),
		BinDir:       getenv("REEL_BIN_DIR", def.BinDir),
		PoolSize:     getenvInt("REEL_POOL_SIZE", def.PoolSize),
		ReapInterval: getenvDuration("REEL_REAP_INTERVAL", def.ReapInterval),
		ReapMaxAge:   getenvDuration("REEL_REAP_MAX_AGE", def.ReapMaxAge),
		SSETimeout:   getenvDuration("REEL_SSE_TIMEOUT", def.SSETimeout),
		LogLevel:     getenv("REEL_LOG_LEVEL", def.LogLevel),
	}

	// Flags (override env if provided)
	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address (env REEL_HTTP_ADDR)")
	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Root directory for uploads and results (env REEL_DATA_DIR)")
	flag.StringVar(&cfg.BinDir, "bin-dir", cfg.BinDir, "Directory searched for tool binaries before PATH (env REEL_BIN_DIR)")
	flag.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "Concurrent tool slots, 0 = auto (env REEL_POOL_SIZE)")
	flag.DurationVar(&cfg.ReapInterval, "reap-interval", cfg.ReapInterval, "How often expired jobs are swept (env REEL_REAP_INTERVAL)")
	flag.DurationVar(&cfg.ReapMaxAge, "reap-max-age", cfg.ReapMaxAge, "How long finished jobs stay available (env REEL_REAP_MAX_AGE)")
	flag.DurationVar(&cfg.SSETimeout, "sse-timeout", cfg.SSETimeout, "Progress stream idle timeout (env REEL_SSE_TIMEOUT)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: info|debug (env REEL_LOG_LEVEL)")

	flag.Parse()
	return cfg
}

func logConfig(cfg Config, poolSize int) {
	log.Printf("reel-server configuration:")
	log.Printf("  addr=%s", cfg.HTTPAddr)
	log.Printf("  data_dir=%s", cfg.DataDir)
	log.Printf("  bin_dir=%s", cfg.BinDir)
	log.Printf("  pool_size=%d", poolSize)
	log.Printf("  reap_interval=%s", cfg.ReapInterval)
	log.Printf("  reap_max_age=%s", cfg.ReapMaxAge)
	log.Printf("  sse_timeout=%s", cfg.SSETimeout)
	log.Printf("  log_level=%s", cfg.LogLevel)
}

func main() {
	log.SetFlags(log.LstdFlags | log.LUTC | log.Lmsgprefix)
	log.SetPrefix("[reel-server] ")

	cfg := parseConfig()
	if cfg.LogLevel == "debug" {
		log.SetFlags(log.Flags() | log.Lmicroseconds | log.Lshortfile)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = workers.DefaultSize()
	}
	logConfig(cfg, poolSize)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Printf("failed to create data dir %s: %v", cfg.DataDir, err)
		os.Exit(1)
	}

	tools := processors.NewTools(cfg.BinDir)
	log.Printf("external tools:")
	for _, tool := range processors.AllTools {
		log.Printf("  %s=%s", tool, tools.Resolve(tool))
	}

	manager := jobs.NewManager(log.Default())
	files := store.New(cfg.DataDir)
	runner := &processors.Runner{
		Pool:   workers.New(poolSize),
		Tools:  tools,
		Logger: log.Default(),
	}
	reg := registry.New()
	processors.RegisterAll(reg, runner)
	reaper := jobs.NewReaper(manager, files, jobs.ReaperConfig{
		Interval: cfg.ReapInterval,
		MaxAge:   cfg.ReapMaxAge,
	}, log.Default())

	// Background work (job tasks, reaper) stops with this context, not
	// with any request.
	taskCtx, taskCancel := context.WithCancel(context.Background())
	go reaper.Run(taskCtx)

	ap := api.New(manager, reg, files, reaper, log.Default())
	ap.StreamTimeout = cfg.SSETimeout
	ap.TaskContext = taskCtx

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           ap.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Progress streams stay open longer than any fixed write
		// timeout; stream handlers manage their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("received signal: %s, initiating graceful shutdown...", sig)
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	taskCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	} else {
		log.Printf("server stopped gracefully")
	}
}
