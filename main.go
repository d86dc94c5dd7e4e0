package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/peterje/ptybridge/internal/config"
	"github.com/peterje/ptybridge/internal/logging"
	"github.com/peterje/ptybridge/internal/metrics"
	"github.com/peterje/ptybridge/internal/preflight"
	"github.com/peterje/ptybridge/internal/pty"
	"github.com/peterje/ptybridge/internal/repl"
	"github.com/peterje/ptybridge/internal/server"
	"github.com/peterje/ptybridge/internal/store"
	"github.com/peterje/ptybridge/internal/tunnel"
	"github.com/peterje/ptybridge/internal/ws"
)

func main() {
	// Subcommand dispatch: "ptybridge repl" is the child run inside the terminal.
	if len(os.Args) > 1 && os.Args[1] == config.SelfChildArg {
		if err := repl.Run(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "repl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	status := run(cfg, logger.Logger)
	logger.Sync()
	os.Exit(status)
}

func run(cfg *config.Config, log *zap.Logger) int {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	opts := pty.Options{
		Path:       cfg.Child.Path,
		Args:       cfg.Child.Args,
		Rows:       cfg.Child.Rows,
		Cols:       cfg.Child.Cols,
		ReadChunk:  cfg.Buffer.ReadChunk,
		MaxPending: cfg.Buffer.MaxPending,
		Logger:     log,
		Metrics:    m,
	}
	if cfg.Buffer.MaxPending == 0 {
		log.Info("pending output is unbounded until the UI initializes")
	}

	path, err := opts.ResolvePath()
	if err != nil {
		log.Error("resolve child executable", zap.Error(err))
		return 1
	}
	child := preflight.CheckChild(log, path)
	if !child.Found {
		log.Error("child executable not found", zap.String("path", path))
		return 1
	}

	journal := openJournal(cfg, log)
	if journal != nil {
		defer journal.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The child's exit ends the host.
	childExited := make(chan struct{})
	hub := ws.NewHub(log, m, func() { close(childExited) })

	sess, err := pty.Start(opts, hub)
	if err != nil {
		log.Error("create session", zap.Error(err))
		return 1
	}
	if journal != nil {
		command := strings.TrimSpace(path + " " + strings.Join(opts.Args, " "))
		if err := journal.RecordStart(ctx, sess.ID(), command, sess.PID(), time.Now()); err != nil {
			log.Warn("journal session start", zap.Error(err))
		}
	}

	var history server.Journal
	if journal != nil {
		history = journal
	}
	srv := server.New(log, sess, hub, child, history, reg)
	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}

	if cfg.Gateway.URL != "" {
		go tunnel.NewClient(cfg.Gateway.URL, cfg.Gateway.Secret, cfg.Server.Addr, log).Run(ctx)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	status := 0
	select {
	case <-childExited:
		select {
		case <-sess.Exited():
		case <-time.After(2 * time.Second):
		}
		recordExit(journal, sess, log)
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case err := <-serveErr:
		log.Error("server failed", zap.Error(err))
		status = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", zap.Error(err))
	}
	log.Info("host stopped")
	return status
}

func openJournal(cfg *config.Config, log *zap.Logger) *store.Store {
	if !cfg.StoreEnabled() {
		return nil
	}
	journal, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Warn("session journal unavailable", zap.String("path", cfg.Store.Path), zap.Error(err))
		return nil
	}
	n, err := journal.MarkStale(context.Background(), time.Now())
	if err != nil {
		log.Warn("reconcile session journal", zap.Error(err))
	} else if n > 0 {
		log.Info("marked stale sessions stopped", zap.Int64("count", n))
	}
	return journal
}

func recordExit(journal *store.Store, sess *pty.Session, log *zap.Logger) {
	if journal == nil {
		return
	}
	var exitCode *int
	if code, ok := sess.ExitCode(); ok {
		exitCode = &code
	}
	if err := journal.RecordExit(context.Background(), sess.ID(), exitCode, time.Now()); err != nil {
		log.Warn("journal session exit", zap.Error(err))
	}
}
