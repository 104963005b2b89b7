package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/candrapwr/meet-datasiber/internal/config"
	"github.com/candrapwr/meet-datasiber/internal/logging"
	"github.com/candrapwr/meet-datasiber/internal/metrics"
	"github.com/candrapwr/meet-datasiber/internal/server"
	"github.com/candrapwr/meet-datasiber/internal/signaling"
	"github.com/candrapwr/meet-datasiber/internal/version"
)

func main() {
	cfg, err := config.LoadServer(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger, err := logging.New(os.Stdout, level, cfg.LogFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger.Info("starting meet signaling server",
		"version", version.Version,
		"listen_addr", cfg.ListenAddr,
		"allowed_origins", cfg.AllowedOrigins,
		"hostless_policy", cfg.HostlessPolicy,
		"max_message_bytes", cfg.MaxMessageBytes,
		"send_buffer", cfg.SendBuffer,
		"config_file", cfg.ConfigFile,
	)

	m := metrics.New()
	hub := signaling.NewHub(signaling.Config{
		Policy:          cfg.HostlessPolicy,
		MaxMessageBytes: cfg.MaxMessageBytes,
		SendBuffer:      cfg.SendBuffer,
		Logger:          logger,
		Metrics:         m,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	srv := server.New(cfg, hub, m, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		stopHub()
		<-hubDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	// Closing every session's send queue makes each write pump send a close frame.
	stopHub()
	select {
	case <-hubDone:
	case <-shutdownCtx.Done():
		logger.Warn("hub did not stop before the shutdown timeout")
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}
