// Command wsrelayd runs a standalone WebSocket relay server: it accepts RFC
// 6455 connections, echoes every message back to its sender, and on
// SIGTERM/SIGINT closes every session with 1001 (going away) before the HTTP
// server shuts down.
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

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli/v3"

	"github.com/coregx/wsrelay/handshake"
	"github.com/coregx/wsrelay/manager"
	"github.com/coregx/wsrelay/message"
	"github.com/coregx/wsrelay/session"
	"github.com/coregx/wsrelay/wsconfig"

	"github.com/rs/zerolog"
)

func main() {
	cmd := &cli.Command{
		Name:   "wsrelayd",
		Usage:  "WebSocket relay server",
		Flags:  flags(),
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wsrelayd: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	fs := []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "path to a TOML configuration file",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn, or error",
			Value: "info",
		},
		&cli.BoolFlag{
			Name:  "pretty-log",
			Usage: "human-readable console logging, instead of JSON",
		},
	}

	// The config flag must be parsed ahead of the rest to locate the TOML
	// file the other flags may source values from; reading os.Args directly
	// here mirrors how a sourcer has to run before flag parsing completes.
	path := configFileArg()
	return append(fs, wsconfig.Flags(altsrc.StringSourcer(path))...)
}

func configFileArg() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
	}
	return ""
}

func run(ctx context.Context, cmd *cli.Command) error {
	logger := newLogger(cmd.String("log-level"), cmd.Bool("pretty-log"))
	cfg := wsconfig.FromCommand(cmd)

	var mgr *manager.Manager
	mgr = manager.New(manager.Config{
		MaxConnections: cfg.MaxConnections,
		Session: session.Config{
			MaxFrameSize:      cfg.MaxFrameSize,
			MaxMessageSize:    cfg.MaxMessageSize,
			PingInterval:      cfg.PingInterval,
			PongTimeout:       cfg.PongTimeout,
			CloseTimeout:      cfg.CloseTimeout,
			OutboundQueueSize: 256,
		},
		Handshake: handshake.Options{
			CheckOrigin: handshake.CheckSameOrigin,
		},
	}, manager.Handlers{
		OnConnect: func(id session.ID) {
			logger.Info().Uint64("client_id", id).Msg("client connected")
		},
		OnMessage: func(id session.ID, msg message.Message) {
			mgr.Send(id, msg.Kind, msg.Payload)
		},
		OnDisconnect: func(id session.ID, code message.CloseCode, reason string) {
			logger.Info().Uint64("client_id", id).Int("close_code", int(code)).Str("reason", reason).Msg("client disconnected")
		},
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", mgr)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.HandshakeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("listening")
		var err error
		if cfg.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("sessions did not drain before timeout")
	}
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return logger.Level(lvl)
}
