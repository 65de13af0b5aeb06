// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/socialmux/channel"
	"github.com/bureau-foundation/socialmux/lib/config"
	"github.com/bureau-foundation/socialmux/mux"
	"github.com/bureau-foundation/socialmux/social"
	"github.com/bureau-foundation/socialmux/social/matrix"
	"github.com/bureau-foundation/socialmux/transport"
)

const (
	agentName = "socialmux"
	version   = "0.1.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		verbose     bool
		showVersion bool
		forget      bool
	)

	flagSet := pflag.NewFlagSet(agentName, pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to socialmux.yaml (default: $SOCIALMUX_CONFIG)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.BoolVar(&forget, "forget", false, "discard the remembered login before logging in")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		fmt.Printf("%s %s\n", agentName, version)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	syncTimeout, err := cfg.Matrix.SyncTimeoutDuration()
	if err != nil {
		return err
	}
	provider, err := matrix.NewProvider(matrix.Config{
		HomeserverURL:   cfg.Matrix.HomeserverURL,
		Username:        cfg.Matrix.Username,
		RoomID:          cfg.Matrix.RoomID,
		Password:        os.Getenv("SOCIALMUX_PASSWORD"),
		PasswordPrompt:  promptPassword,
		CredentialsFile: cfg.Matrix.CredentialsFile,
		DeviceName:      cfg.Matrix.DeviceName,
		SyncTimeout:     syncTimeout,
		Logger:          logger.With("component", "matrix"),
	})
	if err != nil {
		return err
	}

	runtime := channel.NewRuntime(logger.With("component", "channel"))
	webrtc := transport.NewWebRTCProvider(transport.WebRTCConfig{
		Channels:          runtime,
		ICE:               transport.ICEConfigFromServers(cfg.ICE.Servers),
		CompressThreshold: cfg.Transport.CompressThresholdBytes(),
		Logger:            logger.With("component", "transport"),
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	multiplexer, err := mux.New(mux.Config{
		Social:     provider,
		Transports: webrtc.NewTransport,
		Channels:   runtime,
		Metrics:    mux.NewMetrics(registry),
		Logger:     logger.With("component", "mux"),
	})
	if err != nil {
		return err
	}
	defer multiplexer.Close()

	if cfg.Metrics.Listen != "" {
		stopMetrics, err := serveMetrics(cfg.Metrics.Listen, registry, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
	}

	if forget {
		if err := multiplexer.ClearCachedCredentials(ctx); err != nil {
			return fmt.Errorf("discarding remembered login: %w", err)
		}
	}

	self, err := multiplexer.Login(ctx, social.LoginRequest{
		Agent:         agentName,
		Version:       version,
		Interactive:   term.IsTerminal(int(os.Stdin.Fd())),
		RememberLogin: true,
	})
	if err != nil {
		return err
	}
	logger.Info("logged in", "client_id", self.ClientID, "user_id", self.UserID)

	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := multiplexer.Logout(logoutCtx); err != nil {
			logger.Warn("logout failed", "error", err)
		}
	}()

	if cfg.ICE.UseHomeserverTURN() {
		refreshTURN(ctx, provider, webrtc, cfg.ICE.Servers, logger)
	}

	console := newConsole(multiplexer, os.Stdout)
	multiplexer.OnMessage(console.printMessage)
	return console.run(ctx, os.Stdin)
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func promptPassword() (string, error) {
	stdinFileDescriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFileDescriptor) {
		return "", errors.New("no terminal available for password prompt (set SOCIALMUX_PASSWORD)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(stdinFileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

// serveMetrics starts the /metrics listener and returns a function that
// shuts it down.
func serveMetrics(address string, gatherer prometheus.Gatherer, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("metrics listener on %s: %w", address, err)
	}
	handler := http.NewServeMux()
	handler.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "address", listener.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}, nil
}

// refreshTURN adds the homeserver's TURN credentials to the configured
// ICE servers and keeps them current until ctx is cancelled. A failed
// fetch leaves the configured servers in place.
func refreshTURN(ctx context.Context, provider *matrix.Provider, webrtc *transport.WebRTCProvider, configured []config.ICEServer, logger *slog.Logger) {
	fetch := func() time.Duration {
		credentials, err := provider.TURNServer(ctx)
		if err != nil {
			logger.Warn("fetching TURN credentials failed", "error", err)
			return 0
		}
		if len(credentials.URIs) == 0 {
			return 0
		}
		servers := append([]config.ICEServer(nil), configured...)
		servers = append(servers, config.ICEServer{
			URLs:       credentials.URIs,
			Username:   credentials.Username,
			Credential: credentials.Password,
		})
		webrtc.UpdateICEConfig(transport.ICEConfigFromServers(servers))
		logger.Debug("TURN credentials updated", "uris", credentials.URIs, "ttl_seconds", credentials.TTL)
		return time.Duration(credentials.TTL) * time.Second
	}

	ttl := fetch()
	if ttl <= 0 {
		return
	}
	go func() {
		for ttl > 0 {
			// Refresh at 80% of the credential lifetime.
			select {
			case <-ctx.Done():
				return
			case <-time.After(ttl * 4 / 5):
			}
			ttl = fetch()
		}
	}()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `socialmux: exchange messages with the clients of a Matrix room.

Peers running socialmux are reached over WebRTC sessions negotiated
through the room; other Matrix clients receive room text.

Usage:
  socialmux [flags]

Examples:
  # Run with an explicit config file
  SOCIALMUX_PASSWORD=... socialmux --config ~/.config/socialmux.yaml

  # Log in again from scratch, ignoring the remembered token
  socialmux --forget

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
