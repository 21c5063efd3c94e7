package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/damesirelord/WebRTC-single-server/internal/config"
	"github.com/damesirelord/WebRTC-single-server/internal/logging"
	"github.com/damesirelord/WebRTC-single-server/internal/metrics"
	"github.com/damesirelord/WebRTC-single-server/signaling"
	"github.com/spf13/cobra"
)

var (
	flagConfig     string
	flagListen     string
	flagLogLevel   string
	flagLogFormat  string
	flagWireFormat string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay.

Clients connect to /websocket/{userId} (or /websocket to get a generated id).

Examples:
  webrtc-signal serve
  webrtc-signal serve --config relay.yaml
  webrtc-signal serve --listen :8087 --wire-format msgpack`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadServeConfig(cmd)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&flagConfig, "config", "c", "", "path to a YAML config file")
	f.StringVar(&flagListen, "listen", config.DefaultListenAddr, "address to listen on")
	f.StringVar(&flagLogLevel, "log-level", config.DefaultLogLevel, "debug, info, warn or error")
	f.StringVar(&flagLogFormat, "log-format", string(config.DefaultLogFormat), "text or json")
	f.StringVar(&flagWireFormat, "wire-format", string(config.DefaultWireFormat), "json or msgpack")
}

// loadServeConfig reads the config file if given, then applies flags the
// user set explicitly on top of it.
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.ListenAddr = flagListen
	}
	if f.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if f.Changed("log-format") {
		cfg.LogFormat = config.LogFormat(flagLogFormat)
	}
	if f.Changed("wire-format") {
		cfg.WireFormat = config.WireFormat(flagWireFormat)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.LogLevel, string(cfg.LogFormat))

	codec, err := signaling.CodecFor(string(cfg.WireFormat))
	if err != nil {
		return err
	}
	m := metrics.New()
	relay := signaling.NewRelay(log, codec, m)
	srv := signaling.NewWebsocketSignalingServer(signaling.ServerConfig{
		Relay:             relay,
		Accept:            websocket.AcceptOptions{OriginPatterns: cfg.AllowedOrigins},
		Log:               log,
		Metrics:           m,
		MaxMessageBytes:   cfg.MaxMessageBytes,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
		SendQueueSize:     cfg.SendQueueSize,
		PingInterval:      cfg.PingInterval,
		WriteTimeout:      cfg.WriteTimeout,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting signaling server",
			"listen_addr", cfg.ListenAddr,
			"wire_format", codec.Name(),
			"messages_per_second", cfg.MessagesPerSecond,
		)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("Signaling shutdown incomplete", "error", err)
	}
	return nil
}
