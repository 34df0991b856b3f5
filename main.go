package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/edevhub/amqp-transport/internal/amqp091"
	"github.com/edevhub/amqp-transport/internal/config"
	"github.com/edevhub/amqp-transport/internal/transport"
)

// amqp-probe dials a broker through the transport layer, reads the
// greeting frame the broker sends in response to the protocol header, and
// reports what it saw. Useful for checking reachability and TLS material
// without a full client.
func main() {
	configPath := flag.String("config", "", "Path to TOML configuration")
	host := flag.String("host", "", "Broker host (overrides config)")
	port := flag.Int("port", 0, "Broker port (overrides config)")
	timeout := flag.Duration("timeout", 0, "Connect timeout (overrides config)")
	useTLS := flag.Bool("tls", false, "Force a TLS handshake")
	insecure := flag.Bool("insecure", false, "Skip TLS peer verification")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	var llevel slog.Level
	if *verbose {
		llevel = slog.LevelDebug
	} else {
		llevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: llevel,
	}))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fatal(logger, fmt.Errorf("error loading config: %w", err))
		}
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *timeout != 0 {
		cfg.ConnectTimeout.Duration = *timeout
	}
	if *useTLS || *insecure {
		cfg.TLS.Enabled = true
		cfg.TLS.Insecure = cfg.TLS.Insecure || *insecure
	}

	tcfg := transport.Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		ConnectTimeout: cfg.ConnectTimeout.Duration,
		FrameMax:       cfg.FrameMax,
		Logger:         logger.WithGroup("transport"),
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := transport.ClientTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile, cfg.TLS.Insecure)
		if err != nil {
			fatal(logger, err)
		}
		tcfg.TLS = tlsCfg
	}

	start := time.Now()
	t, err := transport.Dial(tcfg)
	if err != nil {
		fatal(logger, fmt.Errorf("dial failed: %w", err))
	}
	defer func() {
		if cerr := t.Close(); cerr != nil {
			logger.Warn("Error closing transport", slog.Any("error", cerr))
		}
	}()

	f, err := t.ReadFrame()
	if err != nil {
		fatal(logger, fmt.Errorf("failed to read greeting frame: %w", err))
	}
	if f.Type != amqp091.TypeMethod || f.Channel != 0 {
		fatal(logger, fmt.Errorf("unexpected greeting: %s frame on channel %d", f.Type, f.Channel))
	}

	logger.Info("Broker greeted us",
		slog.String("frame_type", f.Type.String()),
		slog.Int("payload_bytes", len(f.Payload)),
		slog.Duration("elapsed", time.Since(start)))
}

func fatal(l *slog.Logger, err error) {
	l.Error("Fatal error", slog.Any("error", err))
	os.Exit(1)
}
