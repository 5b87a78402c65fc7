// Package wsconfig defines wsrelayd's CLI flags and the Config struct they
// populate. Each flag can be set on the command line, by an environment
// variable, or by a key in the TOML config file. A command-line argument
// wins over the environment variable, which wins over the file key, which
// wins over the flag's built-in default.
package wsconfig

import (
	"errors"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/toml"
	"github.com/urfave/cli/v3"
)

const (
	DefaultListenPort         = 8080
	DefaultMaxConnections     = 10000
	DefaultMaxFrameSizeBytes  = 32 * 1024 * 1024
	DefaultMaxMessageSize     = 32 * 1024 * 1024
	DefaultHandshakeTimeoutMs = 5000
	DefaultPingIntervalMs     = 30000
	DefaultPongTimeoutMs      = 10000
	DefaultCloseTimeoutMs     = 5000
)

// Config is wsrelayd's fully resolved runtime configuration.
type Config struct {
	ListenPort       int
	MaxConnections   uint64
	MaxFrameSize     uint64
	MaxMessageSize   uint64
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PongTimeout      time.Duration
	CloseTimeout     time.Duration
	TLSEnabled       bool
	TLSCertPath      string
	TLSKeyPath       string
}

// Flags returns the CLI flags that configure wsrelayd. configFilePath
// locates the TOML file flags fall back to when no environment variable is
// set; pass an empty altsrc.StringSourcer("") to disable file-based config.
func Flags(configFilePath altsrc.StringSourcer) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "listen-port",
			Usage: "TCP port to accept WebSocket connections on",
			Value: DefaultListenPort,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_LISTEN_PORT"),
				toml.TOML("server.listen_port", configFilePath),
			),
			Validator: validatePort,
		},
		&cli.UintFlag{
			Name:  "max-connections",
			Usage: "maximum concurrently open sessions (0 = unlimited)",
			Value: DefaultMaxConnections,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_MAX_CONNECTIONS"),
				toml.TOML("server.max_connections", configFilePath),
			),
		},
		&cli.UintFlag{
			Name:  "max-frame-size",
			Usage: "maximum individual frame payload size in bytes",
			Value: DefaultMaxFrameSizeBytes,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_MAX_FRAME_SIZE"),
				toml.TOML("server.max_frame_size", configFilePath),
			),
		},
		&cli.UintFlag{
			Name:  "max-message-size",
			Usage: "maximum reassembled message size in bytes",
			Value: DefaultMaxMessageSize,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_MAX_MESSAGE_SIZE"),
				toml.TOML("server.max_message_size", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "handshake-timeout-ms",
			Usage: "maximum time allowed to complete the opening handshake",
			Value: DefaultHandshakeTimeoutMs,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_HANDSHAKE_TIMEOUT_MS"),
				toml.TOML("server.handshake_timeout_ms", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "ping-interval-ms",
			Usage: "heartbeat ping interval (0 disables heartbeats)",
			Value: DefaultPingIntervalMs,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_PING_INTERVAL_MS"),
				toml.TOML("server.ping_interval_ms", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "pong-timeout-ms",
			Usage: "how long to wait for a pong before closing the session",
			Value: DefaultPongTimeoutMs,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_PONG_TIMEOUT_MS"),
				toml.TOML("server.pong_timeout_ms", configFilePath),
			),
		},
		&cli.IntFlag{
			Name:  "close-timeout-ms",
			Usage: "how long to wait for the peer's close frame",
			Value: DefaultCloseTimeoutMs,
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_CLOSE_TIMEOUT_MS"),
				toml.TOML("server.close_timeout_ms", configFilePath),
			),
		},
		&cli.BoolFlag{
			Name:  "tls-enabled",
			Usage: "serve over TLS",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_TLS_ENABLED"),
				toml.TOML("tls.enabled", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "tls-cert-path",
			Usage: "path to the TLS certificate file",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_TLS_CERT_PATH"),
				toml.TOML("tls.cert_path", configFilePath),
			),
		},
		&cli.StringFlag{
			Name:  "tls-key-path",
			Usage: "path to the TLS private key file",
			Sources: cli.NewValueSourceChain(
				cli.EnvVar("WSRELAY_TLS_KEY_PATH"),
				toml.TOML("tls.key_path", configFilePath),
			),
		},
	}
}

func validatePort(p int) error {
	if p < 1 || p > 65535 {
		return errors.New("out of range [1-65535]")
	}
	return nil
}

// FromCommand builds a Config from a cli.Command's resolved flag values,
// after cmd.Run has applied env/TOML/CLI precedence.
func FromCommand(cmd *cli.Command) *Config {
	return &Config{
		ListenPort:       cmd.Int("listen-port"),
		MaxConnections:   cmd.Uint("max-connections"),
		MaxFrameSize:     cmd.Uint("max-frame-size"),
		MaxMessageSize:   cmd.Uint("max-message-size"),
		HandshakeTimeout: time.Duration(cmd.Int("handshake-timeout-ms")) * time.Millisecond,
		PingInterval:     time.Duration(cmd.Int("ping-interval-ms")) * time.Millisecond,
		PongTimeout:      time.Duration(cmd.Int("pong-timeout-ms")) * time.Millisecond,
		CloseTimeout:     time.Duration(cmd.Int("close-timeout-ms")) * time.Millisecond,
		TLSEnabled:       cmd.Bool("tls-enabled"),
		TLSCertPath:      cmd.String("tls-cert-path"),
		TLSKeyPath:       cmd.String("tls-key-path"),
	}
}
