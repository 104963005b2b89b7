package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/candrapwr/meet-datasiber/internal/logging"
	"github.com/candrapwr/meet-datasiber/internal/room"
)

const (
	envConfigFile      = "MEET_CONFIG"
	envPort            = "PORT"
	envListenAddr      = "MEET_LISTEN_ADDR"
	envAllowedOrigin   = "ALLOWED_ORIGIN"
	envLogLevel        = "LOG_LEVEL"
	envLogFormat       = "LOG_FORMAT"
	envShutdownTimeout = "MEET_SHUTDOWN_TIMEOUT"
	envMaxMessageBytes = "MEET_MAX_MESSAGE_BYTES"
	envSendBuffer      = "MEET_SEND_BUFFER"
	envHostlessPolicy  = "MEET_HOSTLESS_POLICY"
)

// Server defaults.
const (
	DefaultListenAddr      = ":3001"
	DefaultAllowedOrigin   = "http://localhost:3000"
	DefaultLogLevel        = "info"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxMessageBytes = 64 * 1024
	DefaultSendBuffer      = 256
)

// Server is the signaling server configuration.
type Server struct {
	// ListenAddr is the TCP address the HTTP server binds.
	ListenAddr string `yaml:"listen_addr"`

	// AllowedOrigins lists browser origins allowed to open a WebSocket.
	// "*" allows any origin. Requests without an Origin header are always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxMessageBytes bounds one inbound WebSocket frame.
	MaxMessageBytes int64 `yaml:"max_message_bytes"`

	// SendBuffer is the per-session outbound queue length.
	SendBuffer int `yaml:"send_buffer"`

	// HostlessPolicy decides what happens to a room whose host leaves while
	// only pending entrants remain.
	HostlessPolicy room.HostlessPolicy `yaml:"hostless_policy"`

	// ConfigFile is the YAML file the values were read from, if any.
	ConfigFile string `yaml:"-"`
}

func defaultServer() Server {
	return Server{
		ListenAddr:      DefaultListenAddr,
		AllowedOrigins:  []string{DefaultAllowedOrigin},
		LogLevel:        DefaultLogLevel,
		LogFormat:       logging.FormatText,
		ShutdownTimeout: DefaultShutdownTimeout,
		MaxMessageBytes: DefaultMaxMessageBytes,
		SendBuffer:      DefaultSendBuffer,
		HostlessPolicy:  room.PromotePending,
	}
}

// LoadServer resolves the server configuration. Each value comes from, in
// order of precedence: command-line flags, environment variables, the YAML
// file named by --config or MEET_CONFIG, and built-in defaults.
//
// A help request returns an error wrapping pflag.ErrHelp.
func LoadServer(args []string) (Server, error) {
	return loadServer(os.LookupEnv, args)
}

func loadServer(lookup func(string) (string, bool), args []string) (Server, error) {
	cfg := defaultServer()

	path := configFlag(args)
	if path == "" {
		path = envOrDefault(lookup, envConfigFile, "")
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Server{}, err
		}
		cfg.ConfigFile = path
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return Server{}, err
	}

	fs := pflag.NewFlagSet("meet-server", pflag.ContinueOnError)
	fs.String("config", cfg.ConfigFile, "YAML config file (env "+envConfigFile+")")
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP listen address (env "+envListenAddr+" or "+envPort+")")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origin", cfg.AllowedOrigins, "allowed browser origins, * for any (env "+envAllowedOrigin+")")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (env "+envLogLevel+")")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json (env "+envLogFormat+")")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout (env "+envShutdownTimeout+")")
	fs.Int64Var(&cfg.MaxMessageBytes, "max-message-bytes", cfg.MaxMessageBytes, "max inbound frame size (env "+envMaxMessageBytes+")")
	fs.IntVar(&cfg.SendBuffer, "send-buffer", cfg.SendBuffer, "outbound messages queued per session (env "+envSendBuffer+")")
	policy := fs.String("hostless-policy", string(cfg.HostlessPolicy), "promote or wait (env "+envHostlessPolicy+")")

	if err := fs.Parse(args); err != nil {
		return Server{}, err
	}
	if fs.NArg() > 0 {
		return Server{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	cfg.HostlessPolicy = room.HostlessPolicy(*policy)

	if err := cfg.validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func (c *Server) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Server) applyEnv(lookup func(string) (string, bool)) error {
	if port, ok := lookup(envPort); ok && port != "" {
		c.ListenAddr = ":" + strings.TrimPrefix(port, ":")
	}
	c.ListenAddr = envOrDefault(lookup, envListenAddr, c.ListenAddr)

	if raw := envOrDefault(lookup, envAllowedOrigin, ""); raw != "" {
		c.AllowedOrigins = splitList(raw)
	}
	c.LogLevel = envOrDefault(lookup, envLogLevel, c.LogLevel)
	c.LogFormat = envOrDefault(lookup, envLogFormat, c.LogFormat)
	c.HostlessPolicy = room.HostlessPolicy(envOrDefault(lookup, envHostlessPolicy, string(c.HostlessPolicy)))

	if raw := envOrDefault(lookup, envShutdownTimeout, ""); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envShutdownTimeout, raw, err)
		}
		c.ShutdownTimeout = d
	}
	if raw := envOrDefault(lookup, envMaxMessageBytes, ""); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envMaxMessageBytes, raw, err)
		}
		c.MaxMessageBytes = n
	}
	if raw := envOrDefault(lookup, envSendBuffer, ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envSendBuffer, raw, err)
		}
		c.SendBuffer = n
	}
	return nil
}

func (c *Server) validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddr) == "" {
		errs = append(errs, errors.New("listen address is empty"))
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	if c.LogFormat != logging.FormatText && c.LogFormat != logging.FormatJSON {
		errs = append(errs, fmt.Errorf("unsupported log format %q", c.LogFormat))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if c.MaxMessageBytes < 1024 {
		errs = append(errs, fmt.Errorf("max message bytes must be at least 1024, got %d", c.MaxMessageBytes))
	}
	if c.SendBuffer < 1 {
		errs = append(errs, fmt.Errorf("send buffer must be at least 1, got %d", c.SendBuffer))
	}
	policy, err := room.ParseHostlessPolicy(string(c.HostlessPolicy))
	if err != nil {
		errs = append(errs, err)
	}
	c.HostlessPolicy = policy

	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins

	return errors.Join(errs...)
}

// configFlag finds --config in args before the full flag set is parsed, so
// the file can supply defaults that flags then override.
func configFlag(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		switch {
		case a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
