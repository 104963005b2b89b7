package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/candrapwr/meet-datasiber/internal/protocol"
)

// Default client configuration values.
const (
	DefaultServerURL    = "ws://localhost:3001/ws"
	DefaultSTUN         = "stun:stun.l.google.com:19302"
	DefaultCodec        = protocol.CodecJSON
	DefaultOfferTimeout = 15 * time.Second
)

// Config holds the meet client configuration.
type Config struct {
	// ServerURL is the signaling WebSocket endpoint.
	ServerURL string

	// Name is the display name shown to other participants.
	Name string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN candidates.
	ForceRelay bool

	// Codec is the signaling wire codec, "json" or "msgpack".
	Codec string

	// OfferTimeout rolls back and retries an offer left unanswered this long. Zero disables it.
	OfferTimeout time.Duration
}

// Options for loading config with CLI flag overrides. Zero values mean "not set".
type Options struct {
	Server       string
	Domain       string
	Name         string
	STUNServer   string
	TURNServer   string
	TURNUser     string
	TURNPass     string
	ForceRelay   bool
	Codec        string
	OfferTimeout time.Duration
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	return load(os.LookupEnv, opts)
}

func load(lookup func(string) (string, bool), opts Options) (*Config, error) {
	// Server: --server > --domain > MEET_SERVER > DOMAIN > default
	serverURL := opts.Server
	if serverURL == "" && opts.Domain != "" {
		serverURL = domainURL(opts.Domain)
	}
	if serverURL == "" {
		serverURL = envOrDefault(lookup, "MEET_SERVER", "")
	}
	if serverURL == "" {
		if domain := envOrDefault(lookup, "DOMAIN", ""); domain != "" {
			serverURL = domainURL(domain)
		}
	}
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	u, err := url.Parse(serverURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: want ws:// or wss://", serverURL)
	}

	name := opts.Name
	if name == "" {
		name = envOrDefault(lookup, "MEET_NAME", "")
	}
	if name == "" {
		name = envOrDefault(lookup, "USER", "guest")
	}

	stunServer := firstNonEmpty(opts.STUNServer, envOrDefault(lookup, "STUN_SERVER", ""), DefaultSTUN)
	turnServer := firstNonEmpty(opts.TURNServer, envOrDefault(lookup, "TURN_SERVER", ""))
	turnUser := firstNonEmpty(opts.TURNUser, envOrDefault(lookup, "TURN_USERNAME", ""))
	turnPass := firstNonEmpty(opts.TURNPass, envOrDefault(lookup, "TURN_PASSWORD", ""))

	forceRelay := opts.ForceRelay
	if !forceRelay {
		switch strings.ToLower(envOrDefault(lookup, "MEET_FORCE_RELAY", "")) {
		case "1", "true", "yes":
			forceRelay = true
		}
	}
	if forceRelay && turnServer == "" {
		return nil, fmt.Errorf("force relay needs a TURN server")
	}

	codec := firstNonEmpty(opts.Codec, envOrDefault(lookup, "MEET_CODEC", ""), DefaultCodec)
	if _, err := protocol.CodecByName(codec); err != nil {
		return nil, err
	}

	offerTimeout := opts.OfferTimeout
	if offerTimeout == 0 {
		offerTimeout = DefaultOfferTimeout
		if raw := envOrDefault(lookup, "MEET_OFFER_TIMEOUT", ""); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid MEET_OFFER_TIMEOUT %q: %w", raw, err)
			}
			offerTimeout = d
		}
	}
	if offerTimeout < 0 {
		offerTimeout = 0
	}

	return &Config{
		ServerURL:    serverURL,
		Name:         name,
		STUNServer:   stunServer,
		TURNServer:   turnServer,
		TURNUser:     turnUser,
		TURNPass:     turnPass,
		ForceRelay:   forceRelay,
		Codec:        codec,
		OfferTimeout: offerTimeout,
	}, nil
}

// HTTPBase returns the http(s) origin of the signaling server, used for /stats.
func (c *Config) HTTPBase() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return ""
	}
	scheme := "http"
	if u.Scheme == "wss" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

// WithCodec returns the server URL carrying the codec query parameter.
func (c *Config) WithCodec() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return c.ServerURL
	}
	q := u.Query()
	if c.Codec != "" && c.Codec != protocol.CodecJSON {
		q.Set("codec", c.Codec)
	} else {
		q.Del("codec")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured. A bare host expands
// to the usual UDP, TCP and TLS endpoints.
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	if strings.Contains(c.TURNServer, "?transport=") {
		return []string{c.TURNServer}
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turns:"), "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

func domainURL(domain string) string {
	return fmt.Sprintf("wss://%s/ws", domain)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
