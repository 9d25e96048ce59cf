// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Host string `env:"HOST"`
	Port int    `env:"PORT,default=8080" validate:"min=1,max=65535"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT,default=json" validate:"oneof=json console"`

	// AllowedOrigins is a comma separated list; "*" allows any origin.
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`

	WebRTC   WebRTCConfig
	Session  SessionConfig
	TURN     TURNConfig
	AuditDSN string `env:"AUDIT_DATABASE_URL"`
}

type WebRTCConfig struct {
	// ICEServers is a comma separated list of STUN/TURN URLs.
	ICEServers  string        `env:"ICE_SERVERS,default=stun:stun.l.google.com:19302"`
	ICEUsername string        `env:"ICE_USERNAME"`
	ICEPassword string        `env:"ICE_PASSWORD"`
	PublicIP    string        `env:"PUBLIC_IP" validate:"omitempty,ip"`
	UDPPortMin  int           `env:"UDP_PORT_MIN" validate:"min=0,max=65535"`
	UDPPortMax  int           `env:"UDP_PORT_MAX" validate:"min=0,max=65535,gtefield=UDPPortMin"`
	PLIInterval time.Duration `env:"PLI_INTERVAL,default=3s" validate:"min=0"`
}

type SessionConfig struct {
	HandshakeTimeout   time.Duration `env:"HANDSHAKE_TIMEOUT,default=30s" validate:"min=0"`
	CandidateQueueSize int           `env:"CANDIDATE_QUEUE_SIZE,default=32" validate:"min=1,max=1024"`
	MailboxSize        int           `env:"MAILBOX_SIZE,default=256" validate:"min=1"`
	ConnectRate        int           `env:"CONNECT_RATE,default=30" validate:"min=1"`
	ConnectRateWindow  time.Duration `env:"CONNECT_RATE_WINDOW,default=1m" validate:"min=1s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"min=0"`
}

type TURNConfig struct {
	Enabled bool   `env:"TURN_ENABLED"`
	Port    int    `env:"TURN_PORT,default=3478" validate:"min=1,max=65535"`
	Realm   string `env:"TURN_REALM,default=roomrelay" validate:"required"`
	// Users is a comma separated list of user=password pairs.
	Users         string `env:"TURN_USERS" validate:"required_if=Enabled true"`
	Threads       int    `env:"TURN_THREADS,default=1" validate:"min=1,max=64"`
	RelayPortMin  int    `env:"TURN_RELAY_PORT_MIN,default=49152" validate:"min=1,max=65535"`
	RelayPortMax  int    `env:"TURN_RELAY_PORT_MAX,default=65535" validate:"min=1,max=65535,gtefield=RelayPortMin"`
	PublicAddress string `env:"TURN_PUBLIC_IP" validate:"omitempty,ip"`
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Port:           8080,
		LogLevel:       "info",
		LogFormat:      "json",
		AllowedOrigins: "*",
		WebRTC: WebRTCConfig{
			ICEServers:  "stun:stun.l.google.com:19302",
			PLIInterval: 3 * time.Second,
		},
		Session: SessionConfig{
			HandshakeTimeout:   30 * time.Second,
			CandidateQueueSize: 32,
			MailboxSize:        256,
			ConnectRate:        30,
			ConnectRateWindow:  time.Minute,
			ShutdownTimeout:    10 * time.Second,
		},
		TURN: TURNConfig{
			Port:         3478,
			Realm:        "roomrelay",
			Threads:      1,
			RelayPortMin: 49152,
			RelayPortMax: 65535,
		},
	}
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.TURN.Credentials(); err != nil {
		return err
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins returns the allowed websocket origins. An empty result allows any.
func (c *Config) Origins() []string {
	origins := splitList(c.AllowedOrigins)
	for _, o := range origins {
		if o == "*" {
			return nil
		}
	}
	return origins
}

// URLs returns the configured ICE server URLs.
func (w WebRTCConfig) URLs() []string {
	return splitList(w.ICEServers)
}

// Credentials parses Users into a user to password map.
func (t TURNConfig) Credentials() (map[string]string, error) {
	creds := make(map[string]string)
	for _, pair := range splitList(t.Users) {
		user, pass, ok := strings.Cut(pair, "=")
		if !ok || user == "" || pass == "" {
			return nil, fmt.Errorf("invalid TURN_USERS entry %q, want user=password", pair)
		}
		creds[user] = pass
	}
	return creds, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
