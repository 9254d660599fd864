// Package config holds the explicit configuration structs handed to the
// allocator and peer constructors, loaded from environment variables and an
// optional YAML tuning file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// Peer configures one trading peer.
type Peer struct {
	IndexIP   string `env:"INDEX_IP" envDefault:"127.0.0.1"`
	IndexPort int    `env:"INDEX_PORT" envDefault:"5000"`

	Name       string `env:"CLIENT_NAME" envDefault:"clienteX"`
	ListenHost string `env:"CLIENT_HOST" envDefault:"0.0.0.0"`
	Port       int    `env:"CLIENT_PORT" envDefault:"6000"`
	DataDir    string `env:"CLIENT_DATA_DIR" envDefault:"./data"`

	ServeAfterJoin bool `env:"SERVE_AFTER_JOIN" envDefault:"true"`

	// TurnDuration overrides the slot length scaled by peer count when > 0.
	TurnDuration time.Duration `env:"TURN_DURATION"`
	MaxRounds    int           `env:"MAX_ROUNDS" envDefault:"25"`
	GraceServe   time.Duration `env:"GRACE_SERVE" envDefault:"30s"`

	TurnSource string `env:"TURN_SOURCE" envDefault:"clock"`
	TurnFile   string `env:"TURN_FILE"`

	LedgerDB   string `env:"LEDGER_DB"`
	TuningFile string `env:"TUNING_FILE"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
}

// Index configures the allocator.
type Index struct {
	Host         string        `env:"INDEX_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"INDEX_PORT" envDefault:"5000"`
	TotalClients int           `env:"TOTAL_CLIENTS" envDefault:"5"`
	StartDelay   time.Duration `env:"START_DELAY" envDefault:"5s"`
	HandSize     int           `env:"HAND_SIZE" envDefault:"11"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
}

// Turn sources.
const (
	TurnSourceClock = "clock"
	TurnSourceFile  = "file"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadPeer parses and validates the peer configuration.
func LoadPeer() (Peer, error) {
	var cfg Peer
	if err := ParseEnv(&cfg); err != nil {
		return Peer{}, err
	}
	return cfg, cfg.Validate()
}

// LoadIndex parses and validates the allocator configuration.
func LoadIndex() (Index, error) {
	var cfg Index
	if err := ParseEnv(&cfg); err != nil {
		return Index{}, err
	}
	return cfg, cfg.Validate()
}

func (c Peer) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("CLIENT_NAME is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("CLIENT_PORT %d out of range", c.Port)
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("MAX_ROUNDS must be positive, got %d", c.MaxRounds)
	}
	switch c.TurnSource {
	case TurnSourceClock:
	case TurnSourceFile:
		if c.TurnFile == "" {
			return fmt.Errorf("TURN_FILE is required with TURN_SOURCE=file")
		}
	default:
		return fmt.Errorf("unknown TURN_SOURCE %q", c.TurnSource)
	}
	return nil
}

func (c Index) Validate() error {
	if c.TotalClients <= 0 {
		return fmt.Errorf("TOTAL_CLIENTS must be positive, got %d", c.TotalClients)
	}
	if c.HandSize <= 0 {
		return fmt.Errorf("HAND_SIZE must be positive, got %d", c.HandSize)
	}
	return nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
