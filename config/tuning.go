package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning groups the timing knobs of the protocol. Every duration scales with
// the size of the cohort: bigger groups get longer slots so connection
// overhead stays small relative to the slot.
type Tuning struct {
	Turn   TurnTuning   `yaml:"turn"`
	Trade  TradeTuning  `yaml:"trade"`
	Server ServerTuning `yaml:"server"`
}

type TurnTuning struct {
	// Buckets are matched in order; the first with MaxPeers >= n wins.
	Buckets []TurnBucket `yaml:"buckets"`

	// Default applies above every bucket.
	Default time.Duration `yaml:"default"`

	SyncDelaySmall time.Duration `yaml:"sync_delay_small"`
	SyncDelayLarge time.Duration `yaml:"sync_delay_large"`

	// SmallGroup is the largest cohort that uses SyncDelaySmall.
	SmallGroup int `yaml:"small_group"`

	PollInterval time.Duration `yaml:"poll_interval"`
	IdleInterval time.Duration `yaml:"idle_interval"`

	// MinIdle is the least remaining slot time worth idling out.
	MinIdle time.Duration `yaml:"min_idle"`
}

type TurnBucket struct {
	MaxPeers int           `yaml:"max_peers"`
	Duration time.Duration `yaml:"duration"`
}

type TradeTuning struct {
	// LargeGroup is the number of other peers from which the aggressive
	// timeouts apply.
	LargeGroup int `yaml:"large_group"`

	Timeout       time.Duration `yaml:"timeout"`
	TimeoutLarge  time.Duration `yaml:"timeout_large"`
	Attempts      int           `yaml:"attempts"`
	AttemptsLarge int           `yaml:"attempts_large"`

	AttemptPause   time.Duration `yaml:"attempt_pause"`
	PeerPause      time.Duration `yaml:"peer_pause"`
	PeerPauseLarge time.Duration `yaml:"peer_pause_large"`

	MaxWants  int `yaml:"max_wants"`
	MaxOffers int `yaml:"max_offers"`
}

type ServerTuning struct {
	BatchSize   int           `yaml:"batch_size"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// DefaultTuning returns the stock timings.
func DefaultTuning() Tuning {
	return Tuning{
		Turn: TurnTuning{
			Buckets: []TurnBucket{
				{MaxPeers: 3, Duration: 10 * time.Second},
				{MaxPeers: 4, Duration: 12 * time.Second},
				{MaxPeers: 5, Duration: 15 * time.Second},
			},
			Default:        18 * time.Second,
			SyncDelaySmall: 5 * time.Second,
			SyncDelayLarge: 8 * time.Second,
			SmallGroup:     3,
			PollInterval:   100 * time.Millisecond,
			IdleInterval:   200 * time.Millisecond,
			MinIdle:        time.Second,
		},
		Trade: TradeTuning{
			LargeGroup:     4,
			Timeout:        2 * time.Second,
			TimeoutLarge:   1500 * time.Millisecond,
			Attempts:       3,
			AttemptsLarge:  2,
			AttemptPause:   200 * time.Millisecond,
			PeerPause:      500 * time.Millisecond,
			PeerPauseLarge: 300 * time.Millisecond,
			MaxWants:       3,
			MaxOffers:      2,
		},
		Server: ServerTuning{
			BatchSize:   5,
			ReadTimeout: 300 * time.Millisecond,
		},
	}
}

// LoadTuning reads a YAML file over the defaults. An empty path returns the
// defaults unchanged.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning %s: %w", path, err)
	}
	return t, nil
}

// TurnDuration returns the slot length for a cohort of peers.
func (t Tuning) TurnDuration(peers int) time.Duration {
	for _, b := range t.Turn.Buckets {
		if peers <= b.MaxPeers {
			return b.Duration
		}
	}
	return t.Turn.Default
}

// SyncDelay returns how long to wait before starting the turn clock.
func (t Tuning) SyncDelay(peers int) time.Duration {
	if peers <= t.Turn.SmallGroup {
		return t.Turn.SyncDelaySmall
	}
	return t.Turn.SyncDelayLarge
}

// TradeTimeout bounds connect plus read of one outbound trade.
func (t Tuning) TradeTimeout(others int) time.Duration {
	if others >= t.Trade.LargeGroup {
		return t.Trade.TimeoutLarge
	}
	return t.Trade.Timeout
}

// TradeAttempts bounds the rounds spent with a single peer.
func (t Tuning) TradeAttempts(others int) int {
	if others >= t.Trade.LargeGroup {
		return t.Trade.AttemptsLarge
	}
	return t.Trade.Attempts
}

// PeerPause is the pause between two peers in a negotiation pass.
func (t Tuning) PeerPause(others int) time.Duration {
	if others >= t.Trade.LargeGroup {
		return t.Trade.PeerPauseLarge
	}
	return t.Trade.PeerPause
}
