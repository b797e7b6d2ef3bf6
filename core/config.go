package core

import (
	"context"
	"time"

	clock "github.com/jonboulle/clockwork"

	"github.com/crowdchess/crowdchess/common/log"
)

// Arbiter picks the strongest move among the candidates proposed for the
// position described by fen. The returned LAN is always one of the
// candidates. Quit terminates the underlying engine.
type Arbiter interface {
	Choose(ctx context.Context, fen string, candidates []string) (string, error)
	Quit() error
}

// ArbiterFactory builds a fresh Arbiter. The game owns one arbiter at a time
// and replaces it on reset.
type ArbiterFactory func() (Arbiter, error)

// ConfigOption is a function that applies a specific setting to a Config.
type ConfigOption func(*Config)

// Config holds all relevant information for a game coordinator to run.
type Config struct {
	logger           log.Logger
	clock            clock.Clock
	arbiterFactory   ArbiterFactory
	initialTime      int
	lowTimeThreshold int
	lowTimeBonus     int
	graceWindow      time.Duration
	voteDuration     time.Duration
	engineTimeout    time.Duration
}

// NewConfig returns the config to pass to the game with the default options
// set and the updated values given by the options.
func NewConfig(opts ...ConfigOption) *Config {
	c := &Config{
		logger:           log.DefaultLogger(),
		clock:            clock.NewRealClock(),
		initialTime:      DefaultInitialTime,
		lowTimeThreshold: DefaultLowTimeThreshold,
		lowTimeBonus:     DefaultLowTimeBonus,
		graceWindow:      DefaultGraceWindow,
		voteDuration:     DefaultVoteDuration,
		engineTimeout:    DefaultEngineTimeout,
	}
	for i := range opts {
		opts[i](c)
	}
	return c
}

// WithLogger sets the logger used by the game and everything it owns.
func WithLogger(l log.Logger) ConfigOption {
	return func(c *Config) { c.logger = l }
}

// WithClock sets the clock source. Tests inject a fake clock here.
func WithClock(cl clock.Clock) ConfigOption {
	return func(c *Config) { c.clock = cl }
}

// WithArbiterFactory sets how the game obtains its engine adapter. The
// factory runs once at construction and once per reset.
func WithArbiterFactory(f ArbiterFactory) ConfigOption {
	return func(c *Config) { c.arbiterFactory = f }
}

// WithInitialTime sets the per-side starting clock, in seconds.
func WithInitialTime(seconds int) ConfigOption {
	return func(c *Config) { c.initialTime = seconds }
}

// WithIncrement sets the low-time threshold and bonus, in seconds.
func WithIncrement(threshold, bonus int) ConfigOption {
	return func(c *Config) {
		c.lowTimeThreshold = threshold
		c.lowTimeBonus = bonus
	}
}

// WithGraceWindow sets how long a disconnected session survives.
func WithGraceWindow(d time.Duration) ConfigOption {
	return func(c *Config) { c.graceWindow = d }
}

// WithVoteDuration sets the lifetime of every vote.
func WithVoteDuration(d time.Duration) ConfigOption {
	return func(c *Config) { c.voteDuration = d }
}

// WithEngineTimeout bounds a single arbitration call.
func WithEngineTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.engineTimeout = d }
}
