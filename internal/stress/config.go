package stress

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config describes one stress run.
type Config struct {
	// Readers is the number of goroutines pinning and reading the shared
	// node.
	Readers int `mapstructure:"readers" validate:"required,min=1,max=4096" yaml:"readers"`

	// Writers is the number of goroutines replacing and retiring the shared
	// node.
	Writers int `mapstructure:"writers" validate:"required,min=1,max=4096" yaml:"writers"`

	// Duration is how long the workers run.
	Duration time.Duration `mapstructure:"duration" validate:"required,gt=0" yaml:"duration"`

	// ReadHold is the number of times a reader re-checks a node while
	// pinned, widening the window for a premature reclamation.
	ReadHold int `mapstructure:"read_hold" validate:"gte=1,lte=100000" yaml:"read_hold"`

	// RepinEvery makes readers keep one Shield and Repin after this many
	// reads instead of pinning per read. 0 pins per read.
	RepinEvery int `mapstructure:"repin_every" validate:"gte=0" yaml:"repin_every"`

	// CollectInterval runs Collect on a ticker. 0 leaves advancement to pins.
	CollectInterval time.Duration `mapstructure:"collect_interval" validate:"gte=0" yaml:"collect_interval"`

	// AdvanceRate is passed to ebr.WithAdvanceRate.
	AdvanceRate uint64 `mapstructure:"advance_rate" validate:"gte=1" yaml:"advance_rate"`

	// TrackPins is passed to ebr.WithPinTracking.
	TrackPins bool `mapstructure:"track_pins" yaml:"track_pins"`
}

// DefaultConfig returns a short, moderately contended run.
func DefaultConfig() Config {
	return Config{
		Readers:         4,
		Writers:         2,
		Duration:        5 * time.Second,
		ReadHold:        16,
		CollectInterval: time.Millisecond,
		AdvanceRate:     1,
	}
}

var validate = validator.New()

// Validate checks cfg against its field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid stress config: %w", err)
	}
	return nil
}
