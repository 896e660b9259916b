package judgesim

import (
	"fmt"
	"time"
)

// Defaults for the simulator.
const (
	DefaultThinkTime = 2 * time.Second
	DefaultTimeout   = 5 * time.Second
)

// Config holds configuration for a simulation run.
type Config struct {
	APIURL    string        // Base URL of the API
	WSURL     string        // Websocket URL of the fan-out hub
	JudgeIDs  []int64       // Judges to play
	ThinkTime time.Duration // Upper bound of the random delay before submitting
	Timeout   time.Duration // HTTP request timeout
	Seed      uint64        // Random seed; zero picks one from the clock
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.APIURL == "" || c.WSURL == "":
		return fmt.Errorf("%w: api and websocket urls are required", ErrInvalidConfig)
	case len(c.JudgeIDs) == 0:
		return fmt.Errorf("%w: at least one judge id is required", ErrInvalidConfig)
	case c.ThinkTime < 0:
		return fmt.Errorf("%w: think time must not be negative", ErrInvalidConfig)
	}
	for _, id := range c.JudgeIDs {
		if id <= 0 {
			return fmt.Errorf("%w: judge id %d", ErrInvalidConfig, id)
		}
	}
	return nil
}

// Stats holds simulation counters.
type Stats struct {
	BandsSeen int64
	Submitted int64
	Rejected  int64
	Failed    int64
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
