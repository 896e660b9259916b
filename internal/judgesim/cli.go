package judgesim

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/okian/tabulator/pkg/logger"
)

// SetupLogging initializes console logging, also writing to logFile when set.
func SetupLogging(logFile string, verbose bool) error {
	paths := []string{"stdout"}
	if logFile != "" {
		paths = append(paths, logFile)
	}
	if err := logger.Init(logger.WithConsoleEncoding(), logger.WithOutputPaths(paths...)); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		return logger.SetLevelString("debug")
	}
	return nil
}

// ParseJudgeIDs reads a comma separated list such as "1,2,5".
func ParseJudgeIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: judge id %q", ErrInvalidConfig, part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ShowHelp prints usage information for the judge simulator.
func ShowHelp() {
	os.Stdout.WriteString(`Tabulator Judge Simulator
=========================

Plays one or more judges against a running tabulator. Each judge keeps a live
subscription and submits random in-range scores whenever a new band goes live.

Usage:
  judge-sim [options]

Options:
  -api string
        Base URL of the API (default "http://localhost:8080")
  -ws string
        Websocket URL of the fan-out hub (default "ws://localhost:8080/ws")
  -judges string
        Comma separated judge ids to play (required)
  -think duration
        Upper bound of the random delay before submitting (default 2s)
  -timeout duration
        HTTP request timeout (default 5s)
  -seed uint
        Random seed (default: from the clock)
  -log string
        Also write logs to this file
  -verbose
        Enable debug logging
  -help
        Show this help message

Examples:
  # Two judges against a local single-process deployment
  judge-sim -judges 1,2

  # Against a split deployment with a separate fan-out process
  judge-sim -judges 1,2,3 -ws ws://localhost:8081/ws -think 500ms
`)
}
