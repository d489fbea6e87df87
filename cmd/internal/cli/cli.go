// Package cli holds the setup shared by every stage binary: configuration
// loading, execution-log wiring and the interactive confirmation gate used
// before full-history runs.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"clustertalk/internal/config"
	"clustertalk/internal/logger"
)

// Setup loads the configuration and points the logger at the execution log.
// Each invocation gets a run id so interleaved stage runs can be told apart
// in the shared execution log.
func Setup(configFile string) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Configure(cfg.Log.Directory, cfg.Log.ExecutionFile); err != nil {
		return nil, err
	}
	logger.Info("run initialized", "run_id", uuid.NewString())
	return cfg, nil
}

// Confirm asks a y/n question on stdin and re-asks until it gets one of the
// two. A closed stdin counts as no.
func Confirm(prompt string) bool {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Printf("%s (y/n): ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y":
			return true
		case "n":
			return false
		}
	}
}

// ParseRange parses a two-element start/end date pair in the given layout.
func ParseRange(values []string, layout string) (time.Time, time.Time, error) {
	if len(values) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("expected two arguments: <mindate, maxdate>, got %d", len(values))
	}
	start, err := time.Parse(layout, values[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing start date %q: %w", values[0], err)
	}
	end, err := time.Parse(layout, values[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing end date %q: %w", values[1], err)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s precedes start date %s", values[1], values[0])
	}
	return start, end, nil
}
