// Package config loads and validates the YAML runtime configuration.
// Load starts from defaults and overlays the file, so a partial config
// only has to name what it changes.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AutonomyLevel is the configured ceiling on unconfirmed actions.
type AutonomyLevel int

const (
	// Passive only records insights.
	Passive AutonomyLevel = iota
	// Observing records insights but plans nothing.
	Observing
	// Warning plans actions and notifies, execution needs confirmation.
	Warning
	// Operative may execute planned actions without confirmation.
	Operative
)

func (l AutonomyLevel) String() string {
	switch l {
	case Passive:
		return "passive"
	case Observing:
		return "observing"
	case Warning:
		return "warning"
	case Operative:
		return "operative"
	default:
		return fmt.Sprintf("autonomy(%d)", int(l))
	}
}

// Chronik configures the external event-log client.
type Chronik struct {
	BaseURL        string `yaml:"base_url"`
	Domain         string `yaml:"domain"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxSkip        int    `yaml:"max_skip"`
}

// Policies holds the tunable correlation heuristics. The defaults are
// hard-coded heuristics with no derivation behind them, which is
// exactly why they live in config.
type Policies struct {
	RepetitionWindowHours int `yaml:"repetition_window_hours"`
	RepetitionThreshold   int `yaml:"repetition_threshold"`
}

// Logging configures the slog setup.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full runtime configuration.
type Config struct {
	AutonomyLevel      AutonomyLevel `yaml:"autonomy_level"`
	ActiveRoles        []string      `yaml:"active_roles"`
	EventSources       []string      `yaml:"event_sources"`
	Outputs            []string      `yaml:"outputs"`
	PersistenceEnabled bool          `yaml:"persistence_enabled"`
	StateDir           string        `yaml:"state_dir"`
	SideDBPath         string        `yaml:"side_db_path"`
	Chronik            Chronik       `yaml:"chronik"`
	Policies           Policies      `yaml:"policies"`
	Logging            Logging       `yaml:"logging"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		AutonomyLevel:      Observing,
		ActiveRoles:        []string{"observer", "critic", "director", "archivist"},
		EventSources:       nil, // empty means all event types
		Outputs:            []string{"console"},
		PersistenceEnabled: true,
		StateDir:           ".heimgeist",
		SideDBPath:         ".heimgeist/side.db",
		Chronik: Chronik{
			Domain:         "heimgeist.delivery",
			TimeoutSeconds: 10,
			MaxSkip:        50,
		},
		Policies: Policies{
			RepetitionWindowHours: 24,
			RepetitionThreshold:   3,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path and overlays it onto the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.AutonomyLevel < Passive || c.AutonomyLevel > Operative {
		return fmt.Errorf("config: autonomy_level %d outside 0..3", int(c.AutonomyLevel))
	}
	if c.StateDir == "" {
		return fmt.Errorf("config: state_dir is required")
	}
	for _, out := range c.Outputs {
		switch out {
		case "console", "chronik":
		default:
			return fmt.Errorf("config: unknown output %q", out)
		}
	}
	if c.ChronikOutput() && c.Chronik.BaseURL == "" {
		return fmt.Errorf("config: chronik output enabled but chronik.base_url is empty")
	}
	if c.Policies.RepetitionThreshold < 1 {
		return fmt.Errorf("config: repetition_threshold must be at least 1")
	}
	if c.Policies.RepetitionWindowHours < 1 {
		return fmt.Errorf("config: repetition_window_hours must be at least 1")
	}
	return nil
}

// ChronikOutput reports whether envelopes should be delivered to the
// external event log.
func (c Config) ChronikOutput() bool {
	for _, out := range c.Outputs {
		if out == "chronik" {
			return true
		}
	}
	return false
}

// RoleActive reports whether the named pipeline role is enabled.
func (c Config) RoleActive(role string) bool {
	for _, r := range c.ActiveRoles {
		if r == role {
			return true
		}
	}
	return false
}
