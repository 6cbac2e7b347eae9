package interview

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Config holds the pipeline tuning knobs. All values have working defaults;
// a YAML file can override any subset.
type Config struct {
	// CONVERSATION -> WEIGHTING guard
	CompletenessThreshold int `yaml:"completeness_threshold"`
	TurnCeiling           int `yaml:"turn_ceiling"`

	// Validation
	MaxValidationRetries  int `yaml:"max_validation_retries"`
	AlignmentThreshold    int `yaml:"alignment_threshold"`
	CompletenessJumpLimit int `yaml:"completeness_jump_limit"`

	// Context budget
	RecentWindow    int `yaml:"recent_window"`
	TruncatedWindow int `yaml:"truncated_window"`
	TruncateRunes   int `yaml:"truncate_runes"`

	// Cross-reference propagation
	ApplyThreshold float64 `yaml:"apply_threshold"`
	LogThreshold   float64 `yaml:"log_threshold"`

	// Synthesis
	TopInsights     int `yaml:"top_insights"`
	PrimaryStrength int `yaml:"primary_strength"`

	// Interviewer style switch
	HypothesisThreshold int `yaml:"hypothesis_threshold"`
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		CompletenessThreshold: 80,
		TurnCeiling:           10,
		MaxValidationRetries:  2,
		AlignmentThreshold:    70,
		CompletenessJumpLimit: 30,
		RecentWindow:          5,
		TruncatedWindow:       5,
		TruncateRunes:         200,
		ApplyThreshold:        0.7,
		LogThreshold:          0.4,
		TopInsights:           5,
		PrimaryStrength:       70,
		HypothesisThreshold:   60,
	}
}

// LoadConfig reads a YAML config file and merges it over the defaults. An
// empty path returns the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, goerr.Wrap(err, "failed to read config file", goerr.V("path", path))
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, goerr.Wrap(err, "failed to parse config file", goerr.V("path", path))
	}
	return cfg, nil
}
