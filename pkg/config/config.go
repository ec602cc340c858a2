package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
)

// Config is the process configuration, read from the environment.
type Config struct {
	RPCEndpoint  string `env:"RPC_MAINNET,required,notEmpty"`
	ForkEndpoint string `env:"FORK_RPC"`
	// SimulateAdvance moves the fork clock before the simulated claim.
	SimulateAdvance time.Duration `env:"SIMULATE_ADVANCE" envDefault:"0s"`

	// Block pins the report to a height; 0 selects the chain head.
	Block    uint64 `env:"REPORT_BLOCK" envDefault:"0"`
	Output   string `env:"REPORT_OUTPUT" envDefault:"streamer-deficit-report.csv"`
	Schedule string `env:"REPORT_SCHEDULE"`

	StreamsFile string `env:"STREAMS_FILE"`
	ABIV1Path   string `env:"ABI_V1_PATH"`
	ABIV2Path   string `env:"ABI_V2_PATH"`

	ClaimLogWindow  uint64        `env:"CLAIM_LOG_WINDOW" envDefault:"9000"`
	RPCTimeout      time.Duration `env:"RPC_TIMEOUT" envDefault:"30s"`
	RPCRPS          int           `env:"RPC_RPS" envDefault:"20"`
	RPCBurst        int           `env:"RPC_BURST" envDefault:"40"`
	ReadParallelism int           `env:"READ_PARALLELISM" envDefault:"8"`

	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogEncoding string `env:"LOG_ENCODING" envDefault:"console"`
}

// Error is a missing or invalid configuration input. It is always fatal and is
// reported before any chain call.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads Config from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads Config from environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, &Error{Err: fmt.Errorf("parse env: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the env tags cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCEndpoint) == "" {
		return &Error{Field: "RPC_MAINNET", Err: errors.New("required")}
	}
	if c.ClaimLogWindow == 0 {
		return &Error{Field: "CLAIM_LOG_WINDOW", Err: errors.New("must be positive")}
	}
	if c.RPCRPS <= 0 || c.RPCBurst <= 0 {
		return &Error{Field: "RPC_RPS", Err: errors.New("rate and burst must be positive")}
	}
	if c.ReadParallelism <= 0 {
		return &Error{Field: "READ_PARALLELISM", Err: errors.New("must be positive")}
	}
	if c.SimulateAdvance < 0 {
		return &Error{Field: "SIMULATE_ADVANCE", Err: errors.New("must not be negative")}
	}
	if strings.TrimSpace(c.Output) == "" {
		return &Error{Field: "REPORT_OUTPUT", Err: errors.New("required")}
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return &Error{Field: "REPORT_SCHEDULE", Err: err}
		}
	}
	return nil
}

// SimulationEnabled reports whether a fork sandbox is configured.
func (c *Config) SimulationEnabled() bool {
	return strings.TrimSpace(c.ForkEndpoint) != ""
}
