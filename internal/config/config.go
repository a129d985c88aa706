package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Gridix/gridix-core/internal/core"
	"github.com/Gridix/gridix-core/internal/tickmath"
)

type Mode string

type Variant string

const (
	ModeSim      Mode = "sim"
	ModeLive     Mode = "live"
	ModeBacktest Mode = "backtest"
)

const (
	VariantSwap   Variant = "swap"
	VariantRanged Variant = "ranged"
)

type Config struct {
	Mode           Mode                 `yaml:"mode"`
	InstanceID     string               `yaml:"instance_id"`
	State          StateConfig          `yaml:"state"`
	Crank          CrankConfig          `yaml:"crank"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Backtest       BacktestConfig       `yaml:"backtest"`
	Accounting     AccountingConfig     `yaml:"accounting"`
	Feed           FeedConfig           `yaml:"feed"`
	Logging        LogConfig            `yaml:"logging"`
	Registry       RegistryConfig       `yaml:"registry"`
	Tokens         []TokenConfig        `yaml:"tokens"`
	Strategies     []StrategyConfig     `yaml:"strategies"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

type CrankConfig struct {
	IntervalSec int64   `yaml:"interval_sec"`
	Caller      Address `yaml:"caller"`
}

type CircuitBreakerConfig struct {
	Enabled            bool  `yaml:"enabled"`
	MaxOracleFailures  int   `yaml:"max_oracle_failures"`
	MaxSwapFailures    int   `yaml:"max_swap_failures"`
	MaxCustodyFailures int   `yaml:"max_custody_failures"`
	CooldownSec        int64 `yaml:"cooldown_sec"`
	HalfOpenSuccesses  int   `yaml:"half_open_successes"`
}

type BacktestConfig struct {
	DataPath string `yaml:"data_path"`
}

type AccountingConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	TimeoutSec int64  `yaml:"timeout_sec"`
	QueueSize  int    `yaml:"queue_size"`
}

type FeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	WSURL   string `yaml:"ws_url"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type RegistryConfig struct {
	Owner           Address            `yaml:"owner"`
	FeeSink         Address            `yaml:"fee_sink"`
	SwapFeeBp       uint64             `yaml:"swap_fee_bp"`
	DefaultSlippage uint64             `yaml:"default_slippage"`
	Whitelist       []string           `yaml:"whitelist"`
	ExecutionFees   map[string]Decimal `yaml:"execution_fees"`
}

type TokenConfig struct {
	Symbol   string  `yaml:"symbol"`
	Address  Address `yaml:"address"`
	Decimals uint8   `yaml:"decimals"`
}

type StrategyConfig struct {
	Variant         Variant `yaml:"variant"`
	TokenA          string  `yaml:"token_a"`
	TokenB          string  `yaml:"token_b"`
	LowerPrice      Decimal `yaml:"lower_price"`
	UpperPrice      Decimal `yaml:"upper_price"`
	GridCount       uint64  `yaml:"grid_count"`
	TotalInvestment Decimal `yaml:"total_investment"`
	ExtraTokenB     Decimal `yaml:"extra_token_b"`
	TriggerPrice    Decimal `yaml:"trigger_price"`
	FeeTier         uint32  `yaml:"fee_tier"`
	Slippage        uint64  `yaml:"slippage"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return Config{}, fmt.Errorf("config must contain a single YAML document")
		}
		return Config{}, err
	}
	cfg.normalize()
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Mode = Mode(strings.ToLower(strings.TrimSpace(string(c.Mode))))
	c.InstanceID = strings.ToLower(strings.TrimSpace(c.InstanceID))
	c.State.Dir = strings.TrimSpace(c.State.Dir)
	c.Backtest.DataPath = strings.TrimSpace(c.Backtest.DataPath)
	c.Accounting.WebhookURL = strings.TrimSpace(c.Accounting.WebhookURL)
	c.Feed.WSURL = strings.TrimSpace(c.Feed.WSURL)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Output = strings.ToLower(strings.TrimSpace(c.Logging.Output))
	c.Logging.File = strings.TrimSpace(c.Logging.File)
	for i := range c.Tokens {
		c.Tokens[i].Symbol = strings.ToUpper(strings.TrimSpace(c.Tokens[i].Symbol))
	}
	for i := range c.Registry.Whitelist {
		c.Registry.Whitelist[i] = strings.ToUpper(strings.TrimSpace(c.Registry.Whitelist[i]))
	}
	if c.Registry.ExecutionFees != nil {
		fees := make(map[string]Decimal, len(c.Registry.ExecutionFees))
		for sym, fee := range c.Registry.ExecutionFees {
			fees[strings.ToUpper(strings.TrimSpace(sym))] = fee
		}
		c.Registry.ExecutionFees = fees
	}
	for i := range c.Strategies {
		c.Strategies[i].Variant = Variant(strings.ToLower(strings.TrimSpace(string(c.Strategies[i].Variant))))
		c.Strategies[i].TokenA = strings.ToUpper(strings.TrimSpace(c.Strategies[i].TokenA))
		c.Strategies[i].TokenB = strings.ToUpper(strings.TrimSpace(c.Strategies[i].TokenB))
	}
}

// applyEnv overlays the secrets-bearing fields from the environment so
// they can stay out of the checked-in YAML. The daemon loads .env before
// calling Load.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("GRIDIX_STATE_DIR")); v != "" {
		c.State.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("GRIDIX_WEBHOOK_URL")); v != "" {
		c.Accounting.WebhookURL = v
	}
	if v := strings.TrimSpace(os.Getenv("GRIDIX_FEED_WS_URL")); v != "" {
		c.Feed.WSURL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeSim
	}
	if c.InstanceID == "" {
		c.InstanceID = "default"
	}
	if c.State.Dir == "" {
		c.State.Dir = "state"
	}
	if c.Crank.IntervalSec == 0 {
		c.Crank.IntervalSec = 5
	}
	if c.CircuitBreaker.MaxOracleFailures == 0 {
		c.CircuitBreaker.MaxOracleFailures = 5
	}
	if c.CircuitBreaker.MaxSwapFailures == 0 {
		c.CircuitBreaker.MaxSwapFailures = 5
	}
	if c.CircuitBreaker.MaxCustodyFailures == 0 {
		c.CircuitBreaker.MaxCustodyFailures = 5
	}
	if c.CircuitBreaker.CooldownSec == 0 {
		c.CircuitBreaker.CooldownSec = 30
	}
	if c.CircuitBreaker.HalfOpenSuccesses == 0 {
		c.CircuitBreaker.HalfOpenSuccesses = 1
	}
	if c.Accounting.TimeoutSec == 0 {
		c.Accounting.TimeoutSec = 10
	}
	if c.Accounting.QueueSize == 0 {
		c.Accounting.QueueSize = 256
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "console"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
	if c.Registry.FeeSink.IsZero() {
		c.Registry.FeeSink = c.Registry.Owner
	}
	if c.Registry.DefaultSlippage == 0 {
		c.Registry.DefaultSlippage = 500
	}
	for i := range c.Strategies {
		if c.Strategies[i].FeeTier == 0 {
			c.Strategies[i].FeeTier = 3000
		}
		if c.Strategies[i].Slippage == 0 {
			c.Strategies[i].Slippage = c.Registry.DefaultSlippage
		}
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeSim, ModeLive, ModeBacktest:
	default:
		return fmt.Errorf("mode must be sim, live, or backtest")
	}
	if c.Mode == ModeBacktest && c.Backtest.DataPath == "" {
		return fmt.Errorf("backtest.data_path is required for backtest mode")
	}
	if !isValidInstanceID(c.InstanceID) {
		return fmt.Errorf("instance_id must match [a-z0-9_-], length 1..24")
	}
	if c.Crank.IntervalSec < 1 || c.Crank.IntervalSec > 3600 {
		return fmt.Errorf("crank.interval_sec must be between 1 and 3600")
	}
	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxOracleFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_oracle_failures must be >= 1")
		}
		if c.CircuitBreaker.MaxSwapFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_swap_failures must be >= 1")
		}
		if c.CircuitBreaker.MaxCustodyFailures < 1 {
			return fmt.Errorf("circuit_breaker.max_custody_failures must be >= 1")
		}
		if c.CircuitBreaker.CooldownSec < 1 || c.CircuitBreaker.CooldownSec > 3600 {
			return fmt.Errorf("circuit_breaker.cooldown_sec must be between 1 and 3600")
		}
		if c.CircuitBreaker.HalfOpenSuccesses < 1 || c.CircuitBreaker.HalfOpenSuccesses > 20 {
			return fmt.Errorf("circuit_breaker.half_open_successes must be between 1 and 20")
		}
	}
	if c.Accounting.Enabled {
		if err := validateURL(c.Accounting.WebhookURL, "http", "https"); err != nil {
			return fmt.Errorf("accounting.webhook_url %v", err)
		}
		if c.Accounting.TimeoutSec < 1 || c.Accounting.TimeoutSec > 120 {
			return fmt.Errorf("accounting.timeout_sec must be between 1 and 120")
		}
		if c.Accounting.QueueSize < 1 || c.Accounting.QueueSize > 65536 {
			return fmt.Errorf("accounting.queue_size must be between 1 and 65536")
		}
	}
	if c.Feed.Enabled {
		if err := validateURL(c.Feed.WSURL, "ws", "wss"); err != nil {
			return fmt.Errorf("feed.ws_url %v", err)
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error")
	}
	switch c.Logging.Output {
	case "console", "file", "both":
	default:
		return fmt.Errorf("logging.output must be console, file, or both")
	}
	if c.Logging.Output != "console" && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required for %s output", c.Logging.Output)
	}
	if c.Registry.Owner.IsZero() {
		return fmt.Errorf("registry.owner is required")
	}
	if c.Registry.SwapFeeBp > core.MaxSwapFeeBp {
		return fmt.Errorf("registry.swap_fee_bp must be <= %d", core.MaxSwapFeeBp)
	}
	if c.Registry.DefaultSlippage > core.MaxDefaultSlippage {
		return fmt.Errorf("registry.default_slippage must be <= %d", core.MaxDefaultSlippage)
	}
	seen := make(map[string]bool, len(c.Tokens))
	for _, tok := range c.Tokens {
		if tok.Symbol == "" || !isValidSymbol(tok.Symbol) {
			return fmt.Errorf("token symbol %q must match [A-Z0-9], length 1..20", tok.Symbol)
		}
		if seen[tok.Symbol] {
			return fmt.Errorf("duplicate token symbol %s", tok.Symbol)
		}
		seen[tok.Symbol] = true
		if tok.Address.IsZero() {
			return fmt.Errorf("token %s address is required", tok.Symbol)
		}
		if tok.Decimals > 36 {
			return fmt.Errorf("token %s decimals must be <= 36", tok.Symbol)
		}
	}
	for _, sym := range c.Registry.Whitelist {
		if !seen[sym] {
			return fmt.Errorf("registry.whitelist references unknown token %s", sym)
		}
	}
	for sym, fee := range c.Registry.ExecutionFees {
		if !seen[sym] {
			return fmt.Errorf("registry.execution_fees references unknown token %s", sym)
		}
		if fee.Cmp(decimal.Zero) < 0 {
			return fmt.Errorf("registry.execution_fees.%s must be >= 0", sym)
		}
	}
	for i, s := range c.Strategies {
		if err := s.validate(seen); err != nil {
			return fmt.Errorf("strategies[%d]: %v", i, err)
		}
	}
	return nil
}

func (s StrategyConfig) validate(tokens map[string]bool) error {
	switch s.Variant {
	case VariantSwap, VariantRanged:
	default:
		return fmt.Errorf("variant must be swap or ranged")
	}
	if !tokens[s.TokenA] {
		return fmt.Errorf("unknown token_a %q", s.TokenA)
	}
	if !tokens[s.TokenB] {
		return fmt.Errorf("unknown token_b %q", s.TokenB)
	}
	if s.TokenA == s.TokenB {
		return fmt.Errorf("token_a and token_b must differ")
	}
	if s.LowerPrice.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("lower_price must be > 0")
	}
	if s.UpperPrice.Cmp(s.LowerPrice.Decimal) <= 0 {
		return fmt.Errorf("upper_price must be > lower_price")
	}
	if s.GridCount < 1 {
		return fmt.Errorf("grid_count must be >= 1")
	}
	if s.TotalInvestment.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("total_investment must be >= 0")
	}
	if s.ExtraTokenB.Cmp(decimal.Zero) < 0 {
		return fmt.Errorf("extra_token_b must be >= 0")
	}
	if s.TriggerPrice.Cmp(decimal.Zero) <= 0 {
		return fmt.Errorf("trigger_price must be > 0")
	}
	if s.Slippage > core.MaxSlippage {
		return fmt.Errorf("slippage must be <= %d", core.MaxSlippage)
	}
	if s.Variant == VariantRanged {
		if _, ok := tickmath.TickSpacings[s.FeeTier]; !ok {
			return fmt.Errorf("fee_tier %d has no known tick spacing", s.FeeTier)
		}
	}
	return nil
}

// Token resolves a configured token by its normalized symbol.
func (c Config) Token(symbol string) (TokenConfig, bool) {
	for _, tok := range c.Tokens {
		if tok.Symbol == symbol {
			return tok, true
		}
	}
	return TokenConfig{}, false
}

func isValidInstanceID(v string) bool {
	if len(v) < 1 || len(v) > 24 {
		return false
	}
	for _, r := range v {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

func isValidSymbol(v string) bool {
	if len(v) < 1 || len(v) > 20 {
		return false
	}
	for _, r := range v {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func validateURL(raw string, schemes ...string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("must include scheme and host")
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("scheme must be %s", strings.Join(schemes, " or "))
}
