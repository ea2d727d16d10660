package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/pricemodel"
	"oracle-pricemodel/internal/volatility"

	"github.com/joho/godotenv"
)

// Config holds estimator and infrastructure settings loaded from the
// environment. CLI flags override individual fields after Load.
type Config struct {
	// Volatility estimator
	Lookback       int
	CandleDuration time.Duration

	// Price estimator
	MinConfidence  float64
	MinSlot        time.Duration
	Timeout        time.Duration
	InitVolatility float64

	// Harness
	ConfTolerance float64

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	LogLevel      string
	Symbol        string
	AlertWebhook  string
}

// Load reads an optional .env file, then environment variables with defaults.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit .env path. A missing file is not an error;
// variables already set in the environment win over the file.
func LoadFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envPath, err)
	}

	p := &parser{}
	cfg := &Config{
		Lookback:       p.intVar("LOOKBACK", volatility.DefaultLookback),
		CandleDuration: p.seconds("CANDLE_SECS", volatility.DefaultCandleDuration),
		MinConfidence:  p.floatVar("MIN_INTERVAL", pricemodel.DefaultMinConfidence),
		MinSlot:        p.millis("MIN_SLOT_MS", pricemodel.DefaultMinSlot),
		Timeout:        p.millis("TIMEOUT_MS", pricemodel.DefaultTimeout),
		InitVolatility: p.floatVar("INIT_VOLATILITY", pricemodel.DefaultInitVolatility),
		ConfTolerance:  p.floatVar("CONF_TOLERANCE", 1e-5),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/pricemodel.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		Symbol:        getEnv("SYMBOL", "BTC/USD"),
		AlertWebhook:  getEnv("ALERT_WEBHOOK", ""),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the estimator settings.
func (c *Config) Validate() error {
	switch {
	case c.Lookback <= 0:
		return fmt.Errorf("lookback must be positive, got %d", c.Lookback)
	case c.CandleDuration <= 0:
		return fmt.Errorf("candle duration must be positive, got %v", c.CandleDuration)
	case c.MinConfidence < 0:
		return fmt.Errorf("min interval must be non-negative, got %g", c.MinConfidence)
	case c.MinSlot < 0:
		return fmt.Errorf("min slot must be non-negative, got %v", c.MinSlot)
	case c.Timeout <= 0:
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	case c.MinSlot >= c.Timeout:
		return fmt.Errorf("min slot %v must be below timeout %v", c.MinSlot, c.Timeout)
	case c.InitVolatility < 0:
		return fmt.Errorf("init volatility must be non-negative, got %g", c.InitVolatility)
	case c.ConfTolerance < 0:
		return fmt.Errorf("confidence tolerance must be non-negative, got %g", c.ConfTolerance)
	}
	return nil
}

// VolatilityOptions returns the candle estimator options.
func (c *Config) VolatilityOptions() []volatility.CandleOption {
	return []volatility.CandleOption{
		volatility.WithLookback(c.Lookback),
		volatility.WithCandleDuration(c.CandleDuration),
	}
}

// PriceOptions returns the price estimator options.
func (c *Config) PriceOptions() []pricemodel.Option {
	return []pricemodel.Option{
		pricemodel.WithMinConfidence(c.MinConfidence),
		pricemodel.WithMinSlot(c.MinSlot),
		pricemodel.WithTimeout(c.Timeout),
		pricemodel.WithInitVolatility(c.InitVolatility),
	}
}

// NewModel builds a fresh candle-backed price model from the settings.
func (c *Config) NewModel() model.PriceModel {
	return pricemodel.New(volatility.NewCandleModel(c.VolatilityOptions()...), c.PriceOptions()...)
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// parser keeps the first conversion error so Load reports one bad variable.
type parser struct {
	err error
}

func (p *parser) lookup(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != "" && p.err == nil
}

func (p *parser) fail(key, v string, err error) {
	p.err = fmt.Errorf("config: %s=%q: %w", key, v, err)
}

func (p *parser) intVar(key string, fallback int) int {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return n
}

func (p *parser) floatVar(key string, fallback float64) float64 {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return f
}

func (p *parser) seconds(key string, fallback time.Duration) time.Duration {
	return p.duration(key, fallback, time.Second)
}

func (p *parser) millis(key string, fallback time.Duration) time.Duration {
	return p.duration(key, fallback, time.Millisecond)
}

func (p *parser) duration(key string, fallback, unit time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return fallback
	}
	return time.Duration(n) * unit
}
