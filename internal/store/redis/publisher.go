package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"oracle-pricemodel/internal/model"
	"oracle-pricemodel/internal/timeutil"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL    = 30 * time.Minute
	defaultStreamMaxLen = 21600 // ~3h of quotes at the 500ms default slot
	defaultMaxPending   = 10000
	defaultMaxFailures  = 5
	defaultCooldown     = 10 * time.Second
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL    time.Duration // TTL of price:latest:{symbol}
	StreamMaxLen int64         // approximate cap on price:{symbol}
	MaxPending   int           // quotes kept while Redis is unavailable
}

func (c *Config) applyDefaults() {
	if c.LatestTTL <= 0 {
		c.LatestTTL = defaultLatestTTL
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamMaxLen
	}
	if c.MaxPending <= 0 {
		c.MaxPending = defaultMaxPending
	}
}

// Publisher writes quotes to Redis through a circuit breaker. While the
// breaker is open quotes are held in a bounded buffer (oldest dropped first)
// and replayed after the next successful write.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
	cfg    Config

	mu      sync.Mutex
	pending []model.Quote

	// Callbacks (optional)
	OnBuffer func()          // a quote was buffered
	OnFlush  func(count int) // buffered quotes were replayed
}

// New connects to Redis, pings it and returns a Publisher with a default breaker.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewPublisher(client, NewCircuitBreaker(defaultMaxFailures, defaultCooldown), cfg), nil
}

// NewPublisher wraps an existing client without pinging it.
func NewPublisher(client *goredis.Client, cb *CircuitBreaker, cfg Config) *Publisher {
	cfg.applyDefaults()
	return &Publisher{
		client:  client,
		cb:      cb,
		cfg:     cfg,
		pending: make([]model.Quote, 0, 64),
	}
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the circuit breaker guarding writes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.cb }

// Publish builds a quote for symbol at ts from an estimate and publishes it.
// ok == false publishes an unknown-status quote with zero price and confidence.
func (p *Publisher) Publish(ctx context.Context, symbol string, ts timeutil.Timestamp, est model.PriceEstimate, ok bool) error {
	return p.PublishQuote(ctx, model.NewQuote(symbol, ts.Time(), est, ok))
}

// PublishQuote writes q. Any quote that is not written is buffered and
// replayed after the next successful write. A write rejected by the open
// breaker returns nil; a failed Redis write returns its error.
func (p *Publisher) PublishQuote(ctx context.Context, q model.Quote) error {
	err := p.cb.Execute(func() error { return p.write(ctx, []model.Quote{q}) })
	if err != nil {
		p.buffer(q)
		if errors.Is(err, ErrCircuitOpen) {
			return nil
		}
		return err
	}
	p.flush(ctx)
	return nil
}

// write pipelines SET + XADD + PUBLISH for every quote in one roundtrip.
func (p *Publisher) write(ctx context.Context, quotes []model.Quote) error {
	pipe := p.client.Pipeline()
	for i := range quotes {
		q := &quotes[i]
		data := string(q.JSON())

		pipe.Set(ctx, LatestKey(q.Symbol), data, p.cfg.LatestTTL)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: StreamKey(q.Symbol),
			MaxLen: p.cfg.StreamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Publish(ctx, PubSubChannel(q.Symbol), data)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline (%d quotes): %w", len(quotes), err)
	}
	return nil
}

func (p *Publisher) buffer(q model.Quote) {
	p.mu.Lock()
	if len(p.pending) >= p.cfg.MaxPending {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, q)
	p.mu.Unlock()

	if p.OnBuffer != nil {
		p.OnBuffer()
	}
}

// flush replays buffered quotes. On failure they are put back in front of
// anything buffered meanwhile.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.pending
	p.pending = make([]model.Quote, 0, 64)
	p.mu.Unlock()

	if err := p.cb.Execute(func() error { return p.write(ctx, toFlush) }); err != nil {
		log.Printf("[redis] flush of %d buffered quotes failed: %v", len(toFlush), err)
		p.mu.Lock()
		p.pending = append(toFlush, p.pending...)
		if over := len(p.pending) - p.cfg.MaxPending; over > 0 {
			p.pending = p.pending[over:]
		}
		p.mu.Unlock()
		return
	}

	log.Printf("[redis] flushed %d buffered quotes", len(toFlush))
	if p.OnFlush != nil {
		p.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered quotes.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
